package domain

import (
	"strings"
	"unicode"
)

// diacritics folds the accented letters that actually occur in card names
// (e.g. "Lim-Dûl", "Æther", "Séance") so lookups survive ASCII input
var diacritics = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "ö", "o", "õ", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c",
	"æ", "ae", "œ", "oe", "ß", "ss",
)

// Slugify normalizes a card name for indexed lookups: lowercase, diacritics
// folded, every run of non-alphanumerics collapsed to a single hyphen.
// The result is stable: Slugify(Slugify(x)) == Slugify(x).
func Slugify(name string) string {
	lower := diacritics.Replace(strings.ToLower(name))

	var b strings.Builder
	b.Grow(len(lower))
	pendingHyphen := false
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		} else {
			pendingHyphen = true
		}
	}

	return b.String()
}
