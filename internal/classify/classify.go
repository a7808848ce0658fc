// Package classify derives destination path and naming metadata from a
// print's semantic fields. Every function here is pure and total: identical
// input always yields the same single bucket, and no input panics.
package classify

import (
	"fmt"
	"path"
	"strings"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// LandBucket classifies a land print for destination routing
type LandBucket string

const (
	// LandNone marks prints that are not lands
	LandNone LandBucket = "none"
	// LandBasic marks the five basic land types and their variants
	LandBasic LandBucket = "basic"
	// LandDual marks non-basic lands producing more than one color
	LandDual LandBucket = "dual"
	// LandSpecial marks every other non-basic land
	LandSpecial LandBucket = "special"
)

// ArtType is the canonical art treatment bucket. Overlapping signals always
// resolve in fixed priority order: textless > borderless > showcase >
// extended > retro > full-art > standard.
type ArtType string

const (
	ArtTextless   ArtType = "textless"
	ArtBorderless ArtType = "borderless"
	ArtShowcase   ArtType = "showcase"
	ArtExtended   ArtType = "extended"
	ArtRetro      ArtType = "retro"
	ArtFullArt    ArtType = "fullart"
	ArtStandard   ArtType = "standard"
)

// basicLandTypes are the five basic land subtypes counted when deciding
// whether a non-basic land is a dual
var basicLandTypes = []string{"Plains", "Island", "Swamp", "Mountain", "Forest"}

// specialLandSets overrides classification for sets whose lands get special
// treatment regardless of their type line (expedition/masterpiece reprints)
var specialLandSets = map[string]struct{}{
	"exp": {},
	"zne": {},
	"sld": {},
}

// nonCreatureTokenKinds is the ordered list of recognized non-creature token
// kinds. First match wins; anything unmatched falls through to the catch-all.
var nonCreatureTokenKinds = []string{
	"treasure",
	"food",
	"clue",
	"blood",
	"map",
	"gold",
	"powerstone",
	"shard",
	"incubator",
	"junk",
	"emblem",
}

// Land buckets a print's land classification. Order matters: the basic flag
// wins over everything, set overrides win over type analysis.
func Land(p *schema.Print) LandBucket {
	if p == nil || !containsType(p.TypeLine, "Land") {
		return LandNone
	}
	if p.IsBasicLand {
		return LandBasic
	}
	if _, ok := specialLandSets[strings.ToLower(p.SetCode)]; ok {
		return LandSpecial
	}

	types := 0
	for _, t := range basicLandTypes {
		if containsType(p.TypeLine, t) {
			types++
		}
	}
	if types >= 2 {
		return LandDual
	}
	if producesMultipleColors(p.OracleText) {
		return LandDual
	}

	return LandSpecial
}

// Token buckets a token print: creature tokens key on power/toughness,
// non-creature tokens on their kind, with a catch-all default. Non-token
// prints bucket as "card".
func Token(p *schema.Print) string {
	if p == nil {
		return "token"
	}
	if !p.IsToken {
		return "card"
	}

	if containsType(p.TypeLine, "Creature") && p.Power != nil && p.Toughness != nil {
		return sanitizeStat(*p.Power) + "-" + sanitizeStat(*p.Toughness)
	}

	name := strings.ToLower(p.Name)
	for _, kind := range nonCreatureTokenKinds {
		if strings.Contains(name, kind) {
			return kind
		}
	}

	return "token"
}

// Art derives the canonical art treatment from overlapping frame signals
func Art(p *schema.Print) ArtType {
	if p == nil {
		return ArtStandard
	}
	switch {
	case p.Textless:
		return ArtTextless
	case strings.EqualFold(p.BorderColor, "borderless"):
		return ArtBorderless
	case hasFrameEffect(p, "showcase"):
		return ArtShowcase
	case hasFrameEffect(p, "extendedart"):
		return ArtExtended
	case p.Frame == "1993" || p.Frame == "1997":
		return ArtRetro
	case p.FullArt:
		return ArtFullArt
	default:
		return ArtStandard
	}
}

// DestinationFor maps a print to its relative destination path under the
// output root. The path embeds set, collector number and language so every
// print in an index maps to a distinct file.
func DestinationFor(root string, p *schema.Print) string {
	filename := buildFilename(p)

	var dir string
	switch {
	case p != nil && p.IsToken:
		dir = path.Join("tokens", Token(p))
	case Land(p) == LandBasic:
		dir = path.Join("lands", string(LandBasic), strings.ToLower(p.SetCode))
	case Land(p) == LandDual:
		dir = path.Join("lands", string(LandDual))
	case Land(p) == LandSpecial:
		dir = path.Join("lands", string(LandSpecial))
	default:
		dir = "cards"
	}

	if p != nil {
		if art := Art(p); art != ArtStandard {
			filename = string(art) + "-" + filename
		}
	}

	return path.Join(root, dir, filename)
}

func buildFilename(p *schema.Print) string {
	if p == nil {
		return "unknown.jpg"
	}

	name := p.NameSlug
	if name == "" {
		name = domain.Slugify(p.Name)
	}
	if name == "" {
		name = p.ID
	}

	parts := []string{name, strings.ToLower(p.SetCode), strings.ToLower(p.CollectorNumber)}
	if p.Lang != "" && p.Lang != "en" {
		parts = append(parts, strings.ToLower(p.Lang))
	}

	return strings.Join(parts, "-") + imageExtension(p.ImageURL)
}

// imageExtension picks the file extension from the image reference,
// defaulting to .jpg for unknown or missing references
func imageExtension(imageURL string) string {
	trimmed := imageURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".png":
		return ".png"
	case ".jpg", ".jpeg":
		return ".jpg"
	case ".webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// containsType reports whether the type line carries the given word,
// tolerating nil-ish empty type lines
func containsType(typeLine, word string) bool {
	if typeLine == "" {
		return false
	}
	for _, field := range strings.FieldsFunc(typeLine, func(r rune) bool {
		return r == ' ' || r == '—' || r == '/'
	}) {
		if field == word {
			return true
		}
	}
	return false
}

func hasFrameEffect(p *schema.Print, effect string) bool {
	for _, fe := range p.FrameEffects {
		if strings.EqualFold(fe, effect) {
			return true
		}
	}
	return false
}

// producesMultipleColors reports whether rules text adds two or more
// different colors of mana
func producesMultipleColors(oracleText string) bool {
	if oracleText == "" {
		return false
	}
	colors := map[byte]struct{}{}
	for _, symbol := range []string{"{W}", "{U}", "{B}", "{R}", "{G}"} {
		if strings.Contains(oracleText, symbol) {
			colors[symbol[1]] = struct{}{}
		}
	}
	if strings.Contains(oracleText, "any color") {
		return true
	}
	return len(colors) >= 2
}

// sanitizeStat folds variable power/toughness ("*", "1+*") into
// filesystem-safe tokens
func sanitizeStat(stat string) string {
	if stat == "" {
		return "x"
	}
	var b strings.Builder
	for _, r := range stat {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '*':
			b.WriteString("star")
		case r == '+':
			b.WriteString("plus")
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

// Describe renders the full classification of a print for logs and summaries
func Describe(p *schema.Print) string {
	return fmt.Sprintf("land=%s token=%s art=%s", Land(p), Token(p), Art(p))
}
