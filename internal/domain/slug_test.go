package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple name", input: "Lightning Bolt", expected: "lightning-bolt"},
		{name: "already a slug", input: "lightning-bolt", expected: "lightning-bolt"},
		{name: "apostrophe", input: "Urza's Tower", expected: "urza-s-tower"},
		{name: "comma and hyphen", input: "Niv-Mizzet, Parun", expected: "niv-mizzet-parun"},
		{name: "split card", input: "Fire // Ice", expected: "fire-ice"},
		{name: "diacritics folded", input: "Lim-Dûl's Vault", expected: "lim-dul-s-vault"},
		{name: "ligature folded", input: "Æther Vial", expected: "aether-vial"},
		{name: "digits kept", input: "Borrowing 100,000 Arrows", expected: "borrowing-100-000-arrows"},
		{name: "leading and trailing punctuation dropped", input: "  +2 Mace!  ", expected: "2-mace"},
		{name: "empty", input: "", expected: ""},
		{name: "punctuation only", input: "—//—", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, domain.Slugify(tt.input))
		})
	}
}

func TestSlugify_Idempotent(t *testing.T) {
	inputs := []string{
		"Lightning Bolt",
		"Lim-Dûl's Vault",
		"Fire // Ice",
		"Borrowing 100,000 Arrows",
	}
	for _, input := range inputs {
		once := domain.Slugify(input)
		assert.Equal(t, once, domain.Slugify(once), input)
	}
}
