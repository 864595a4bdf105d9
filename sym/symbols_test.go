package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlyphsAreUnique(t *testing.T) {
	seen := make(map[string]string)
	for name, glyph := range All() {
		assert.NotEmpty(t, glyph, "glyph for %s", name)
		if other, ok := seen[glyph]; ok {
			t.Errorf("glyph %q used by both %s and %s", glyph, name, other)
		}
		seen[glyph] = name
	}
}
