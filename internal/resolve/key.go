package resolve

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

// Key identifies a candidate within its origin system.
type Key struct {
	Origin   string
	OriginID *string
}

// KeyOf returns the identity key of a mapped candidate.
func KeyOf(origin string, c *model.Candidate) Key {
	return Key{Origin: origin, OriginID: model.StringPtr(c.OriginIDValue())}
}

// HasID reports whether the key carries an origin identifier.
func (k Key) HasID() bool {
	return k.OriginID != nil && *k.OriginID != ""
}

func (k Key) String() string {
	if !k.HasID() {
		return k.Origin + ":<none>"
	}
	return k.Origin + ":" + *k.OriginID
}

// MatchKey builds the heuristic identity used when an origin assigns no
// identifier: folded name, state (or jurisdiction), office, district, and
// cycle joined by "|". "Smith, Adám" and "SMITH ADAM" produce the same key.
func MatchKey(c *model.Candidate) string {
	place := c.State
	if place == "" {
		place = c.Jurisdiction
	}
	return strings.Join([]string{
		fold(c.Name),
		fold(place),
		fold(c.Office),
		fold(c.District),
		strconv.Itoa(c.Cycle),
	}, "|")
}

// fold strips accents, upper-cases, and collapses punctuation and
// whitespace runs into single spaces.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(out) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
