// README: Address fragment to approximate coordinate lookup (area table, then Google Maps).
package geocode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"dispatchd/internal/types"
)

var ErrNoMatch = errors.New("no matching area")

type Geocoder interface {
	Lookup(ctx context.Context, address string) (types.Point, error)
}

type Area struct {
	Name    string   `yaml:"name"`
	Lat     float64  `yaml:"lat"`
	Lng     float64  `yaml:"lng"`
	Aliases []string `yaml:"aliases"`
}

type tableFile struct {
	Areas []Area `yaml:"areas"`
}

type entry struct {
	key   string
	point types.Point
}

// Table matches whole words of the address against area names and aliases,
// ignoring case and accents. The longest matching key wins, so
// "Grand Yoff" beats "Yoff".
type Table struct {
	entries []entry
}

func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseTable(data)
}

func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing area table: %w", err)
	}
	t := &Table{}
	for _, a := range f.Areas {
		p := types.Point{Lat: a.Lat, Lng: a.Lng}
		if !p.Valid() {
			return nil, fmt.Errorf("area %q: invalid coordinates %v,%v", a.Name, a.Lat, a.Lng)
		}
		for _, k := range append([]string{a.Name}, a.Aliases...) {
			if key := normalize(k); key != "" {
				t.entries = append(t.entries, entry{key: key, point: p})
			}
		}
	}
	return t, nil
}

func (t *Table) Len() int { return len(t.entries) }

func (t *Table) Lookup(_ context.Context, address string) (types.Point, error) {
	haystack := " " + normalize(address) + " "
	best := -1
	for i, e := range t.entries {
		if !strings.Contains(haystack, " "+e.key+" ") {
			continue
		}
		if best < 0 || len(e.key) > len(t.entries[best].key) {
			best = i
		}
	}
	if best < 0 {
		return types.Point{}, ErrNoMatch
	}
	return t.entries[best].point, nil
}

// normalize lower-cases s, strips diacritics and collapses everything that is
// not a letter or digit into single spaces.
func normalize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// Chain tries each geocoder in order and returns the first match.
type Chain []Geocoder

func (c Chain) Lookup(ctx context.Context, address string) (types.Point, error) {
	var errs []error
	for _, g := range c {
		p, err := g.Lookup(ctx, address)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNoMatch) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return types.Point{}, errors.Join(append([]error{ErrNoMatch}, errs...)...)
	}
	return types.Point{}, ErrNoMatch
}
