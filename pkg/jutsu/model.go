package jutsu

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is one of the fixed stream resolutions served by the site.
type Tier int

const (
	Tier360 Tier = iota + 1
	Tier480
	Tier720
	Tier1080
)

var tierCodes = map[Tier]string{
	Tier360:  "360",
	Tier480:  "480",
	Tier720:  "720",
	Tier1080: "1080",
}

// Tiers returns every known tier in ascending order.
func Tiers() []Tier {
	return []Tier{Tier360, Tier480, Tier720, Tier1080}
}

// ParseTier classifies a resolution attribute value ("360", "480", "720", "1080").
func ParseTier(code string) (Tier, error) {
	for t, c := range tierCodes {
		if c == code {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownQualityTier, code)
}

// Code returns the resolution attribute value of the tier.
func (t Tier) Code() string {
	return tierCodes[t]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierCodes[t]
	return ok
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQualityTier, int(t))
	}
	return []byte(t.Code()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Variant is a stream of an episode in one tier.
// Full equality (==) compares the URL too; use SameTier to ignore it.
type Variant struct {
	Tier Tier   `json:"tier"`
	URL  string `json:"url"`
}

// SameTier reports whether both variants are of the same tier, whatever URL backs them.
func (v Variant) SameTier(o Variant) bool {
	return v.Tier == o.Tier
}

// Variants is a set of variants, unique by tier and kept sorted by tier.
type Variants []Variant

// NewVariants builds a set from vs. When a tier repeats, the first occurrence wins.
func NewVariants(vs ...Variant) Variants {
	set := make(Variants, 0, len(vs))
	for _, v := range vs {
		if _, ok := set.Find(v.Tier); ok {
			continue
		}
		set = append(set, v)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Tier < set[j].Tier })
	return set
}

// Find returns the variant of tier t.
func (vs Variants) Find(t Tier) (Variant, bool) {
	for _, v := range vs {
		if v.Tier == t {
			return v, true
		}
	}
	return Variant{}, false
}

// Has reports whether the set contains a variant tier-equal to v.
func (vs Variants) Has(v Variant) bool {
	_, ok := vs.Find(v.Tier)
	return ok
}

// Equal compares two sets including URLs.
func (vs Variants) Equal(o Variants) bool {
	if len(vs) != len(o) {
		return false
	}
	for i := range vs {
		if vs[i] != o[i] {
			return false
		}
	}
	return true
}

func (vs Variants) clone() Variants {
	if vs == nil {
		return nil
	}
	return append(Variants(nil), vs...)
}

// Episode is a single episode page of a show.
type Episode struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Qualities Variants `json:"qualities"`
}

// Key identifies an episode by name, URL and qualities, so it can be used as a set key.
func (e Episode) Key() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteByte(0)
	b.WriteString(e.URL)
	for _, v := range e.Qualities {
		b.WriteByte(0)
		b.WriteString(v.Tier.Code())
		b.WriteByte('=')
		b.WriteString(v.URL)
	}
	return b.String()
}

// Equal compares name, URL and qualities.
func (e Episode) Equal(o Episode) bool {
	return e.Name == o.Name && e.URL == o.URL && e.Qualities.Equal(o.Qualities)
}

// Clone returns a deep copy of the episode.
func (e Episode) Clone() Episode {
	e.Qualities = e.Qualities.clone()
	return e
}

// Show is an entry of the site listing.
type Show struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Episodes []Episode `json:"episodes"`
}

// Clone returns a deep copy of the show.
func (s Show) Clone() Show {
	if s.Episodes != nil {
		episodes := make([]Episode, len(s.Episodes))
		for i, e := range s.Episodes {
			episodes[i] = e.Clone()
		}
		s.Episodes = episodes
	}
	return s
}
