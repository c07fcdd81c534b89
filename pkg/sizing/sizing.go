// Package sizing picks the download tier for an image given its original width.
//
// Tiers are ordered from largest to smallest. A tier is usable when its width
// ceiling is unconstrained or does not exceed the original width, so small
// originals fall back towards "original" rather than asking the site to upscale.
package sizing

import "strings"

// Tier names a download size offered by the site
type Tier string

const (
	Original Tier = "original"
	Large    Tier = "large"
	Medium   Tier = "medium"
	Small    Tier = "small"
)

// ceilings holds the width limit of each tier; 0 means unconstrained
var ceilings = map[Tier]int{
	Original: 0,
	Large:    2400,
	Medium:   1920,
	Small:    640,
}

var order = []Tier{Original, Large, Medium, Small}

// Selection is the tier chosen for one entry and the width requested with it.
// A nil Width means no constraint is sent.
type Selection struct {
	Size  Tier
	Width *int
}

// Tiers returns the tier names in order
func Tiers() []Tier {
	out := make([]Tier, len(order))
	copy(out, order)
	return out
}

// ParseTier normalises a tier name. Unknown names map to Original and ok is false.
func ParseTier(name string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := ceilings[t]; !ok {
		return Original, false
	}
	return t, true
}

// Ceiling returns the width limit of a tier, or nil when it is unconstrained
func Ceiling(t Tier) *int {
	c, ok := ceilings[t]
	if !ok || c == 0 {
		return nil
	}
	return &c
}

// Select returns the tier to request for an image of the given original width.
func Select(originalWidth *int, preferred Tier) Selection {
	start := -1
	for i, t := range order {
		if t == preferred {
			start = i
			break
		}
	}
	if start < 0 {
		return Selection{Size: Original}
	}

	if originalWidth == nil {
		return Selection{Size: preferred, Width: Ceiling(preferred)}
	}

	for _, t := range order[start:] {
		c := ceilings[t]
		if c == 0 || c <= *originalWidth {
			return Selection{Size: t, Width: Ceiling(t)}
		}
	}

	return Selection{Size: Original}
}
