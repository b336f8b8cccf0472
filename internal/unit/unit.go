// Package unit identifies navigable units of a deck: a slide addressed by its
// horizontal and vertical index, optionally narrowed to one fragment step.
package unit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned when an address string cannot be parsed.
var ErrInvalidAddress = errors.New("unit: invalid address")

// Address identifies a slide (F < 0) or a fragment step within a slide.
type Address struct {
	H int
	V int
	F int
}

// Slide returns the whole-unit address of the slide at (h, v).
func Slide(h, v int) Address {
	return Address{H: h, V: v, F: -1}
}

// Fragment returns the address of fragment f on the slide at (h, v).
// A negative f yields the whole-unit address.
func Fragment(h, v, f int) Address {
	if f < 0 {
		f = -1
	}
	return Address{H: h, V: v, F: f}
}

// HasFragment reports whether the address targets a single fragment step.
func (a Address) HasFragment() bool {
	return a.F >= 0
}

// Unit returns the whole-unit address of the slide containing a.
func (a Address) Unit() Address {
	return Slide(a.H, a.V)
}

// Compare orders addresses in navigation order: h, then v, then f, with the
// whole unit ahead of its fragments.
func (a Address) Compare(b Address) int {
	switch {
	case a.H != b.H:
		return cmpInt(a.H, b.H)
	case a.V != b.V:
		return cmpInt(a.V, b.V)
	}
	af, bf := a.F, b.F
	if af < 0 {
		af = -1
	}
	if bf < 0 {
		bf = -1
	}
	return cmpInt(af, bf)
}

// Less reports whether a comes before b in navigation order.
func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

// String returns "h.v" or "h.v.f".
func (a Address) String() string {
	if a.HasFragment() {
		return fmt.Sprintf("%d.%d.%d", a.H, a.V, a.F)
	}
	return fmt.Sprintf("%d.%d", a.H, a.V)
}

// PlayerID returns the identifier of the audio player bound to the address.
func (a Address) PlayerID() string {
	return "audioplayer-" + a.String()
}

// Filename returns the archive entry name for the address, "h.v[.f].ext".
func (a Address) Filename(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return a.String()
	}
	return a.String() + "." + ext
}

// Parse reads an address in "h.v" or "h.v.f" form.
func Parse(s string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		nums[i] = n
	}
	if len(nums) == 3 {
		return Fragment(nums[0], nums[1], nums[2]), nil
	}
	return Slide(nums[0], nums[1]), nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
