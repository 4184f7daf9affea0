package ratio

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Label is one of the standard aspect ratios supported by the generator.
type Label string

const (
	Square    Label = "1:1"
	Wide      Label = "16:9"
	Tall      Label = "9:16"
	Classic   Label = "4:3"
	Portrait  Label = "3:4"
	Ultrawide Label = "21:9"
	Print     Label = "5:4"
	PhotoTall Label = "2:3"

	// Default is used whenever a ratio cannot be derived.
	Default Label = Square
)

var ErrNonPositive = errors.New("ratio: width and height must be positive")

type entry struct {
	label Label
	w, h  int
	value float64
}

// catalog order is the tie-break order for Normalize.
var catalog = []entry{
	{label: Square, w: 1, h: 1},
	{label: Wide, w: 16, h: 9},
	{label: Tall, w: 9, h: 16},
	{label: Classic, w: 4, h: 3},
	{label: Portrait, w: 3, h: 4},
	{label: Ultrawide, w: 21, h: 9},
	{label: Print, w: 5, h: 4},
	{label: PhotoTall, w: 2, h: 3},
}

func init() {
	for i := range catalog {
		catalog[i].value = float64(catalog[i].w) / float64(catalog[i].h)
	}
}

// Catalog returns the standard labels in their stable order.
func Catalog() []Label {
	out := make([]Label, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e.label)
	}
	return out
}

func (l Label) String() string {
	return string(l)
}

// Valid reports whether l is part of the standard catalog.
func (l Label) Valid() bool {
	_, ok := lookup(l)
	return ok
}

// ParseLabel accepts labels such as "16:9" (surrounding spaces ignored).
func ParseLabel(value string) (Label, error) {
	l := Label(strings.TrimSpace(value))
	if !l.Valid() {
		return "", fmt.Errorf("ratio: unsupported aspect ratio %q", value)
	}
	return l, nil
}

// Reduce divides width and height by their greatest common divisor.
func Reduce(width, height int) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, ErrNonPositive
	}
	d := gcd(width, height)
	return width / d, height / d, nil
}

// Normalize returns the catalog label whose ratio is nearest to width/height.
// Equidistant candidates resolve to the earlier catalog entry.
func Normalize(width, height int) Label {
	if width <= 0 || height <= 0 {
		return Default
	}

	current := float64(width) / float64(height)
	best := Default
	minDiff := math.Inf(1)
	for _, e := range catalog {
		diff := math.Abs(current - e.value)
		if diff < minDiff {
			minDiff = diff
			best = e.label
		}
	}
	return best
}

func lookup(l Label) (entry, bool) {
	for _, e := range catalog {
		if e.label == l {
			return e, true
		}
	}
	return entry{}, false
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
