package ratio

import (
	"fmt"
	"math"
	"strings"
)

// Resolution is the output size class accepted by the backend.
type Resolution string

const (
	Res1K Resolution = "1K"
	Res2K Resolution = "2K"
	Res4K Resolution = "4K"
)

const dimensionStep = 8

var longEdges = map[Resolution]int{
	Res1K: 1024,
	Res2K: 2048,
	Res4K: 4096,
}

func Resolutions() []Resolution {
	return []Resolution{Res1K, Res2K, Res4K}
}

func (r Resolution) Valid() bool {
	_, ok := longEdges[r]
	return ok
}

func ParseResolution(value string) (Resolution, error) {
	r := Resolution(strings.ToUpper(strings.TrimSpace(value)))
	if !r.Valid() {
		return "", fmt.Errorf("ratio: unsupported resolution %q", value)
	}
	return r, nil
}

// Dimensions maps a resolution and label to output pixels. The long edge is
// fixed by the resolution; the short edge is rounded to a multiple of 8.
// Unknown inputs fall back to 1K and 1:1.
func Dimensions(res Resolution, label Label) (int, int) {
	long, ok := longEdges[res]
	if !ok {
		long = longEdges[Res1K]
	}
	e, ok := lookup(label)
	if !ok {
		e, _ = lookup(Default)
	}

	if e.w == e.h {
		return long, long
	}

	short := roundToStep(float64(long)*float64(min(e.w, e.h))/float64(max(e.w, e.h)), dimensionStep)
	if e.w > e.h {
		return long, short
	}
	return short, long
}

func roundToStep(v float64, step int) int {
	n := int(math.Round(v/float64(step))) * step
	if n < step {
		return step
	}
	return n
}
