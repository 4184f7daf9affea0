package aspect

import (
	"fmt"
	"strconv"
	"strings"

	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

// Choice is the key of a selectable aspect ratio: either a standard label
// ("16:9") or "derived-N", the ratio of reference N.
type Choice string

const derivedPrefix = "derived-"

// Derived returns the choice bound to reference n (1-based).
func Derived(n int) Choice {
	return Choice(derivedPrefix + strconv.Itoa(n))
}

func Standard(l ratio.Label) Choice {
	return Choice(l)
}

// Slot returns the 1-based reference number of a derived choice.
func (c Choice) Slot() (int, bool) {
	raw, ok := strings.CutPrefix(string(c), derivedPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > reference.MaxImages {
		return 0, false
	}
	return n, true
}

func (c Choice) IsDerived() bool {
	_, ok := c.Slot()
	return ok
}

func (c Choice) IsStandard() bool {
	return ratio.Label(c).Valid()
}

func (c Choice) Valid() bool {
	return c.IsStandard() || c.IsDerived()
}

// ParseChoice accepts standard labels, "derived-N" and the short form "refN".
func ParseChoice(value string) (Choice, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if raw, ok := strings.CutPrefix(value, "ref"); ok {
		value = derivedPrefix + raw
	}
	c := Choice(value)
	if !c.Valid() {
		return "", fmt.Errorf("aspect: unknown choice %q", value)
	}
	return c, nil
}

// Option is one entry of the ratio picker.
type Option struct {
	Key     Choice
	Label   string
	Visible bool
}

// Options lists the 8 standard ratios followed by derived-1..4. A derived
// option is visible only while its reference slot exists.
func Options(set *reference.Set) []Option {
	out := make([]Option, 0, len(ratio.Catalog())+reference.MaxImages)
	for _, l := range ratio.Catalog() {
		out = append(out, Option{Key: Standard(l), Label: l.String(), Visible: true})
	}

	n := 0
	if set != nil {
		n = set.Len()
	}
	for i := 1; i <= reference.MaxImages; i++ {
		label := fmt.Sprintf("Reference %d", i)
		if set != nil {
			if img, ok := set.At(i - 1); ok && img.Label != "" {
				label = fmt.Sprintf("Reference %d (%s)", i, img.Label)
			}
		}
		out = append(out, Option{Key: Derived(i), Label: label, Visible: i <= n})
	}
	return out
}

// Resolve turns a choice into the label sent to the backend. A derived
// choice whose slot is missing or undecoded resolves to 1:1.
func Resolve(choice Choice, set *reference.Set) ratio.Label {
	if choice.IsStandard() {
		return ratio.Label(choice)
	}

	n, ok := choice.Slot()
	if !ok || set == nil {
		return ratio.Default
	}
	img, ok := set.At(n - 1)
	if !ok {
		return ratio.Default
	}
	if img.Label.Valid() {
		return img.Label
	}
	if !img.Decoded() {
		return ratio.Default
	}

	label := ratio.Normalize(img.Width, img.Height)
	set.SetLabel(img.ID, label)
	return label
}

// Selector holds the active choice and the one-shot auto-selection latch.
type Selector struct {
	choice       Choice
	autoSelected bool
}

func NewSelector() *Selector {
	return &Selector{choice: Standard(ratio.Default)}
}

func (s *Selector) Choice() Choice {
	return s.choice
}

// AutoSelected reports whether derived-1 was picked automatically during
// the current fill cycle.
func (s *Selector) AutoSelected() bool {
	return s.autoSelected
}

// Select records a manual choice. Invalid keys are ignored.
func (s *Selector) Select(c Choice) bool {
	if !c.Valid() {
		return false
	}
	s.choice = c
	return true
}

// Sync reconciles the selector with the set after a mutation. It returns
// true when derived-1 was selected automatically.
func (s *Selector) Sync(set *reference.Set) bool {
	if set == nil || set.Len() == 0 {
		s.autoSelected = false
		if s.choice.IsDerived() {
			s.choice = Standard(ratio.Default)
		}
		return false
	}

	if s.autoSelected || !s.choice.IsStandard() {
		return false
	}
	s.choice = Derived(1)
	s.autoSelected = true
	return true
}

func (s *Selector) Reset() {
	s.choice = Standard(ratio.Default)
	s.autoSelected = false
}
