package aspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

func addDecoded(t *testing.T, s *reference.Set, id string, w, h int) {
	t.Helper()
	_, err := s.Add(reference.Image{ID: id, Width: w, Height: h}, false)
	require.NoError(t, err)
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in   string
		want Choice
	}{
		{"16:9", "16:9"},
		{" derived-2 ", "derived-2"},
		{"ref3", "derived-3"},
		{"REF1", "derived-1"},
	}
	for _, tt := range tests {
		got, err := ParseChoice(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"3:2", "derived-5", "derived-0", "ref", ""} {
		_, err := ParseChoice(bad)
		assert.Error(t, err, bad)
	}
}

func TestOptions_Visibility(t *testing.T) {
	set := reference.NewSet()

	opts := Options(set)
	require.Len(t, opts, 12)
	for i, o := range opts[:8] {
		assert.True(t, o.Visible)
		assert.Equal(t, Standard(ratio.Catalog()[i]), o.Key)
	}
	for _, o := range opts[8:] {
		assert.False(t, o.Visible, o.Key)
	}

	addDecoded(t, set, "a", 1920, 1080)
	addDecoded(t, set, "b", 0, 0)

	opts = Options(set)
	assert.True(t, opts[8].Visible)
	assert.Equal(t, "Reference 1 (16:9)", opts[8].Label)
	assert.True(t, opts[9].Visible)
	assert.Equal(t, "Reference 2", opts[9].Label)
	assert.False(t, opts[10].Visible)
	assert.False(t, opts[11].Visible)
}

func TestResolve(t *testing.T) {
	set := reference.NewSet()
	addDecoded(t, set, "a", 1080, 1920)

	assert.Equal(t, ratio.Wide, Resolve("16:9", set))
	assert.Equal(t, ratio.Tall, Resolve(Derived(1), set))
	assert.Equal(t, ratio.Default, Resolve(Derived(3), set))
	assert.Equal(t, ratio.Default, Resolve("bogus", set))
	assert.Equal(t, ratio.Default, Resolve(Derived(1), nil))
}

func TestResolve_UndecodedSlot(t *testing.T) {
	set := reference.NewSet()
	_, err := set.Add(reference.Image{ID: "pending"}, true)
	require.NoError(t, err)

	assert.Equal(t, ratio.Default, Resolve(Derived(1), set))

	set.SetDimensions("pending", 2560, 1080)
	assert.Equal(t, ratio.Ultrawide, Resolve(Derived(1), set))
}

func TestSelector_AutoSelectOncePerFillCycle(t *testing.T) {
	set := reference.NewSet()
	sel := NewSelector()
	fired := 0

	sync := func() {
		if sel.Sync(set) {
			fired++
		}
	}

	addDecoded(t, set, "a", 100, 100)
	sync()
	assert.Equal(t, Derived(1), sel.Choice())

	addDecoded(t, set, "b", 100, 100)
	sync()

	set.Remove("a")
	sync()
	set.Remove("b")
	sync()
	assert.Equal(t, Standard(ratio.Default), sel.Choice())
	assert.False(t, sel.AutoSelected())

	addDecoded(t, set, "c", 100, 100)
	sync()

	assert.Equal(t, 2, fired)
	assert.Equal(t, Derived(1), sel.Choice())
}

func TestSelector_ManualChoiceIsKept(t *testing.T) {
	set := reference.NewSet()
	sel := NewSelector()

	addDecoded(t, set, "a", 100, 100)
	require.True(t, sel.Sync(set))

	require.True(t, sel.Select("4:3"))
	addDecoded(t, set, "b", 100, 100)
	assert.False(t, sel.Sync(set))
	assert.Equal(t, Choice("4:3"), sel.Choice())
}

func TestSelector_ManualDerivedBeforeFirstReference(t *testing.T) {
	set := reference.NewSet()
	sel := NewSelector()

	require.True(t, sel.Select(Derived(2)))
	addDecoded(t, set, "a", 100, 100)

	assert.False(t, sel.Sync(set))
	assert.Equal(t, Derived(2), sel.Choice())
	assert.Equal(t, ratio.Default, Resolve(sel.Choice(), set))
}

func TestSelector_EmptySetFallsBack(t *testing.T) {
	set := reference.NewSet()
	sel := NewSelector()
	require.True(t, sel.Select(Derived(3)))

	sel.Sync(set)
	assert.Equal(t, Standard(ratio.Default), sel.Choice())

	require.True(t, sel.Select("21:9"))
	sel.Sync(set)
	assert.Equal(t, Choice("21:9"), sel.Choice(), "standard choices survive an empty set")
}

func TestSelector_SelectRejectsInvalid(t *testing.T) {
	sel := NewSelector()
	assert.False(t, sel.Select("7:5"))
	assert.Equal(t, Standard(ratio.Default), sel.Choice())
}
