package studio

import (
	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/reference"
)

// Event is a user action delivered to Session.Dispatch.
type Event interface {
	event()
}

// AddFiles comes from an explicit file pick. Files beyond the free slots
// are ignored silently.
type AddFiles struct {
	Files []reference.Upload
}

// DropFiles is a batch dropped at once. Non-images and overflow are
// reported.
type DropFiles struct {
	Files []reference.Upload
}

// PasteImage is a single pasted image.
type PasteImage struct {
	File reference.Upload
}

// Reorder moves reference ID to the 0-based Target position.
type Reorder struct {
	ID     string
	Target int
}

type RemoveReference struct {
	ID string
}

type ClearReferences struct{}

type SwitchMode struct {
	Mode generation.Mode
}

type SelectRatio struct {
	Choice aspect.Choice
}

// Field names an editable form value.
type Field string

const (
	FieldPrompt         Field = "prompt"
	FieldNegativePrompt Field = "negative_prompt"
	FieldResolution     Field = "resolution"
	FieldSteps          Field = "steps"
	FieldGuidance       Field = "guidance"
	FieldSeed           Field = "seed"
)

// SetForm assigns one form field from its text form. An empty seed (or
// "random") clears it.
type SetForm struct {
	Field Field
	Value string
}

func (AddFiles) event()        {}
func (DropFiles) event()       {}
func (PasteImage) event()      {}
func (Reorder) event()         {}
func (RemoveReference) event() {}
func (ClearReferences) event() {}
func (SwitchMode) event()      {}
func (SelectRatio) event()     {}
func (SetForm) event()         {}
