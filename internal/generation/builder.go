package generation

import (
	"errors"
	"fmt"
	"strings"

	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

var ErrValidation = errors.New("validation failed")

// ValidationError names the form field that blocks a submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Build assembles the outbound request. The aspect ratio is resolved
// against set; reference payloads are included front to back only when the
// set is not empty.
func Build(form Form, set *reference.Set, choice aspect.Choice) (Request, error) {
	prompt := strings.TrimSpace(form.Prompt)
	if prompt == "" {
		return Request{}, invalid("prompt", "prompt is empty")
	}

	mode := form.Mode
	if mode == "" {
		mode = TextToImage
	}
	if !mode.Valid() {
		return Request{}, invalid("mode", fmt.Sprintf("unknown mode %q", form.Mode))
	}

	resolution := form.Resolution
	if resolution == "" {
		resolution = ratio.Res1K
	}
	if !resolution.Valid() {
		return Request{}, invalid("resolution", fmt.Sprintf("unsupported resolution %q", form.Resolution))
	}

	if form.Steps <= 0 {
		return Request{}, invalid("steps", "inference steps must be positive")
	}
	if form.Guidance < 0 {
		return Request{}, invalid("guidance", "guidance scale must not be negative")
	}

	apiKey := strings.TrimSpace(form.APIKey)
	if mode == ImageToImage && apiKey == "" {
		return Request{}, invalid("api_key", "image-to-image requires your API key")
	}

	req := Request{
		Prompt:            prompt,
		GenerationMode:    mode,
		Resolution:        string(resolution),
		AspectRatio:       string(aspect.Resolve(choice, set)),
		GuidanceScale:     form.Guidance,
		NumInferenceSteps: form.Steps,
		Seed:              form.Seed,
		APIKey:            apiKey,
	}
	if negative := strings.TrimSpace(form.NegativePrompt); negative != "" {
		req.NegativePrompt = &negative
	}
	if set != nil && set.Len() > 0 {
		req.ReferenceImages = set.DataURIs()
	}
	return req, nil
}

// OutputSize is the pixel size the request will produce.
func (r Request) OutputSize() (int, int) {
	return ratio.Dimensions(ratio.Resolution(r.Resolution), ratio.Label(r.AspectRatio))
}
