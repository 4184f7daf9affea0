package generation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

func TestBuild_EmptyPrompt(t *testing.T) {
	form := DefaultForm()
	form.Prompt = "   "

	_, err := Build(form, reference.NewSet(), "1:1")
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "prompt", verr.Field)
}

func TestBuild_ImageToImageRequiresAPIKey(t *testing.T) {
	form := DefaultForm()
	form.Prompt = "banana astronaut"
	form.Mode = ImageToImage

	_, err := Build(form, reference.NewSet(), "1:1")
	require.ErrorIs(t, err, ErrValidation)

	form.Mode = TextToImage
	_, err = Build(form, reference.NewSet(), "1:1")
	assert.NoError(t, err, "text-to-image may rely on the service key")
}

func TestBuild_RejectsBadParameters(t *testing.T) {
	base := DefaultForm()
	base.Prompt = "x"

	tests := []struct {
		name  string
		edit  func(*Form)
		field string
	}{
		{"mode", func(f *Form) { f.Mode = "sketch" }, "mode"},
		{"resolution", func(f *Form) { f.Resolution = "8K" }, "resolution"},
		{"steps", func(f *Form) { f.Steps = 0 }, "steps"},
		{"guidance", func(f *Form) { f.Guidance = -1 }, "guidance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := base
			tt.edit(&form)
			_, err := Build(form, nil, "1:1")
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuild_FullRequest(t *testing.T) {
	set := reference.NewSet()
	_, err := set.Add(reference.Image{ID: "old", DataURI: "data:image/png;base64,b2xk", Width: 1080, Height: 1920}, true)
	require.NoError(t, err)
	_, err = set.Add(reference.Image{ID: "new", DataURI: "data:image/png;base64,bmV3", Width: 1920, Height: 1080}, true)
	require.NoError(t, err)

	seed := int64(42)
	form := Form{
		Prompt:         "  banana on the moon ",
		NegativePrompt: "blurry",
		Mode:           ImageToImage,
		Resolution:     ratio.Res2K,
		Steps:          30,
		Guidance:       4.5,
		Seed:           &seed,
		APIKey:         "r8_key",
	}

	req, err := Build(form, set, aspect.Derived(2))
	require.NoError(t, err)

	assert.Equal(t, "banana on the moon", req.Prompt)
	require.NotNil(t, req.NegativePrompt)
	assert.Equal(t, "blurry", *req.NegativePrompt)
	assert.Equal(t, "9:16", req.AspectRatio)
	assert.Equal(t, "2K", req.Resolution)
	assert.Equal(t, []string{"data:image/png;base64,bmV3", "data:image/png;base64,b2xk"}, req.ReferenceImages)

	w, h := req.OutputSize()
	assert.Equal(t, 1152, w)
	assert.Equal(t, 2048, h)

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "image-to-image", body["generation_mode"])
	assert.Equal(t, float64(30), body["num_inference_steps"])
	assert.Equal(t, float64(42), body["seed"])
	assert.Equal(t, "r8_key", body["api_key"])
}

func TestBuild_OmitsReferencesForEmptySet(t *testing.T) {
	form := DefaultForm()
	form.Prompt = "plain"

	req, err := Build(form, reference.NewSet(), aspect.Derived(3))
	require.NoError(t, err)
	assert.Equal(t, "1:1", req.AspectRatio)
	assert.Nil(t, req.NegativePrompt)

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "reference_images")
	assert.NotContains(t, string(raw), "api_key")
	assert.Contains(t, string(raw), `"seed":null`)
}

func TestRecord_DecodesBackendTimestamps(t *testing.T) {
	raw := `{"id": 7, "prompt": "p", "status": "running", "created_at": "2025-03-01T12:30:00.123456", "seed": null}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, int64(7), rec.ID)
	assert.True(t, rec.Status.Active())
	assert.Nil(t, rec.Seed)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 30, 0, 123456000, time.UTC), rec.CreatedAt.Time)
}

func TestStatus_Active(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusPending, true},
		{StatusRunning, true},
		{StatusCompleted, false},
		{StatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.status.Active(), tt.status)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("i2i")
	require.NoError(t, err)
	assert.Equal(t, ImageToImage, m)

	m, err = ParseMode("Text-To-Image")
	require.NoError(t, err)
	assert.Equal(t, TextToImage, m)

	_, err = ParseMode("video")
	assert.Error(t, err)
}
