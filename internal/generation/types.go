package generation

import (
	"fmt"
	"strings"
	"time"

	"nano-banana-studio/internal/ratio"
)

type Mode string

const (
	TextToImage  Mode = "text-to-image"
	ImageToImage Mode = "image-to-image"
)

func (m Mode) Valid() bool {
	return m == TextToImage || m == ImageToImage
}

// ParseMode accepts the wire names and the short forms "t2i" / "i2i".
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "text-to-image", "t2i", "text":
		return TextToImage, nil
	case "image-to-image", "i2i", "image":
		return ImageToImage, nil
	}
	return "", fmt.Errorf("generation: unknown mode %q", value)
}

// Status of a backend generation record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether the record is still being processed.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

const (
	DefaultSteps    = 50
	DefaultGuidance = 7.5
)

// Form is the user-editable part of a generation request.
type Form struct {
	Prompt         string
	NegativePrompt string
	Mode           Mode
	Resolution     ratio.Resolution
	Steps          int
	Guidance       float64
	Seed           *int64
	APIKey         string
}

func DefaultForm() Form {
	return Form{
		Mode:       TextToImage,
		Resolution: ratio.Res1K,
		Steps:      DefaultSteps,
		Guidance:   DefaultGuidance,
	}
}

// Request is the body of POST /images/generate.
type Request struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    *string  `json:"negative_prompt"`
	GenerationMode    Mode     `json:"generation_mode"`
	Resolution        string   `json:"resolution"`
	AspectRatio       string   `json:"aspect_ratio"`
	GuidanceScale     float64  `json:"guidance_scale"`
	NumInferenceSteps int      `json:"num_inference_steps"`
	Seed              *int64   `json:"seed"`
	ReferenceImages   []string `json:"reference_images,omitempty"`
	APIKey            string   `json:"api_key,omitempty"`
}

// Record is a backend generation as returned by the list and detail endpoints.
type Record struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id,omitempty"`
	Prompt            string    `json:"prompt"`
	NegativePrompt    string    `json:"negative_prompt,omitempty"`
	GenerationMode    Mode      `json:"generation_mode,omitempty"`
	Resolution        string    `json:"resolution,omitempty"`
	AspectRatio       string    `json:"aspect_ratio,omitempty"`
	GuidanceScale     float64   `json:"guidance_scale,omitempty"`
	NumInferenceSteps int       `json:"num_inference_steps,omitempty"`
	Seed              *int64    `json:"seed,omitempty"`
	ResultURL         string    `json:"result_url,omitempty"`
	Status            Status    `json:"status"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ReferenceImages   []string  `json:"reference_images,omitempty"`
	CreatedAt         Timestamp `json:"created_at"`
}

// Timestamp accepts RFC 3339 and the zone-less ISO format the backend emits.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("generation: invalid timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}
