package imagedecode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrDecodeFailure = errors.New("image could not be decoded")

var allowedMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// Sniff detects the mime type of data and rejects anything that is not a
// supported image.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrDecodeFailure)
	}
	mimeType := mimetype.Detect(data).String()
	if !allowedMIMEs[mimeType] {
		return "", fmt.Errorf("%w: unsupported type %s", ErrDecodeFailure, mimeType)
	}
	return mimeType, nil
}

// Config reads pixel dimensions from the image header.
func Config(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: empty image %dx%d", ErrDecodeFailure, cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

func DataURI(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURI splits a base64 data URI into its mime type and payload.
func ParseDataURI(value string) (string, []byte, error) {
	value = strings.TrimSpace(value)
	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return "", nil, errors.New("not a data uri")
	}

	meta, payload, ok := strings.Cut(value, ",")
	if !ok {
		return "", nil, errors.New("invalid data uri")
	}
	meta = strings.TrimPrefix(meta, prefix)
	metaParts := strings.Split(meta, ";")
	mimeType := strings.TrimSpace(metaParts[0])

	isBase64 := false
	for _, p := range metaParts[1:] {
		if strings.TrimSpace(p) == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		return "", nil, errors.New("data uri is not base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return mimeType, data, nil
}

// IsDataURI reports whether value carries an inline image.
func IsDataURI(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:image")
}
