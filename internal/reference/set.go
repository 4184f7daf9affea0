package reference

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nano-banana-studio/internal/ratio"
)

// MaxImages is the number of reference slots a generation accepts.
const MaxImages = 4

var (
	ErrCapacityExceeded = errors.New("reference: all slots are taken")
	ErrInvalidIndex     = errors.New("reference: target index out of range")
	ErrNotFound         = errors.New("reference: no such reference")
	ErrDuplicateID      = errors.New("reference: duplicate id")
)

// Upload is the file an entry was created from. Entries restored from a
// stored generation have no upload.
type Upload struct {
	Name string
	Data []byte
}

// Image is one reference. Width, Height and Label stay zero until the pixel
// payload has been decoded.
type Image struct {
	ID       string
	DataURI  string
	MimeType string
	Width    int
	Height   int
	Label    ratio.Label
	Source   *Upload
}

// Decoded reports whether pixel dimensions are known.
func (img Image) Decoded() bool {
	return img.Width > 0 && img.Height > 0
}

// NewID returns a fresh reference id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Set is the ordered collection of references. Index 0 is "Reference 1".
// It is not safe for concurrent use; the owning session serializes access.
type Set struct {
	items []*Image
}

func NewSet() *Set {
	return &Set{items: make([]*Image, 0, MaxImages)}
}

func (s *Set) Len() int {
	return len(s.items)
}

func (s *Set) Full() bool {
	return len(s.items) >= MaxImages
}

// Free returns the number of slots still available.
func (s *Set) Free() int {
	return MaxImages - len(s.items)
}

// Add inserts img at the front (newest first) or at the back.
// An empty id gets one assigned.
func (s *Set) Add(img Image, atFront bool) (string, error) {
	if s.Full() {
		return "", ErrCapacityExceeded
	}
	if img.ID == "" {
		img.ID = NewID()
	}
	if s.IndexOf(img.ID) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, img.ID)
	}
	normalizeLabel(&img)

	entry := &img
	if atFront {
		s.items = append([]*Image{entry}, s.items...)
	} else {
		s.items = append(s.items, entry)
	}
	return img.ID, nil
}

// Remove drops the entry with id. It reports whether the set is now empty;
// an unknown id is a no-op.
func (s *Set) Remove(id string) bool {
	idx := s.IndexOf(id)
	if idx < 0 {
		return len(s.items) == 0
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return len(s.items) == 0
}

// MoveTo relocates the entry to target and shifts the others.
func (s *Set) MoveTo(id string, target int) error {
	if target < 0 || target >= len(s.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrInvalidIndex, target, len(s.items))
	}
	from := s.IndexOf(id)
	if from < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if from == target {
		return nil
	}

	entry := s.items[from]
	s.items = append(s.items[:from], s.items[from+1:]...)
	s.items = append(s.items[:target], append([]*Image{entry}, s.items[target:]...)...)
	return nil
}

func (s *Set) Clear() {
	s.items = s.items[:0]
}

// SetDimensions records decoded pixel size for id and derives its label.
// It returns false when id is no longer in the set.
func (s *Set) SetDimensions(id string, width, height int) bool {
	idx := s.IndexOf(id)
	if idx < 0 || width <= 0 || height <= 0 {
		return false
	}
	entry := s.items[idx]
	entry.Width = width
	entry.Height = height
	entry.Label = ratio.Normalize(width, height)
	return true
}

// SetLabel caches a computed label on a decoded entry.
func (s *Set) SetLabel(id string, label ratio.Label) bool {
	idx := s.IndexOf(id)
	if idx < 0 || !s.items[idx].Decoded() || !label.Valid() {
		return false
	}
	s.items[idx].Label = label
	return true
}

func (s *Set) IndexOf(id string) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// At returns a copy of the entry at index i.
func (s *Set) At(i int) (Image, bool) {
	if i < 0 || i >= len(s.items) {
		return Image{}, false
	}
	return *s.items[i], true
}

func (s *Set) Get(id string) (Image, bool) {
	return s.At(s.IndexOf(id))
}

// Snapshot copies the entries in display order.
func (s *Set) Snapshot() []Image {
	out := make([]Image, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}

func (s *Set) IDs() []string {
	out := make([]string, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.ID)
	}
	return out
}

// DataURIs returns the payloads front to back.
func (s *Set) DataURIs() []string {
	out := make([]string, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.DataURI)
	}
	return out
}

func normalizeLabel(img *Image) {
	if img.Decoded() {
		if !img.Label.Valid() {
			img.Label = ratio.Normalize(img.Width, img.Height)
		}
		return
	}
	img.Width, img.Height = 0, 0
	img.Label = ""
}
