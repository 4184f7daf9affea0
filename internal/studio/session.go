package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/credentials"
	"nano-banana-studio/internal/gallery"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/imagedecode"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

var (
	ErrNotLoggedIn   = errors.New("studio: not logged in")
	ErrInvalidChoice = errors.New("studio: unknown aspect ratio choice")
	ErrNoImages      = errors.New("studio: no images in input")
	ErrUnknownEvent  = errors.New("studio: unknown event")
)

// API is the part of the REST client a session needs.
type API interface {
	Login(ctx context.Context, usernameOrEmail, password string) (api.Token, error)
	Register(ctx context.Context, username, email, password string) (api.Token, error)
	Me(ctx context.Context, token string) (api.User, error)
	Generate(ctx context.Context, token string, req generation.Request) (api.GenerateResult, error)
	List(ctx context.Context, token string, limit int) (api.ListResult, error)
	Get(ctx context.Context, token string, id int64) (generation.Record, error)
	Delete(ctx context.Context, token string, id int64) error
	FetchImage(ctx context.Context, rawURL string) ([]byte, error)
}

type Options struct {
	API         API
	Credentials credentials.Store
	Notifier    Notifier
	// Render draws the gallery; nil disables drawing but keeps polling.
	Render gallery.RenderFunc

	ListLimit          int
	MaxConcurrent      int
	BackgroundInterval time.Duration
	FastDelay          time.Duration
	FastInterval       time.Duration
	FastMaxTicks       int

	Logger *slog.Logger
}

// Session is the complete client state of one user. All mutation goes
// through Dispatch and the action methods; it is safe for concurrent use.
type Session struct {
	api       API
	creds     credentials.Store
	notifier  Notifier
	logger    *slog.Logger
	listLimit int
	maxConc   int

	mu       sync.Mutex
	token    string
	user     *api.User
	form     generation.Form
	refs     *reference.Set
	selector *aspect.Selector
	editSeq  uint64
	outbox   []Notice

	decodes  sync.WaitGroup
	poller   *gallery.Poller
	lifetime context.Context
	cancel   context.CancelFunc
}

func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credentials.NewMemoryStore()
	}
	listLimit := opts.ListLimit
	if listLimit <= 0 {
		listLimit = gallery.DefaultListLimit
	}
	maxConc := opts.MaxConcurrent
	if maxConc < 1 {
		maxConc = 4
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s := &Session{
		lifetime:  lifetime,
		cancel:    cancel,
		api:       opts.API,
		creds:     creds,
		notifier:  notifier,
		logger:    logger,
		listLimit: listLimit,
		maxConc:   maxConc,
		form:      generation.DefaultForm(),
		refs:      reference.NewSet(),
		selector:  aspect.NewSelector(),
	}
	if tok, ok := creds.Get(credentials.KeyAuthToken); ok {
		s.token = strings.TrimSpace(tok)
	}

	s.poller = gallery.NewPoller(gallery.Options{
		Fetch:              s.fetchGallery,
		Render:             opts.Render,
		BackgroundInterval: opts.BackgroundInterval,
		FastDelay:          opts.FastDelay,
		FastInterval:       opts.FastInterval,
		FastMaxTicks:       opts.FastMaxTicks,
		Logger:             logger,
	})
	return s
}

// State is a read-only view for presentation.
type State struct {
	LoggedIn     bool
	User         *api.User
	Form         generation.Form
	HasAPIKey    bool
	References   []reference.Image
	Choice       aspect.Choice
	AutoSelected bool
	Ratio        ratio.Label
	Options      []aspect.Option
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		LoggedIn:     s.token != "",
		Form:         s.form,
		References:   s.refs.Snapshot(),
		Choice:       s.selector.Choice(),
		AutoSelected: s.selector.AutoSelected(),
		Ratio:        aspect.Resolve(s.selector.Choice(), s.refs),
		Options:      aspect.Options(s.refs),
	}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	st.Form.APIKey = ""
	_, st.HasAPIKey = s.apiKey()
	return st
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// WaitDecodes blocks until every pending dimension decode has completed.
func (s *Session) WaitDecodes() {
	s.decodes.Wait()
}

// Dispatch applies one user event.
func (s *Session) Dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case AddFiles:
		return s.addUploads(e.Files, sourcePick)
	case DropFiles:
		return s.addUploads(e.Files, sourceDrop)
	case PasteImage:
		return s.addUploads([]reference.Upload{e.File}, sourcePaste)
	case Reorder:
		return s.reorder(e.ID, e.Target)
	case RemoveReference:
		s.removeReference(e.ID)
		return nil
	case ClearReferences:
		s.clearReferences()
		return nil
	case SwitchMode:
		return s.switchMode(e.Mode)
	case SelectRatio:
		return s.selectRatio(e.Choice)
	case SetForm:
		return s.setForm(e.Field, e.Value)
	}
	return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
}

type uploadSource int

const (
	sourcePick uploadSource = iota
	sourceDrop
	sourcePaste
)

func (s *Session) addUploads(files []reference.Upload, src uploadSource) error {
	s.mu.Lock()
	defer s.unlock()

	if s.refs.Full() {
		s.notify(LevelWarning, "Reference limit reached (%d)", reference.MaxImages)
		return reference.ErrCapacityExceeded
	}

	free := s.refs.Free()
	added, skipped, overflow := 0, 0, 0
	for _, f := range files {
		mime, err := imagedecode.Sniff(f.Data)
		if err != nil {
			skipped++
			s.logger.Info("reference rejected", "name", f.Name, "err", err)
			if src != sourcePaste {
				s.notify(LevelError, "%s is not an image", displayName(f.Name))
			}
			continue
		}
		if added == free {
			overflow++
			continue
		}

		upload := f
		img := reference.Image{
			DataURI:  imagedecode.DataURI(mime, f.Data),
			MimeType: mime,
			Source:   &upload,
		}
		id, err := s.refs.Add(img, true)
		if err != nil {
			overflow++
			continue
		}
		added++
		s.decodes.Add(1)
		go s.decode(id, f.Data)
	}

	if added == 0 {
		switch {
		case src == sourcePaste:
			s.notify(LevelInfo, "No image in the pasted content")
		case skipped > 0 && src == sourceDrop:
			s.notify(LevelWarning, "Drop an image file")
		}
		return ErrNoImages
	}

	if s.form.Mode != generation.ImageToImage {
		s.form.Mode = generation.ImageToImage
		s.notify(LevelInfo, "Switched to image-to-image mode")
	}
	s.selector.Sync(s.refs)

	if overflow > 0 {
		s.notify(LevelWarning, "Only %d of %d images added, reference limit is %d", added, added+overflow, reference.MaxImages)
	}
	if added == 1 {
		s.notify(LevelSuccess, "Reference 1 added")
	} else {
		s.notify(LevelSuccess, "%d references added", added)
	}
	return nil
}

func (s *Session) decode(id string, data []byte) {
	defer s.decodes.Done()

	w, h, err := imagedecode.Config(data)
	s.applyDecoded(id, w, h, err)
}

// applyDecoded completes a dimension decode. The entry is looked up by id,
// so a completion for a removed or cleared reference does nothing.
func (s *Session) applyDecoded(id string, w, h int, err error) {
	s.mu.Lock()
	defer s.unlock()

	if _, ok := s.refs.Get(id); !ok {
		s.logger.Debug("stale reference decode", "id", id)
		return
	}

	if err != nil {
		s.logger.Warn("reference decode failed", "id", id, "err", err)
		if s.refs.Remove(id) {
			s.selector.Sync(s.refs)
		}
		s.notify(LevelError, "Could not read the image")
		return
	}

	s.refs.SetDimensions(id, w, h)
	img, _ := s.refs.Get(id)
	s.logger.Debug("reference decoded", "id", id, "width", w, "height", h, "ratio", img.Label)
}

func (s *Session) reorder(id string, target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refs.MoveTo(id, target); err != nil {
		return err
	}
	return nil
}

func (s *Session) removeReference(id string) {
	s.mu.Lock()
	defer s.unlock()

	if s.refs.IndexOf(id) < 0 {
		return
	}
	if s.refs.Remove(id) {
		s.selector.Sync(s.refs)
	}
}

func (s *Session) clearReferences() {
	s.mu.Lock()
	defer s.unlock()

	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.editSeq++
	s.refs.Clear()
	s.selector.Sync(s.refs)
}

func (s *Session) switchMode(mode generation.Mode) error {
	if !mode.Valid() {
		return &generation.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	s.mu.Lock()
	defer s.unlock()

	s.form.Mode = mode
	if mode == generation.TextToImage {
		s.clearLocked()
	}
	return nil
}

func (s *Session) selectRatio(c aspect.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.selector.Select(c) {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, c)
	}
	return nil
}

func (s *Session) setForm(field Field, value string) error {
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case FieldPrompt:
		s.form.Prompt = value
	case FieldNegativePrompt:
		s.form.NegativePrompt = value
	case FieldResolution:
		res, err := ratio.ParseResolution(value)
		if err != nil {
			return &generation.ValidationError{Field: string(field), Reason: err.Error()}
		}
		s.form.Resolution = res
	case FieldSteps:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return &generation.ValidationError{Field: string(field), Reason: "expected a positive integer"}
		}
		s.form.Steps = n
	case FieldGuidance:
		g, err := strconv.ParseFloat(value, 64)
		if err != nil || g < 0 {
			return &generation.ValidationError{Field: string(field), Reason: "expected a non-negative number"}
		}
		s.form.Guidance = g
	case FieldSeed:
		if value == "" || strings.EqualFold(value, "random") {
			s.form.Seed = nil
			return nil
		}
		seed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return &generation.ValidationError{Field: string(field), Reason: "expected an integer"}
		}
		s.form.Seed = &seed
	default:
		return &generation.ValidationError{Field: string(field), Reason: "unknown field"}
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "File"
	}
	return name
}
