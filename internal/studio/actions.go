package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/credentials"
	"nano-banana-studio/internal/gallery"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/imagedecode"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

func (s *Session) Login(ctx context.Context, usernameOrEmail, password string) (api.User, error) {
	tok, err := s.api.Login(ctx, usernameOrEmail, password)
	if err != nil {
		return api.User{}, s.failSignIn("Login failed", err)
	}
	return s.establish(ctx, tok, "Logged in")
}

func (s *Session) Register(ctx context.Context, username, email, password string) (api.User, error) {
	tok, err := s.api.Register(ctx, username, email, password)
	if err != nil {
		return api.User{}, s.failSignIn("Registration failed", err)
	}
	return s.establish(ctx, tok, "Registered")
}

func (s *Session) establish(ctx context.Context, tok api.Token, greeting string) (api.User, error) {
	s.mu.Lock()
	s.token = tok.AccessToken
	s.user = nil
	s.mu.Unlock()

	if err := s.creds.Set(credentials.KeyAuthToken, tok.AccessToken); err != nil {
		s.logger.Warn("persist auth token failed", "err", err)
	}

	u, err := s.Me(ctx)
	if err != nil {
		return api.User{}, err
	}
	s.emit(LevelSuccess, "%s as %s", greeting, u.Username)

	s.poller.Invalidate()
	s.StartPolling()
	return u, nil
}

func (s *Session) Logout() {
	s.poller.Stop()

	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.creds.Delete(credentials.KeyAuthToken); err != nil {
		s.logger.Warn("delete auth token failed", "err", err)
	}
	s.poller.Invalidate()
	s.emit(LevelInfo, "Logged out")
}

// Me refreshes the profile of the logged in user.
func (s *Session) Me(ctx context.Context) (api.User, error) {
	tok, err := s.requireToken()
	if err != nil {
		return api.User{}, err
	}

	u, err := s.api.Me(ctx, tok)
	if err != nil {
		return api.User{}, s.fail("Could not load profile", err)
	}

	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return u, nil
}

// SaveAPIKey stores the third-party key sent with image-to-image requests.
// An empty key removes it.
func (s *Session) SaveAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.DeleteAPIKey()
	}
	if err := s.creds.Set(credentials.KeyAPIKey, key); err != nil {
		s.emit(LevelError, "Could not store the API key")
		return fmt.Errorf("save api key: %w", err)
	}
	s.emit(LevelSuccess, "API key saved locally, it is only sent with your requests")
	return nil
}

func (s *Session) DeleteAPIKey() error {
	if err := s.creds.Delete(credentials.KeyAPIKey); err != nil {
		s.emit(LevelError, "Could not remove the API key")
		return fmt.Errorf("delete api key: %w", err)
	}
	s.emit(LevelInfo, "API key removed")
	return nil
}

// Submit validates the form and queues a generation.
func (s *Session) Submit(ctx context.Context) (api.GenerateResult, error) {
	s.mu.Lock()
	tok := s.token
	if tok == "" {
		s.mu.Unlock()
		s.emit(LevelError, "Authentication required")
		return api.GenerateResult{}, ErrNotLoggedIn
	}
	form := s.form
	form.APIKey, _ = s.apiKey()
	req, err := generation.Build(form, s.refs, s.selector.Choice())
	s.mu.Unlock()

	if err != nil {
		var verr *generation.ValidationError
		if errors.As(err, &verr) {
			s.emit(LevelError, "Check %s: %s", verr.Field, verr.Reason)
		}
		return api.GenerateResult{}, err
	}

	w, h := req.OutputSize()
	s.logger.Info("submitting generation",
		"mode", req.GenerationMode,
		"aspect_ratio", req.AspectRatio,
		"resolution", req.Resolution,
		"width", w,
		"height", h,
		"references", len(req.ReferenceImages),
	)

	res, err := s.api.Generate(ctx, tok, req)
	if err != nil {
		return api.GenerateResult{}, s.fail("Generation failed", err)
	}

	s.emit(LevelSuccess, "Generation #%d queued", res.ImageID)
	s.poller.Kick(s.lifetime)
	return res, nil
}

// Edit loads a stored generation back into the form. Stored references are
// fetched concurrently and appended in record order.
func (s *Session) Edit(ctx context.Context, id int64) (generation.Record, error) {
	tok, err := s.requireToken()
	if err != nil {
		return generation.Record{}, err
	}

	rec, err := s.api.Get(ctx, tok, id)
	if err != nil {
		return generation.Record{}, s.fail("Could not load generation", err)
	}

	mode := rec.GenerationMode
	if !mode.Valid() {
		mode = generation.TextToImage
	}

	s.mu.Lock()
	s.form = prefill(s.form, rec, mode)
	s.selector.Reset()
	if label := ratio.Label(rec.AspectRatio); label.Valid() {
		s.selector.Select(aspect.Standard(label))
	}
	s.clearLocked()
	seq := s.editSeq
	s.unlock()

	if mode != generation.ImageToImage || len(rec.ReferenceImages) == 0 {
		s.emit(LevelSuccess, "Form filled from generation #%d", rec.ID)
		return rec, nil
	}

	loaded := make([]*reference.Image, len(rec.ReferenceImages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConc)
	for i, raw := range rec.ReferenceImages {
		g.Go(func() error {
			img, err := s.loadStored(gctx, raw)
			if err != nil {
				s.logger.Warn("stored reference unavailable", "generation", rec.ID, "index", i, "err", err)
				return nil
			}
			loaded[i] = &img
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if s.editSeq != seq {
		s.mu.Unlock()
		s.logger.Debug("edit superseded", "generation", rec.ID)
		return rec, nil
	}
	failed := 0
	for _, img := range loaded {
		if img == nil {
			failed++
			continue
		}
		if _, err := s.refs.Add(*img, false); err != nil {
			failed++
		}
	}
	s.selector.Sync(s.refs)
	if failed > 0 {
		s.notify(LevelWarning, "%d stored reference(s) could not be loaded", failed)
	}
	s.notify(LevelSuccess, "Form filled from generation #%d", rec.ID)
	s.unlock()
	return rec, nil
}

func prefill(form generation.Form, rec generation.Record, mode generation.Mode) generation.Form {
	form.Prompt = rec.Prompt
	form.NegativePrompt = rec.NegativePrompt
	form.Mode = mode

	form.Resolution = ratio.Resolution(rec.Resolution)
	if !form.Resolution.Valid() {
		form.Resolution = ratio.Res1K
	}
	form.Steps = rec.NumInferenceSteps
	if form.Steps <= 0 {
		form.Steps = generation.DefaultSteps
	}
	form.Guidance = rec.GuidanceScale
	if form.Guidance <= 0 {
		form.Guidance = generation.DefaultGuidance
	}
	form.Seed = nil
	if rec.Seed != nil {
		seed := *rec.Seed
		form.Seed = &seed
	}
	return form
}

// loadStored turns a stored reference (data URI or URL) into a decoded entry.
func (s *Session) loadStored(ctx context.Context, raw string) (reference.Image, error) {
	var (
		mime string
		data []byte
		uri  string
		err  error
	)
	switch {
	case imagedecode.IsDataURI(raw):
		mime, data, err = imagedecode.ParseDataURI(raw)
		if err != nil {
			return reference.Image{}, err
		}
		uri = raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "/"):
		data, err = s.api.FetchImage(ctx, raw)
		if err != nil {
			return reference.Image{}, err
		}
		mime, err = imagedecode.Sniff(data)
		if err != nil {
			return reference.Image{}, err
		}
		uri = imagedecode.DataURI(mime, data)
	default:
		return reference.Image{}, fmt.Errorf("%w: unsupported reference location", imagedecode.ErrDecodeFailure)
	}

	w, h, err := imagedecode.Config(data)
	if err != nil {
		return reference.Image{}, err
	}
	return reference.Image{DataURI: uri, MimeType: mime, Width: w, Height: h}, nil
}

// Delete removes a generation and redraws the gallery.
func (s *Session) Delete(ctx context.Context, id int64) error {
	tok, err := s.requireToken()
	if err != nil {
		return err
	}
	if err := s.api.Delete(ctx, tok, id); err != nil {
		return s.fail("Delete failed", err)
	}
	s.emit(LevelSuccess, "Generation #%d deleted", id)

	s.poller.Invalidate()
	if _, err := s.poller.Refresh(ctx); err != nil && !errors.Is(err, gallery.ErrBusy) {
		s.logger.Warn("gallery refresh after delete failed", "err", err)
	}
	return nil
}

// Info returns the stored parameters of a generation, including the
// failure message of a failed one.
func (s *Session) Info(ctx context.Context, id int64) (generation.Record, error) {
	tok, err := s.requireToken()
	if err != nil {
		return generation.Record{}, err
	}
	rec, err := s.api.Get(ctx, tok, id)
	if err != nil {
		return generation.Record{}, s.fail("Could not load generation", err)
	}
	return rec, nil
}

// RefreshGallery redraws the gallery if it changed. A forced refresh
// redraws unconditionally.
func (s *Session) RefreshGallery(ctx context.Context, force bool) (bool, error) {
	if _, err := s.requireToken(); err != nil {
		return false, err
	}
	if force {
		s.poller.Invalidate()
	}
	return s.poller.Refresh(ctx)
}

// StartPolling begins background gallery polling for a logged in user.
func (s *Session) StartPolling() {
	if !s.LoggedIn() {
		return
	}
	s.poller.StartBackground(s.lifetime)
}

// Close stops polling and waits for outstanding decodes.
func (s *Session) Close() {
	s.cancel()
	s.poller.Stop()
	s.decodes.Wait()
}

func (s *Session) fetchGallery(ctx context.Context) (api.ListResult, error) {
	tok, err := s.requireTokenQuiet()
	if err != nil {
		return api.ListResult{}, err
	}
	res, err := s.api.List(ctx, tok, s.listLimit)
	if err != nil {
		s.expireOnAuth(err)
		return api.ListResult{}, err
	}
	return res, nil
}

// apiKey reads the stored third-party key.
func (s *Session) apiKey() (string, bool) {
	key, ok := s.creds.Get(credentials.KeyAPIKey)
	key = strings.TrimSpace(key)
	return key, ok && key != ""
}

func (s *Session) requireToken() (string, error) {
	tok, err := s.requireTokenQuiet()
	if err != nil {
		s.emit(LevelError, "Authentication required")
	}
	return tok, err
}

func (s *Session) requireTokenQuiet() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return "", ErrNotLoggedIn
	}
	return s.token, nil
}

// expireOnAuth clears the stored token when err says it is no longer valid.
func (s *Session) expireOnAuth(err error) bool {
	if !errors.Is(err, api.ErrAuthExpired) {
		return false
	}

	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if derr := s.creds.Delete(credentials.KeyAuthToken); derr != nil {
		s.logger.Warn("delete auth token failed", "err", derr)
	}
	if had {
		s.logger.Info("auth token expired")
		s.emit(LevelWarning, "Session expired, please log in again")
	}
	return true
}

// fail reports err to the user and returns it unchanged.
func (s *Session) fail(action string, err error) error {
	switch {
	case s.expireOnAuth(err):
	case errors.Is(err, api.ErrRateLimited):
		s.emit(LevelWarning, "Limit: %s", errorText(err))
	default:
		s.logger.Warn("request failed", "action", action, "err", err)
		s.emit(LevelError, "%s: %s", action, errorText(err))
	}
	return err
}

// failSignIn reports a rejected login or registration. Those calls carry no
// token, so a 401 names bad credentials and leaves the current session alone.
func (s *Session) failSignIn(action string, err error) error {
	if !errors.Is(err, api.ErrAuthExpired) {
		return s.fail(action, err)
	}
	s.logger.Info("sign-in rejected", "action", action, "err", err)
	s.emit(LevelError, "%s: %s", action, errorText(err))
	return err
}

func errorText(err error) string {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) && statusErr.Detail != "" {
		return statusErr.Detail
	}
	if errors.Is(err, api.ErrNetwork) {
		return "network error"
	}
	return err.Error()
}
