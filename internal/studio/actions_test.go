package studio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/credentials"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/imagedecode"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
)

func TestLogin_PersistsToken(t *testing.T) {
	fx := newFixture(t, false)

	u, err := fx.session.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, fx.session.LoggedIn())

	tok, ok := fx.creds.Get(credentials.KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, "tok-alice", tok)
	require.NotNil(t, fx.session.State().User)
}

func TestLogin_Failure(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.session.Login(context.Background(), "alice", "wrong")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.False(t, fx.session.LoggedIn())
	assert.Contains(t, fx.notices.texts(), "Login failed: Invalid username/email or password")
	assert.False(t, fx.notices.has(LevelWarning))
}

func TestLogin_WrongPasswordKeepsSession(t *testing.T) {
	fx := newFixture(t, true)

	_, err := fx.session.Login(context.Background(), "alice", "typo")
	require.Error(t, err)

	assert.True(t, fx.session.LoggedIn())
	tok, ok := fx.creds.Get(credentials.KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, "tok-alice", tok)
	assert.NotContains(t, fx.notices.texts(), "Session expired, please log in again")
	assert.True(t, fx.notices.has(LevelError))
}

func TestLogin_RejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, []string{"/auth/login", "/auth/register"}, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid username/email or password"}`))
	}))
	t.Cleanup(srv.Close)

	notices := &noticeLog{}
	sess := New(Options{
		API:         api.New(api.Options{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Credentials: credentials.NewMemoryStore(),
		Notifier:    notices,
	})
	t.Cleanup(sess.Close)

	_, err := sess.Register(context.Background(), "bob", "bob@example.com", "pw")
	require.Error(t, err)
	_, err = sess.Login(context.Background(), "bob", "pw")
	require.Error(t, err)

	assert.Equal(t, []string{
		"Registration failed: Invalid username/email or password",
		"Login failed: Invalid username/email or password",
	}, notices.texts())
}

func TestAuthExpired_ClearsToken(t *testing.T) {
	fx := newFixture(t, true)
	fx.api.meErr = &api.StatusError{Code: 401, Detail: "Could not validate credentials"}
	require.True(t, fx.session.LoggedIn())

	_, err := fx.session.Me(context.Background())
	assert.ErrorIs(t, err, api.ErrAuthExpired)
	assert.False(t, fx.session.LoggedIn())

	_, ok := fx.creds.Get(credentials.KeyAuthToken)
	assert.False(t, ok)
	assert.True(t, fx.notices.has(LevelWarning))

	_, err = fx.session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLogout(t *testing.T) {
	fx := newFixture(t, true)
	fx.session.StartPolling()

	fx.session.Logout()
	assert.False(t, fx.session.LoggedIn())
	assert.False(t, fx.session.poller.BackgroundActive())
	_, ok := fx.creds.Get(credentials.KeyAuthToken)
	assert.False(t, ok)
}

func TestSubmit_SendsReferencesAndKey(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	fx.add(t, reference.Upload{Name: "tall.png", Data: pngBytes(t, 90, 160)})
	require.NoError(t, fx.session.Dispatch(ctx, SetForm{Field: FieldPrompt, Value: "banana knight"}))

	_, err := fx.session.Submit(ctx)
	require.ErrorIs(t, err, generation.ErrValidation, "image-to-image needs a key")
	assert.Zero(t, fx.api.generateCount())

	require.NoError(t, fx.session.SaveAPIKey("r8_key"))
	res, err := fx.session.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ImageID)

	fx.api.mu.Lock()
	req := fx.api.generated[0]
	fx.api.mu.Unlock()
	assert.Equal(t, "9:16", req.AspectRatio)
	assert.Equal(t, generation.ImageToImage, req.GenerationMode)
	assert.Equal(t, "r8_key", req.APIKey)
	require.Len(t, req.ReferenceImages, 1)
	assert.True(t, imagedecode.IsDataURI(req.ReferenceImages[0]))

	assert.Eventually(t, func() bool {
		fx.api.mu.Lock()
		defer fx.api.mu.Unlock()
		return fx.api.listCalls > 0
	}, time.Second, time.Millisecond, "submission kicks the fast poll")
}

func TestSubmit_RateLimited(t *testing.T) {
	fx := newFixture(t, true)
	fx.api.genErr = &api.StatusError{Code: 429, Detail: "Too many active generations"}
	require.NoError(t, fx.session.Dispatch(context.Background(), SetForm{Field: FieldPrompt, Value: "x"}))

	_, err := fx.session.Submit(context.Background())
	assert.ErrorIs(t, err, api.ErrRateLimited)
	assert.True(t, fx.notices.has(LevelWarning))
	assert.True(t, fx.session.LoggedIn())
}

func TestEdit_PrefillsFormAndReferences(t *testing.T) {
	fx := newFixture(t, true)
	seed := int64(99)
	wide := imagedecode.DataURI("image/png", pngBytes(t, 160, 90))
	fx.api.images["/media/tall.png"] = pngBytes(t, 90, 160)
	fx.api.records[7] = generation.Record{
		ID:                7,
		Prompt:            "castle",
		NegativePrompt:    "fog",
		GenerationMode:    generation.ImageToImage,
		Resolution:        "2K",
		AspectRatio:       "4:3",
		GuidanceScale:     5,
		NumInferenceSteps: 20,
		Seed:              &seed,
		ReferenceImages:   []string{wide, "/media/tall.png", "ftp://nowhere"},
	}

	fx.add(t, reference.Upload{Data: pngBytes(t, 10, 10)})

	rec, err := fx.session.Edit(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)

	st := fx.session.State()
	assert.Equal(t, "castle", st.Form.Prompt)
	assert.Equal(t, "fog", st.Form.NegativePrompt)
	assert.Equal(t, ratio.Res2K, st.Form.Resolution)
	assert.Equal(t, 20, st.Form.Steps)
	require.NotNil(t, st.Form.Seed)
	assert.Equal(t, int64(99), *st.Form.Seed)

	require.Len(t, st.References, 2, "previous references are replaced")
	assert.Equal(t, wide, st.References[0].DataURI)
	assert.Equal(t, ratio.Wide, st.References[0].Label)
	assert.Equal(t, ratio.Tall, st.References[1].Label)

	// loading references re-arms auto selection
	assert.Equal(t, aspect.Derived(1), st.Choice)
	assert.Equal(t, ratio.Wide, st.Ratio)
	assert.True(t, fx.notices.has(LevelWarning), "unsupported location reported")
}

func TestEdit_TextToImageKeepsStoredRatio(t *testing.T) {
	fx := newFixture(t, true)
	fx.api.records[3] = generation.Record{ID: 3, Prompt: "sea", GenerationMode: generation.TextToImage, AspectRatio: "21:9"}

	_, err := fx.session.Edit(context.Background(), 3)
	require.NoError(t, err)

	st := fx.session.State()
	assert.Equal(t, aspect.Standard(ratio.Ultrawide), st.Choice)
	assert.Empty(t, st.References)
	assert.Equal(t, generation.DefaultSteps, st.Form.Steps)
	assert.Equal(t, generation.DefaultGuidance, st.Form.Guidance)
}

func TestEdit_NotFound(t *testing.T) {
	fx := newFixture(t, true)

	_, err := fx.session.Edit(context.Background(), 404)
	assert.ErrorIs(t, err, api.ErrNetwork)
	assert.True(t, fx.notices.has(LevelError))
}

func TestDeleteAndInfo(t *testing.T) {
	fx := newFixture(t, true)
	fx.api.records[5] = generation.Record{ID: 5, Status: generation.StatusFailed, ErrorMessage: "nsfw filter"}

	rec, err := fx.session.Info(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "nsfw filter", rec.ErrorMessage)

	require.NoError(t, fx.session.Delete(context.Background(), 5))
	assert.Equal(t, []int64{5}, fx.api.deleted)
}
