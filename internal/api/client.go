package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"nano-banana-studio/internal/generation"
)

const defaultBaseURL = "http://localhost:8000/api/v1"

var (
	ErrNetwork     = errors.New("network failure")
	ErrAuthExpired = errors.New("session expired")
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api status %d", e.Code)
	}
	return fmt.Sprintf("api status %d: %s", e.Code, e.Detail)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return ErrNetwork
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (Token, error) {
	var tok Token
	err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{
		UsernameOrEmail: strings.TrimSpace(usernameOrEmail),
		Password:        password,
	}, &tok)
	if err != nil {
		return Token{}, err
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: login response has no token", ErrNetwork)
	}
	return tok, nil
}

func (c *Client) Register(ctx context.Context, username, email, password string) (Token, error) {
	var tok Token
	err := c.do(ctx, http.MethodPost, "/auth/register", "", registerRequest{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
	}, &tok)
	if err != nil {
		return Token{}, err
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: register response has no token", ErrNetwork)
	}
	return tok, nil
}

func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) Generate(ctx context.Context, token string, req generation.Request) (GenerateResult, error) {
	var res GenerateResult
	if err := c.do(ctx, http.MethodPost, "/images/generate", token, req, &res); err != nil {
		return GenerateResult{}, err
	}
	return res, nil
}

// List fetches the gallery. limit <= 0 asks for the server default.
func (c *Client) List(ctx context.Context, token string, limit int) (ListResult, error) {
	path := "/images/list"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, token, nil, &raw); err != nil {
		return ListResult{}, err
	}
	return decodeList(raw)
}

func (c *Client) Get(ctx context.Context, token string, id int64) (generation.Record, error) {
	var rec generation.Record
	if err := c.do(ctx, http.MethodGet, "/images/"+strconv.FormatInt(id, 10), token, nil, &rec); err != nil {
		return generation.Record{}, err
	}
	return rec, nil
}

func (c *Client) Delete(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, "/images/"+strconv.FormatInt(id, 10), token, nil, nil)
}

// FetchImage downloads a stored reference or result image.
func (c *Client) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrNetwork, err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, &StatusError{Code: httpResp.StatusCode, Detail: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if httpResp.StatusCode >= 400 {
		statusErr := &StatusError{Code: httpResp.StatusCode, Detail: errorDetail(rawBody)}
		c.logger.Warn("api request failed", "method", method, "path", path, "status", httpResp.StatusCode, "detail", statusErr.Detail)
		return statusErr
	}

	c.logger.Debug("api request", "method", method, "path", path, "status", httpResp.StatusCode)

	if out == nil || len(bytes.TrimSpace(rawBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}
	return nil
}

func (c *Client) resolve(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return rawURL
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return base.ResolveReference(ref).String()
}

// errorDetail extracts FastAPI style {"detail": ...} messages.
func errorDetail(body []byte) string {
	var decoded struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || len(decoded.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var text string
	if err := json.Unmarshal(decoded.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(decoded.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(decoded.Detail))
}
