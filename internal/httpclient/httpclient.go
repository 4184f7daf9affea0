package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultDialTimeout    = 15 * time.Second
	defaultHeaderTimeout  = 60 * time.Second
	defaultUserAgent      = "nano-banana-studio/1.0"
	maxIdleConnsPerClient = 100
)

// Options configure the client shared by the Telegram bot and the studio API.
type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	// DialTimeout and HeaderTimeout default to 15s and 60s.
	DialTimeout   time.Duration
	HeaderTimeout time.Duration
	UserAgent     string
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	headerTimeout := opts.HeaderTimeout
	if headerTimeout <= 0 || headerTimeout > timeout {
		headerTimeout = min(defaultHeaderTimeout, timeout)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialContext(dialer, opts.PreferIPv4),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdleConnsPerClient,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{next: transport, userAgent: userAgent},
	}
}

func dialContext(dialer *net.Dialer, preferIPv4 bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if preferIPv4 {
			return dialer.DialContext(ctx, "tcp4", addr)
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// userAgentTransport sets User-Agent on requests that carry none.
type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}
