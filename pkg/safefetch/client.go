package safefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRedirectLoop indicates a redirect chain revisited a URL.
	ErrRedirectLoop = errors.New("redirect loop detected")

	// ErrTooManyRedirects indicates the redirect hop cap was exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrResponseTooLarge indicates the response body exceeded the byte limit.
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
)

// Request describes one guarded outbound HTTP call.
type Request struct {
	URL             string
	Method          string
	Headers         map[string]string
	Body            string
	FollowRedirects bool
}

// Response is the outcome of a guarded fetch. Body is already read and
// size-bounded.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       string
	FinalURL   string
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TargetValidator checks a URL before each hop. Production uses
// Guard.AssertSafeTarget; tests may substitute their own.
type TargetValidator func(ctx context.Context, rawURL string) error

// Client performs SSRF-guarded HTTP requests. Redirects are disabled at the
// transport level and followed manually so every hop is re-validated; the
// client never retries; retry policy belongs to the job ledger.
type Client struct {
	httpClient *http.Client
	validate   TargetValidator
	config     Config
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTargetValidator overrides the per-hop URL validator.
func WithTargetValidator(validate TargetValidator) ClientOption {
	return func(c *Client) { c.validate = validate }
}

// WithHTTPClient overrides the underlying HTTP client. The redirect policy
// is reset to transport-level disable regardless.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a guarded client with the given config.
func NewClient(config Config, opts ...ClientOption) *Client {
	guard := NewGuard()

	client := &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		validate:   guard.AssertSafeTarget,
		config:     config,
	}

	for _, opt := range opts {
		opt(client)
	}

	// Redirects are never followed implicitly; the hop loop below owns them.
	client.httpClient.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return client
}

// Fetch performs the request, re-validating every redirect target and
// bounding the response body.
func (c *Client) Fetch(ctx context.Context, request Request) (*Response, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	currentURL := request.URL
	visited := map[string]bool{}

	for hop := 0; ; hop++ {
		if visited[currentURL] {
			return nil, fmt.Errorf("%w: %s", ErrRedirectLoop, currentURL)
		}

		visited[currentURL] = true

		if err := c.validate(ctx, currentURL); err != nil {
			return nil, err
		}

		response, redirect, err := c.fetchOnce(ctx, method, currentURL, request)
		if err != nil {
			return nil, err
		}

		if redirect == "" {
			return response, nil
		}

		if hop+1 > c.config.MaxRedirects {
			return nil, fmt.Errorf("%w: exceeded %d hops", ErrTooManyRedirects, c.config.MaxRedirects)
		}

		currentURL = redirect
	}
}

// fetchOnce performs a single hop under the per-hop timeout. It returns the
// resolved redirect target for 3xx responses with a Location header.
func (c *Client) fetchOnce(ctx context.Context, method, rawURL string, request Request) (*Response, string, error) {
	hopCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body io.Reader
	if request.Body != "" {
		body = strings.NewReader(request.Body)
	}

	req, err := http.NewRequestWithContext(hopCtx, method, rawURL, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range request.Headers {
		req.Header.Set(key, value)
	}

	if request.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	// A 3xx is only treated as a hop when the caller asked to follow
	// redirects; otherwise it is returned as a regular response.
	if request.FollowRedirects && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if location != "" {
			resolved, err := resp.Request.URL.Parse(location)
			if err != nil {
				return nil, "", fmt.Errorf("invalid redirect location %q: %w", location, err)
			}

			// Drain nothing: the redirect body is irrelevant and unread.
			return nil, resolved.String(), nil
		}
	}

	text, err := ReadAllWithLimit(resp.Body, c.config.MaxResponseBytes)
	if err != nil {
		return nil, "", err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       text,
		FinalURL:   rawURL,
	}, "", nil
}

// ReadAllWithLimit streams the body counting bytes, aborting once the limit
// is exceeded instead of buffering unbounded data.
func ReadAllWithLimit(r io.Reader, limit int64) (string, error) {
	var builder strings.Builder

	buf := make([]byte, 32*1024)

	var total int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return "", fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, limit)
			}

			builder.Write(buf[:n])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return builder.String(), nil
			}

			return "", fmt.Errorf("failed to read response body: %w", err)
		}
	}
}

// Config carries the client's network tunables.
type Config struct {
	Timeout          time.Duration
	MaxRedirects     int
	MaxResponseBytes int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          15 * time.Second,
		MaxRedirects:     5,
		MaxResponseBytes: 2 << 20, // 2 MiB
	}
}
