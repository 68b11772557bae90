// Package api is the REST client for the EverWalk backend.
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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/redaction"
)

const (
	// DefaultTimeout bounds ordinary request/response calls.
	DefaultTimeout = 30 * time.Second

	maxBodySnippet = 1 << 20
)

var (
	// ErrUnreachable wraps transport failures (connection refused, DNS, timeouts).
	ErrUnreachable = errors.New("server unreachable")
	// ErrUnauthorized is matched by errors.Is for HTTP 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is matched by errors.Is for HTTP 404 responses.
	ErrNotFound = errors.New("not found")
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Message    string // backend ErrorResponse.message, when it decoded
	Body       string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	case e.Body != "":
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
}

// Unwrap maps well-known status codes onto sentinel errors.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// TokenSource returns the bearer token to attach, or "" for none.
type TokenSource func(ctx context.Context) (string, error)

// Client maps domain operations to HTTP endpoints.
type Client struct {
	BaseURL string

	http    *http.Client
	stream  *http.Client
	tokens  TokenSource
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses a copy of hc for requests. Its transport is also used
// for progress streams, without the request timeout. hc itself is never
// modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout for request/response calls,
// regardless of option order. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New returns a Client rooted at baseURL (e.g. http://localhost:8080/api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{BaseURL: strings.TrimRight(baseURL, "/")}
	for _, o := range opts {
		o(c)
	}

	hc := http.Client{Timeout: DefaultTimeout}
	if c.http != nil {
		hc = *c.http
	}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc
	c.stream = &http.Client{Transport: hc.Transport, CheckRedirect: hc.CheckRedirect, Jar: hc.Jar}
	return c
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if c.BaseURL == "" {
		return nil, errors.New("api: empty base url")
	}
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("api: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("api: token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// do sends req with hc and maps transport failures and non-2xx statuses to
// errors. The caller owns the returned response body.
func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req) // #nosec G704 -- URL is the user-configured EverWalk endpoint
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("api: server unreachable", "method", req.Method, "path", req.URL.Path, "err", err)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		apiErr := &Error{
			StatusCode: resp.StatusCode,
			Body:       redaction.Redact(strings.TrimSpace(string(raw))),
		}
		var envelope models.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Message = envelope.Message
		}
		slog.Debug("api: error response",
			"method", req.Method, "path", req.URL.Path,
			"status", resp.StatusCode, "request_id", req.Header.Get("X-Request-ID"),
		)
		return nil, apiErr
	}
	return resp, nil
}

// doJSON executes a request, marshalling body as JSON and unmarshalling the
// response into out. Pass nil body for requests without payload and nil out
// to discard the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.do(c.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*maxBodySnippet))
	if err != nil {
		return fmt.Errorf("api: read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func pathf(format string, ids ...int64) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(fmt.Sprint(id))
	}
	return fmt.Sprintf(format, args...)
}
