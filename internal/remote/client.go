// Package remote is the gateway to the Tasky REST API.
//
// The Client wraps an http.Client whose transport adds the x-api-key header
// to every request and, for authenticated calls, a bearer token obtained
// from an oauth2.TokenSource. Login, register and token refresh go out
// without a bearer token.
//
// Every call takes a context and is abandoned when it is cancelled. Failures
// are reported as *Error values classified by ErrNetwork,
// ErrServerRejected, ErrUnauthorized and ErrNotFound.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://tasky.example.com/
	BaseURL string

	// APIKey is sent as x-api-key on every request.
	APIKey string

	// Timeout bounds each request (default: DefaultTimeout).
	Timeout time.Duration

	// Credentials supplies and persists tokens for authenticated calls.
	// Ignored when TokenSource is set.
	Credentials CredentialStore

	// TokenSource overrides the token source built from Credentials.
	TokenSource oauth2.TokenSource

	// Transport is the base round tripper (default: http.DefaultTransport).
	Transport http.RoundTripper

	// Logger for request diagnostics (default: stderr with "[remote] ").
	Logger *log.Logger
}

// Client talks to the Tasky API.
type Client struct {
	base   *url.URL
	anon   *http.Client
	authed *http.Client
	logger *log.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	keyed := &apiKeyTransport{key: cfg.APIKey, base: cfg.Transport}

	c := &Client{
		base:   base,
		anon:   &http.Client{Transport: keyed, Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}

	ts := cfg.TokenSource
	if ts == nil && cfg.Credentials != nil {
		ts = NewTokenSource(cfg.Credentials, c)
	}
	if ts == nil {
		ts = missingToken{}
	}
	c.authed = &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: keyed},
		Timeout:   cfg.Timeout,
	}

	return c, nil
}

// apiKeyTransport adds the API key header to each request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.key != "" {
		req.Header.Set("x-api-key", t.key)
	}
	req.Header.Set("User-Agent", "tasky-cli/1.0")
	return t.base.RoundTrip(req)
}

type missingToken struct{}

func (missingToken) Token() (*oauth2.Token, error) {
	return nil, unauthorized("token", "not logged in")
}

// request describes a single API call.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	anonymous   bool
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// do sends the request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.base.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", r.op, err)
	}
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Accept", "application/json")

	client := c.authed
	if r.anonymous {
		client = c.anon
	}

	resp, err := client.Do(req)
	if err != nil {
		// A token source failure surfaces as a transport error; keep its
		// classification.
		var re *Error
		if errors.As(err, &re) {
			return &Error{Op: r.op, Status: re.Status, Message: re.Message, Err: re.Err}
		}
		return networkError(r.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return networkError(r.op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: r.op, Status: resp.StatusCode, Message: serverMessage(body)}
		c.logger.Printf("%s %s: %d", r.method, r.path, resp.StatusCode)
		return e
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: r.op, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

// serverMessage extracts {"message": "..."} or falls back to the raw body.
func serverMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
