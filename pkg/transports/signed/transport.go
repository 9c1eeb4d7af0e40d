package signed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request is one vendor API call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// URL is the absolute request URL.
	URL string

	// Header holds additional request headers (If-Match tokens, content
	// types). May be nil.
	Header http.Header

	// Body is the raw request body. May be nil.
	Body []byte
}

// Response is the vendor's reply.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Status is the HTTP status line.
	Status string

	// Header holds the response headers (ETag lives here).
	Header http.Header

	// Body is the raw response body.
	Body []byte
}

// OK reports whether the response is in the 2xx family.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ETag returns the response concurrency token, unquoted.
func (r *Response) ETag() string {
	tag := r.Header.Get("ETag")
	if len(tag) >= 2 && tag[0] == '"' && tag[len(tag)-1] == '"' {
		tag = tag[1 : len(tag)-1]
	}
	return tag
}

// Transport performs authenticated vendor API requests. Implementations must
// be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Signer authenticates an outgoing request in place. Supplied by the host;
// the transport never sees credential material beyond this call.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(req *http.Request) error

// Sign implements Signer.
func (f SignerFunc) Sign(req *http.Request) error {
	return f(req)
}

// Config holds client configuration.
type Config struct {
	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// Client is the default Transport over net/http. It performs no retries:
// retry scheduling belongs to the host, and retrying non-idempotent vendor
// calls is unsafe below the adoption guard.
type Client struct {
	http   *http.Client
	signer Signer
	config Config
	logger zerolog.Logger
}

// NewClient creates a signing HTTP client.
func NewClient(signer Signer, cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cloudmoor"
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		signer: signer,
		config: cfg,
		logger: logger.With().Str("component", "signed-transport").Logger(),
	}
}

// Do signs and performs the request, reading the full response body.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	// A per-request id lets operators correlate our debug logs with the
	// vendor's request logs.
	requestID := uuid.New().String()
	httpReq.Header.Set("X-Request-Id", requestID)

	if c.signer != nil {
		if err := c.signer.Sign(httpReq); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	started := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Str("request_id", requestID).
		Int("status", httpResp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("Vendor API call")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}
