package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dshills/plugkit/internal/plugin/security"
)

var (
	// ErrUnsupportedScheme is returned for URLs other than http and https.
	ErrUnsupportedScheme = errors.New("only http and https URLs may be fetched")

	// ErrResponseTooLarge is returned when a body exceeds the configured cap.
	ErrResponseTooLarge = errors.New("response body too large")
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchRequest is the options table of api.http.fetch.
type FetchRequest struct {
	URL     string            `cbor:"url"`
	Method  string            `cbor:"method"`
	Headers map[string]string `cbor:"headers"`
	Body    string            `cbor:"body"`
}

// FetchResponse is returned to the plugin.
type FetchResponse struct {
	Status  int
	Headers map[string]string
	Body    string
}

// ToMap converts the response into the table shape plugins receive.
func (r *FetchResponse) ToMap() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status":  r.Status,
		"ok":      r.Status >= 200 && r.Status < 300,
		"headers": headers,
		"body":    r.Body,
	}
}

// HTTPAPI implements api.http.
type HTTPAPI struct {
	api     *CapabilityAPI
	client  Doer
	policy  *security.HostPolicy
	limiter *security.RateLimiter
	limits  security.Limits
}

// Fetch performs an outbound request. Requires network-access; the
// host policy and rate limit apply after the permission check.
func (h *HTTPAPI) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := h.api.check(ctx, security.MethodHTTPFetch); err != nil {
		return nil, err
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrInvalidArgument, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err := h.policy.Check(u.Host); err != nil {
		return nil, err
	}
	if !h.limiter.Allow() {
		return nil, fmt.Errorf("%w: %d requests per second", security.ErrRateLimited, h.limits.NetworkReqPerSecond)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if h.limits.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.limits.FetchTimeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	limit := h.limits.MaxResponseBytes
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return &FetchResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    string(data),
	}, nil
}
