package offdata

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// FetchRequest is the outbound half of the fetch contract. Cancellation is
// carried by the ctx passed to Fetch rather than an explicit signal field.
type FetchRequest struct {
	Method  string // "HEAD" or "GET"
	URL     string
	Headers map[string]string
}

// FetchResponse is the inbound half. Body is nil for HEAD responses.
// Headers are folded to lower-case keys with a single value, sufficient
// for the handful of headers the engine inspects (Content-Length,
// Content-Type, Accept-Ranges, Content-Encoding).
type FetchResponse struct {
	OK         bool
	StatusCode int
	Headers    map[string]string
	Body       io.ReadCloser
}

func (r *FetchResponse) header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers[strings.ToLower(key)]
}

// FetchClient is the injected transport: a client supporting HEAD, Range,
// and streaming bodies with cancellation. Implementations for other
// schemes (ftp, sftp) satisfy the same contract so the Download Engine
// never special-cases transport; see fetchclient_ftp.go and
// fetchclient_sftp.go.
type FetchClient interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// HTTPFetchClient is the default FetchClient, wrapping *http.Client. A
// cookie jar scoped by public suffix is attached so session cookies behave
// correctly across redirects and repeated fetches of the same host.
type HTTPFetchClient struct {
	client *http.Client
}

// NewHTTPFetchClient creates an HTTPFetchClient. If client is nil, a
// client with a public-suffix-scoped cookie jar and no timeout (the
// Download Engine manages its own cancellation via context) is created.
func NewHTTPFetchClient(client *http.Client) *HTTPFetchClient {
	if client == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client = &http.Client{Jar: jar}
	}
	return &HTTPFetchClient{client: client}
}

func (h *HTTPFetchClient) Fetch(ctx context.Context, freq FetchRequest) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, freq.Method, freq.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range freq.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	fresp := &FetchResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    headers,
	}
	if freq.Method == http.MethodHead {
		resp.Body.Close()
		fresp.Body = nil
	} else {
		fresp.Body = resp.Body
	}
	return fresp, nil
}

// DefaultRequestTimeout is a suggested bound for a single HEAD/GET round
// trip. No FetchClient in this package applies it (the default HTTP client
// has no timeout); the engine always passes its own per-attempt context.
// It is exported for FetchClient implementations that want a fallback.
const DefaultRequestTimeout = 30 * time.Second
