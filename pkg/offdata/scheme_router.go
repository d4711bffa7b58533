package offdata

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FetchClientFactory creates a FetchClient for URLs of a particular scheme.
type FetchClientFactory func() (FetchClient, error)

// SchemeRouter dispatches a raw URL's scheme to the FetchClient that knows
// how to speak it, so the Download Engine stays transport-agnostic.
type SchemeRouter struct {
	routes map[string]FetchClientFactory
}

// NewSchemeRouter creates a SchemeRouter pre-registered with http/https,
// ftp/ftps, and sftp clients.
func NewSchemeRouter() *SchemeRouter {
	r := &SchemeRouter{routes: make(map[string]FetchClientFactory)}
	httpFactory := func() (FetchClient, error) { return NewHTTPFetchClient(nil), nil }
	r.Register("http", httpFactory)
	r.Register("https", httpFactory)

	ftpFactory := func() (FetchClient, error) { return NewFTPFetchClient(), nil }
	r.Register("ftp", ftpFactory)
	r.Register("ftps", ftpFactory)

	sftpFactory := func() (FetchClient, error) { return NewSFTPFetchClient(""), nil }
	r.Register("sftp", sftpFactory)

	return r
}

// Register adds or replaces the factory for scheme (case-insensitive).
func (r *SchemeRouter) Register(scheme string, factory FetchClientFactory) {
	r.routes[strings.ToLower(scheme)] = factory
}

// ClientFor returns a FetchClient able to handle rawURL's scheme.
func (r *SchemeRouter) ClientFor(rawURL string) (FetchClient, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("offdata: invalid URL %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	factory, ok := r.routes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w %q — supported: %s", ErrUnsupportedScheme, scheme, strings.Join(r.SupportedSchemes(), ", "))
	}
	return factory()
}

// SupportedSchemes returns every registered scheme, sorted.
func (r *SchemeRouter) SupportedSchemes() []string {
	schemes := make([]string, 0, len(r.routes))
	for s := range r.routes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}
