package jwks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Fetcher retrieves a verification key set from its source.
type Fetcher interface {
	Fetch(ctx context.Context) (jwk.Set, error)
}

// HTTPFetcher fetches a JWKS document from a remote endpoint.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for the given JWKS URL. A nil client
// falls back to a default with a 30 second timeout.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{url: url, client: client}
}

// Fetch retrieves and parses the remote key set.
func (f *HTTPFetcher) Fetch(ctx context.Context) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, f.url, jwk.WithHTTPClient(f.client))
	if err != nil {
		return nil, fmt.Errorf("fetch key set from %s: %w", f.url, err)
	}
	return set, nil
}

// URL returns the JWKS endpoint.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// StaticFetcher serves a fixed key set parsed once at construction,
// for locally configured keys.
type StaticFetcher struct {
	set jwk.Set
}

// NewStaticFetcher parses a JWKS document from bytes.
func NewStaticFetcher(data []byte) (*StaticFetcher, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse static key set: %w", err)
	}
	return &StaticFetcher{set: set}, nil
}

// NewStaticFetcherFromSet wraps an already constructed key set.
func NewStaticFetcherFromSet(set jwk.Set) *StaticFetcher {
	return &StaticFetcher{set: set}
}

func (f *StaticFetcher) Fetch(context.Context) (jwk.Set, error) {
	return f.set, nil
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*StaticFetcher)(nil)
)
