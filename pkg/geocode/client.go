// Package geocode resolves UK postal addresses to coordinates via Google
// (when a key is configured) and postcodes.io.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/charity-directory/internal/resilience"
)

// Client geocodes addresses.
type Client interface {
	// Geocode geocodes a single address. An unmatched address is not an error.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// BatchGeocode geocodes addrs concurrently, returning results in input order.
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	ID       string // Optional identifier for batch correlation
	Address  string
	Postcode string
	Country  string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // "google" or "postcodes"
	Quality   string // "rooftop", "range", "centroid", "approximate"
	Matched   bool
}

// Option configures the client built by NewClient.
type Option func(*options)

type options struct {
	googleKey        string
	postcodesBaseURL string
	country          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	retry            resilience.RetryConfig
	cache            Cache
	batchConcurrency int
}

// WithGoogleAPIKey enables the Google Geocoding API ahead of postcodes.io.
func WithGoogleAPIKey(key string) Option {
	return func(o *options) { o.googleKey = key }
}

// WithPostcodesBaseURL overrides the postcodes.io endpoint.
func WithPostcodesBaseURL(u string) Option {
	return func(o *options) { o.postcodesBaseURL = strings.TrimRight(u, "/") }
}

// WithCountry sets the region appended to free-text addresses.
func WithCountry(country string) Option {
	return func(o *options) { o.country = country }
}

// WithHTTPClient sets a custom HTTP client for all providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithRateLimit sets the shared requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(o *options) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy for transient provider failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithBatchConcurrency sets the max parallel lookups for BatchGeocode.
func WithBatchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// NewClient builds a CascadeClient. Google is tried first when a key is
// configured, then postcodes.io.
func NewClient(opts ...Option) *CascadeClient {
	o := &options{
		postcodesBaseURL: postcodesBaseURL,
		country:          "UK",
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		limiter:          rate.NewLimiter(10, 10),
		retry:            resilience.DefaultRetryConfig(),
		batchConcurrency: 4,
	}
	for _, opt := range opts {
		opt(o)
	}

	var providers []Provider
	if o.googleKey != "" {
		providers = append(providers, &GoogleProvider{
			httpClient: o.httpClient,
			key:        o.googleKey,
			region:     o.country,
			limiter:    o.limiter,
			retry:      o.retry,
		})
	}
	providers = append(providers, &PostcodesProvider{
		httpClient: o.httpClient,
		baseURL:    o.postcodesBaseURL,
		limiter:    o.limiter,
		retry:      o.retry,
	})

	return NewCascadeClient(providers,
		WithCascadeCache(o.cache),
		WithCascadeBatchConcurrency(o.batchConcurrency),
		WithCascadeCountry(o.country),
	)
}

// formatOneLine joins the address parts into a single comma-separated line.
func formatOneLine(addr AddressInput) string {
	var parts []string
	for _, p := range []string{addr.Address, addr.Postcode, addr.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
