package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/charity-directory/internal/resilience"
)

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func newTestRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

// newRewriteClient redirects requests whose URL starts with targetPrefix to
// the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig := req.URL.String()
	if !strings.HasPrefix(orig, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + orig[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = parsed
	out.Host = parsed.Host
	return t.base.RoundTrip(out)
}

// memCache is an in-memory Cache for cascade tests.
type memCache struct {
	entries map[string]Result
	puts    int
}

func newMemCache() *memCache { return &memCache{entries: map[string]Result{}} }

func (m *memCache) Get(_ context.Context, key string) (*Result, bool, error) {
	r, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (m *memCache) Put(_ context.Context, key string, r *Result) error {
	m.puts++
	m.entries[key] = *r
	return nil
}
