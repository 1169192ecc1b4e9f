package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/charity-directory/internal/resilience"
)

const postcodesBaseURL = "https://api.postcodes.io"

type postcodesResponse struct {
	Status int `json:"status"`
	Result *struct {
		Postcode  string   `json:"postcode"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
	Error string `json:"error"`
}

// PostcodesProvider resolves a UK postcode to its centroid via postcodes.io.
// It ignores the free-text address.
type PostcodesProvider struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// Name implements Provider.
func (p *PostcodesProvider) Name() string { return "postcodes" }

// Available implements Provider.
func (p *PostcodesProvider) Available(addr AddressInput) bool {
	return strings.TrimSpace(addr.Postcode) != ""
}

// Geocode implements Provider.
func (p *PostcodesProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("postcodes", "lookup")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		return p.lookup(ctx, strings.TrimSpace(addr.Postcode))
	})
}

func (p *PostcodesProvider) lookup(ctx context.Context, postcode string) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: postcodes rate limit")
	}

	reqURL := p.baseURL + "/postcodes/" + url.PathEscape(postcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: postcodes build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: postcodes request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Result{Matched: false, Source: "postcodes"}, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(eris.Errorf("geocode: postcodes returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("geocode: postcodes returned status %d", resp.StatusCode)
	}

	var body postcodesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "geocode: postcodes parse response")
	}

	// Terminated and non-geographic postcodes come back with null coordinates.
	if body.Result == nil || body.Result.Latitude == nil || body.Result.Longitude == nil {
		return &Result{Matched: false, Source: "postcodes"}, nil
	}

	return &Result{
		Latitude:  *body.Result.Latitude,
		Longitude: *body.Result.Longitude,
		Source:    "postcodes",
		Quality:   "centroid",
		Matched:   true,
	}, nil
}
