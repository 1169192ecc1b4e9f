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

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleProvider geocodes free-text addresses with the Google Geocoding API.
type GoogleProvider struct {
	httpClient *http.Client
	key        string
	region     string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Available implements Provider.
func (p *GoogleProvider) Available(addr AddressInput) bool {
	return p.key != "" && (strings.TrimSpace(addr.Address) != "" || strings.TrimSpace(addr.Postcode) != "")
}

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("google", "geocode")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		return p.geocodeOnce(ctx, addr)
	})
}

func (p *GoogleProvider) geocodeOnce(ctx context.Context, addr AddressInput) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {formatOneLine(addr)},
		"key":     {p.key},
	}
	if p.region != "" {
		params.Set("region", strings.ToLower(p.region))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var body googleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Matched: false, Source: "google"}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.Errorf("geocode: google status %s", body.Status), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return &Result{Matched: false, Source: "google"}, nil
	}

	r := body.Results[0]
	return &Result{
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
		Source:    "google",
		Quality:   googleLocationTypeToQuality(r.Geometry.LocationType),
		Matched:   true,
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
