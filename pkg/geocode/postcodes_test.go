package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostcodes(srvURL string) *PostcodesProvider {
	return &PostcodesProvider{
		httpClient: http.DefaultClient,
		baseURL:    srvURL,
		limiter:    newTestLimiter(),
		retry:      newTestRetry(),
	}
}

func TestPostcodesGeocode_Match(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/postcodes/HA1 1BA", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":200,"result":{"postcode":"HA1 1BA","latitude":51.58,"longitude":-0.337}}`)
	}))
	defer srv.Close()

	result, err := newTestPostcodes(srv.URL).Geocode(context.Background(), AddressInput{Postcode: " HA1 1BA "})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "postcodes", result.Source)
	assert.Equal(t, "centroid", result.Quality)
	assert.InDelta(t, 51.58, result.Latitude, 0.0001)
	assert.InDelta(t, -0.337, result.Longitude, 0.0001)
}

func TestPostcodesGeocode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":404,"error":"Postcode not found"}`)
	}))
	defer srv.Close()

	result, err := newTestPostcodes(srv.URL).Geocode(context.Background(), AddressInput{Postcode: "ZZ9 9ZZ"})
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestPostcodesGeocode_NullCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":200,"result":{"postcode":"GIR 0AA","latitude":null,"longitude":null}}`)
	}))
	defer srv.Close()

	result, err := newTestPostcodes(srv.URL).Geocode(context.Background(), AddressInput{Postcode: "GIR 0AA"})
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestPostcodesGeocode_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestPostcodes(srv.URL).Geocode(context.Background(), AddressInput{Postcode: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestPostcodesProvider_Available(t *testing.T) {
	p := &PostcodesProvider{}
	assert.True(t, p.Available(AddressInput{Postcode: "HA1 1BA"}))
	assert.False(t, p.Available(AddressInput{Address: "College Road, Harrow"}))
}
