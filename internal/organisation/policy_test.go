package organisation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-directory/internal/model"
)

func TestShouldGeocode(t *testing.T) {
	tests := []struct {
		name  string
		state GeocodeState
		want  bool
	}{
		{"address changed without coordinates", GeocodeState{HasAddress: true, AddressChanged: true}, true},
		{"address changed with coordinates", GeocodeState{HasAddress: true, AddressChanged: true, HasCoordinates: true}, true},
		{"unchanged with coordinates", GeocodeState{HasAddress: true, HasCoordinates: true}, false},
		{"unchanged without coordinates", GeocodeState{HasAddress: true}, true},
		{"no address", GeocodeState{}, false},
		{"no address but flagged changed", GeocodeState{AddressChanged: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldGeocode(tt.state))
		})
	}
}

func TestStateFor(t *testing.T) {
	next := &model.Organisation{Address: "64 Pinner Road", Postcode: "HA1 3TE"}
	assert.Equal(t, GeocodeState{HasAddress: true, AddressChanged: true}, stateFor(nil, next))

	prev := next.Clone()
	prev.SetCoordinates(1, 2)
	same := prev.Clone()
	assert.Equal(t, GeocodeState{HasAddress: true, HasCoordinates: true}, stateFor(prev, same))

	moved := prev.Clone()
	moved.Postcode = "HA1 3RE"
	assert.True(t, stateFor(prev, moved).AddressChanged)

	padded := prev.Clone()
	padded.Address = " 64 Pinner Road "
	assert.False(t, stateFor(prev, padded).AddressChanged)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://www.harrow-bereavment.co.uk/donate", NormalizeURL("www.harrow-bereavment.co.uk/donate"))
	assert.Equal(t, "http://www.harrow-baptist.org.uk", NormalizeURL("http://www.harrow-baptist.org.uk"))
	assert.Equal(t, "HTTPS://example.org", NormalizeURL("HTTPS://example.org"))
	assert.Equal(t, "", NormalizeURL(""))
	assert.Equal(t, "", NormalizeURL("   "))
}

func TestNotUpdatedRecently(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(days int) *model.Organisation {
		return &model.Organisation{UpdatedAt: now.AddDate(0, 0, -days)}
	}

	assert.False(t, NotUpdatedRecently(at(0), now))
	assert.False(t, NotUpdatedRecently(at(364), now))
	assert.True(t, NotUpdatedRecently(at(365), now))
	assert.True(t, NotUpdatedRecently(at(366), now))
}

func TestNotUpdatedRecentlyOrHasNoOwner(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	org := func(days int, owned bool) *model.Organisation {
		return &model.Organisation{UpdatedAt: now.AddDate(0, 0, -days), HasOwner: owned}
	}

	assert.True(t, NotUpdatedRecentlyOrHasNoOwner(org(364, false), now))
	assert.True(t, NotUpdatedRecentlyOrHasNoOwner(org(366, true), now))
	assert.True(t, NotUpdatedRecentlyOrHasNoOwner(org(366, false), now))
	assert.False(t, NotUpdatedRecentlyOrHasNoOwner(org(364, true), now))
}

func TestMarkerFor(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := &model.Organisation{ID: 12, UpdatedAt: updated}

	m := MarkerFor(o, updated)
	assert.Equal(t, Marker{Icon: SmallMarkerIcon, Class: "measle", DataID: 12}, m)

	o.HasOwner = true
	for _, days := range []int{2, 100, 200, 364} {
		m := MarkerFor(o, updated.AddDate(0, 0, days))
		assert.Equal(t, "marker", m.Class, "%d days", days)
		assert.Equal(t, LargeMarkerIcon, m.Icon)
		assert.Equal(t, int64(12), m.DataID)
	}
	for _, days := range []int{365, 366, 500} {
		m := MarkerFor(o, updated.AddDate(0, 0, days))
		assert.Equal(t, "measle", m.Class, "%d days", days)
	}
}

func TestParseCategoryID(t *testing.T) {
	id := ParseCategoryID("7")
	require.NotNil(t, id)
	assert.Equal(t, int64(7), *id)

	for _, raw := range []string{"", "?test=0", "abc", "0", "-3", "1.5"} {
		assert.Nil(t, ParseCategoryID(raw), raw)
	}
}

func TestUnknownSuperadminError(t *testing.T) {
	err := &UnknownSuperadminError{Email: "nonexistentuser@example.com"}
	assert.Equal(t, "The user email you entered,'nonexistentuser@example.com', does not exist in the system", err.Error())
}
