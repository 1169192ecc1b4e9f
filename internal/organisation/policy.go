// Package organisation applies the directory's save-time rules to
// organisations: URL normalisation, conditional geocoding, ownership changes
// and soft deletion.
package organisation

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/charity-directory/internal/model"
)

// GeocodeState is what the geocoding decision depends on. "Address" means
// the address and postcode together.
type GeocodeState struct {
	HasAddress     bool
	AddressChanged bool
	HasCoordinates bool
}

// ShouldGeocode reports whether a save must call the geocoder.
//
//	address changed         -> yes
//	unchanged, coordinates  -> no
//	unchanged, none         -> yes
//	no address at all       -> no
func ShouldGeocode(s GeocodeState) bool {
	if !s.HasAddress {
		return false
	}
	if s.AddressChanged {
		return true
	}
	return !s.HasCoordinates
}

// stateFor builds the geocode state for a save. prev is nil on create.
func stateFor(prev, next *model.Organisation) GeocodeState {
	return GeocodeState{
		HasAddress:     next.HasAddress(),
		AddressChanged: addressChanged(prev, next),
		HasCoordinates: next.HasCoordinates(),
	}
}

func addressChanged(prev, next *model.Organisation) bool {
	if prev == nil {
		return next.HasAddress()
	}
	return strings.TrimSpace(prev.Address) != strings.TrimSpace(next.Address) ||
		strings.TrimSpace(prev.Postcode) != strings.TrimSpace(next.Postcode)
}

// NormalizeURL prefixes http:// to a non-empty URL that has no scheme.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	return "http://" + u
}

func normalizeURLs(o *model.Organisation) {
	o.Website = NormalizeURL(o.Website)
	o.DonationInfo = NormalizeURL(o.DonationInfo)
}

// staleAfter is how long an organisation can go without an update before it
// is shown as stale.
const staleAfter = 365

// NotUpdatedRecently reports whether o was last updated 365 or more days
// before now.
func NotUpdatedRecently(o *model.Organisation, now time.Time) bool {
	return !o.UpdatedAt.After(now.AddDate(0, 0, -staleAfter))
}

// NotUpdatedRecentlyOrHasNoOwner reports whether o is stale or unclaimed.
func NotUpdatedRecentlyOrHasNoOwner(o *model.Organisation, now time.Time) bool {
	return NotUpdatedRecently(o, now) || !o.HasOwner
}

const (
	SmallMarkerIcon  = "https://maps.gstatic.com/intl/en_ALL/mapfiles/markers2/measle.png"
	SmallMarkerClass = "measle"
	LargeMarkerIcon  = "http://mt.googleapis.com/vt/icon/name=icons/spotlight/spotlight-poi.png"
	LargeMarkerClass = "marker"
)

// Marker describes how an organisation is drawn on the map.
type Marker struct {
	Icon   string `json:"icon"`
	Class  string `json:"class"`
	DataID int64  `json:"data_id"`
}

// MarkerFor returns the large marker for owned, recently updated
// organisations and the small one otherwise.
func MarkerFor(o *model.Organisation, now time.Time) Marker {
	if NotUpdatedRecentlyOrHasNoOwner(o, now) {
		return Marker{Icon: SmallMarkerIcon, Class: SmallMarkerClass, DataID: o.ID}
	}
	return Marker{Icon: LargeMarkerIcon, Class: LargeMarkerClass, DataID: o.ID}
}

// ParseCategoryID reads a category filter leniently. Anything that is not a
// positive integer means no filter.
func ParseCategoryID(raw string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
