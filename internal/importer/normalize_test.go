package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanizeAllFirstCapitals(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HARROW BAPTIST CHURCH", "Harrow Baptist Church"},
		{"harrow   baptist church", "Harrow Baptist Church"},
		{"  ", ""},
		{"", ""},
		{"1 HIGH STREET", "1 High Street"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanizeAllFirstCapitals(tt.in), tt.in)
	}
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "No information recorded", Humanize("NO INFORMATION RECORDED"))
	assert.Equal(t, "Social activities", Humanize("social_activities"))
	assert.Equal(t, "", Humanize("   "))
	assert.Equal(t, "A", Humanize("a"))
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantAddress  string
		wantPostcode string
	}{
		{"postcode after comma", "HARROW BAPTIST CHURCH, COLLEGE ROAD, HARROW, HA1 1BA", "Harrow Baptist Church, College Road, Harrow", "HA1 1BA"},
		{"missing space after comma", "HARROW BAPTIST CHURCH,COLLEGE ROAD, HARROW, HA1 1BA", "Harrow Baptist Church, College Road, Harrow", "HA1 1BA"},
		{"no postcode", "HARROW BAPTIST CHURCH, COLLEGE ROAD, HARROW", "Harrow Baptist Church, College Road, Harrow", ""},
		{"empty", "", "", ""},
		{"lower case postcode without space", "1 high street, london, sw1a2aa", "1 High Street, London", "SW1A 2AA"},
		{"postcode after space", "1 HIGH STREET HARROW HA3 5AB", "1 High Street Harrow", "HA3 5AB"},
		{"postcode only", "HA1 1BA", "", "HA1 1BA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address, postcode := SplitAddress(tt.raw)
			assert.Equal(t, tt.wantAddress, address)
			assert.Equal(t, tt.wantPostcode, postcode)
		})
	}
}
