// Package model holds the directory's persisted entities.
package model

import (
	"strings"
	"time"
)

// Organisation is a charity or service listed in the directory.
type Organisation struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Address      string     `json:"address"`
	Postcode     string     `json:"postcode"`
	Website      string     `json:"website"`
	Telephone    string     `json:"telephone"`
	DonationInfo string     `json:"donation_info"`
	Email        string     `json:"email"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	HasOwner     bool       `json:"has_owner"` // read-only, derived from users.organisation_id
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// HasAddress reports whether there is anything to geocode.
func (o *Organisation) HasAddress() bool {
	return strings.TrimSpace(o.Address) != "" || strings.TrimSpace(o.Postcode) != ""
}

// HasCoordinates reports whether both latitude and longitude are set.
func (o *Organisation) HasCoordinates() bool {
	return o.Latitude != nil && o.Longitude != nil
}

// SetCoordinates sets latitude and longitude together.
func (o *Organisation) SetCoordinates(lat, lng float64) {
	o.Latitude = &lat
	o.Longitude = &lng
}

// ClearCoordinates removes both latitude and longitude.
func (o *Organisation) ClearCoordinates() {
	o.Latitude = nil
	o.Longitude = nil
}

// Deleted reports whether the organisation is soft-deleted.
func (o *Organisation) Deleted() bool {
	return o.DeletedAt != nil
}

// Clone returns a deep copy.
func (o *Organisation) Clone() *Organisation {
	c := *o
	if o.Latitude != nil {
		lat := *o.Latitude
		c.Latitude = &lat
	}
	if o.Longitude != nil {
		lng := *o.Longitude
		c.Longitude = &lng
	}
	if o.DeletedAt != nil {
		d := *o.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// Update lists the organisation fields a caller may change. Nil fields are
// left as they are.
type Update struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	Address      *string `json:"address,omitempty"`
	Postcode     *string `json:"postcode,omitempty"`
	Website      *string `json:"website,omitempty"`
	Telephone    *string `json:"telephone,omitempty"`
	DonationInfo *string `json:"donation_info,omitempty"`
	Email        *string `json:"email,omitempty"`
}

// Apply copies the set fields onto o.
func (u Update) Apply(o *Organisation) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.Name, u.Name)
	set(&o.Description, u.Description)
	set(&o.Address, u.Address)
	set(&o.Postcode, u.Postcode)
	set(&o.Website, u.Website)
	set(&o.Telephone, u.Telephone)
	set(&o.DonationInfo, u.DonationInfo)
	set(&o.Email, u.Email)
}

// Empty reports whether no field is set.
func (u Update) Empty() bool {
	return u == Update{}
}

// QueryMode selects whether soft-deleted rows are visible to a read.
type QueryMode int

const (
	// QueryActive hides soft-deleted organisations.
	QueryActive QueryMode = iota
	// QueryAll includes soft-deleted organisations.
	QueryAll
)

// Filter narrows an organisation search.
type Filter struct {
	Keyword    string    `json:"keyword,omitempty"`     // matches name or description
	CategoryID *int64    `json:"category_id,omitempty"` // nil = any category
	Mode       QueryMode `json:"mode"`
	Limit      int       `json:"limit,omitempty"`
}

// Category is a classification tag keyed by its Charity Commission code.
type Category struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name" yaml:"name"`
	CharityCommissionID int    `json:"charity_commission_id" yaml:"code"`
}

// User is the subset of a directory account that organisation workflows touch.
type User struct {
	ID                   int64      `json:"id"`
	Email                string     `json:"email"`
	OrganisationID       *int64     `json:"organisation_id,omitempty"`
	InvitationSentAt     *time.Time `json:"invitation_sent_at,omitempty"`
	InvitationAcceptedAt *time.Time `json:"invitation_accepted_at,omitempty"`
}

// PendingInvitation reports whether the user was invited and never accepted.
func (u *User) PendingInvitation() bool {
	return u.InvitationSentAt != nil && u.InvitationAcceptedAt == nil
}
