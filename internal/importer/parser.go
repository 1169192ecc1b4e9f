package importer

import (
	"github.com/sells-group/charity-directory/internal/model"
)

// DefaultDescription is used when the register has no activities text.
const DefaultDescription = "No information recorded"

// ParseOrganisation maps a register row onto an unsaved Organisation. It
// returns nil, nil for charities the register marks as removed.
func ParseOrganisation(row Row) (*model.Organisation, error) {
	if err := CheckColumns(row, OrganisationColumns); err != nil {
		return nil, err
	}
	if row.Get(ColDateRemoved) != "" {
		return nil, nil
	}

	address, postcode := SplitAddress(row.Get(ColContactAddress))
	description := Humanize(row.Get(ColActivities))
	if description == "" {
		description = DefaultDescription
	}

	return &model.Organisation{
		Name:        HumanizeAllFirstCapitals(row.Get(ColTitle)),
		Description: description,
		Address:     address,
		Postcode:    postcode,
		Website:     row.Get(ColWebsite),
		Telephone:   row.Get(ColTelephone),
	}, nil
}
