// Package store persists organisations, categories, users and import runs.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/charity-directory/internal/model"
)

// ErrNotFound is returned when a keyed read or write matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrNameTaken is returned when a write would give two active organisations
// the same name (case-insensitive).
var ErrNameTaken = errors.New("store: organisation name already in use")

// Store defines the persistence interface for the directory.
type Store interface {
	// Organisations
	CreateOrganisation(ctx context.Context, org *model.Organisation) error
	UpdateOrganisation(ctx context.Context, org *model.Organisation) error
	GetOrganisation(ctx context.Context, id int64, mode model.QueryMode) (*model.Organisation, error)
	// FindOrganisationByName matches the whole name case-insensitively and
	// returns nil, nil when nothing matches.
	FindOrganisationByName(ctx context.Context, name string, mode model.QueryMode) (*model.Organisation, error)
	// SearchByNameContains matches active organisations whose name contains
	// fragment, ignoring case.
	SearchByNameContains(ctx context.Context, fragment string) ([]model.Organisation, error)
	SearchOrganisations(ctx context.Context, filter model.Filter) ([]model.Organisation, error)
	// ListOrphans returns active organisations with an email, no linked user
	// and no user registered under that email.
	ListOrphans(ctx context.Context) ([]model.Organisation, error)
	// ListUngeocoded returns active organisations with an address but no
	// coordinates.
	ListUngeocoded(ctx context.Context, limit int) ([]model.Organisation, error)
	SoftDeleteOrganisation(ctx context.Context, id int64) error
	RestoreOrganisation(ctx context.Context, id int64) error
	CountOrganisations(ctx context.Context, mode model.QueryMode) (int, error)

	// Categories
	UpsertCategories(ctx context.Context, cats []model.Category) (int64, error)
	FindCategoryByCode(ctx context.Context, code int) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	// LinkCategory reports whether a new link was created.
	LinkCategory(ctx context.Context, orgID, categoryID int64) (bool, error)
	OrganisationCategories(ctx context.Context, orgID int64) ([]model.Category, error)
	CountCategoryLinks(ctx context.Context) (int, error)

	// Users
	CreateUser(ctx context.Context, u *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	AssignUser(ctx context.Context, userID, orgID int64) error
	// UninviteUsers detaches users of orgID whose invitation is pending.
	UninviteUsers(ctx context.Context, orgID int64) (int64, error)

	// Import runs
	StartImportRun(ctx context.Context, kind model.RunKind, source string, limit int) (*model.ImportRun, error)
	FinishImportRun(ctx context.Context, run *model.ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// WithTx runs fn against a Store bound to one transaction. fn's error
	// rolls everything back. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
