package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/charity-directory/internal/model"
)

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	q    sqlQuerier
	inTx bool
}

// NewSQLite opens a SQLite database at the given path. Pragmas go in the DSN
// so every pooled connection gets them.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, q: db}, nil
}

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organisations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	postcode      TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	telephone     TEXT NOT NULL DEFAULT '',
	donation_info TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	deleted_at    DATETIME,
	CHECK ((latitude IS NULL) = (longitude IS NULL))
);

CREATE TABLE IF NOT EXISTS categories (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	charity_commission_id INTEGER NOT NULL UNIQUE,
	name                  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS organisation_categories (
	organisation_id INTEGER NOT NULL REFERENCES organisations(id),
	category_id     INTEGER NOT NULL REFERENCES categories(id),
	PRIMARY KEY (organisation_id, category_id)
);

CREATE TABLE IF NOT EXISTS users (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	email                  TEXT NOT NULL,
	organisation_id        INTEGER REFERENCES organisations(id),
	invitation_sent_at     DATETIME,
	invitation_accepted_at DATETIME
);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	source       TEXT NOT NULL,
	row_limit    INTEGER NOT NULL,
	attempted    INTEGER NOT NULL DEFAULT 0,
	committed    INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_organisations_active_name ON organisations(lower(name)) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_organisations_deleted_at ON organisations(deleted_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(lower(email));
CREATE INDEX IF NOT EXISTS idx_users_organisation_id ON users(organisation_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Organisations ---

func (s *SQLiteStore) CreateOrganisation(ctx context.Context, org *model.Organisation) error {
	if err := checkCoordinates(org); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO organisations (name, description, address, postcode, website, telephone,
			donation_info, email, latitude, longitude, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		org.Name, org.Description, org.Address, org.Postcode, org.Website, org.Telephone,
		org.DonationInfo, org.Email, org.Latitude, org.Longitude, now, now,
	).Scan(&org.ID)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrNameTaken, "organisation %q", org.Name)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert organisation %q", org.Name)
	}
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateOrganisation(ctx context.Context, org *model.Organisation) error {
	if err := checkCoordinates(org); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE organisations SET name = ?, description = ?, address = ?, postcode = ?, website = ?,
			telephone = ?, donation_info = ?, email = ?, latitude = ?, longitude = ?, updated_at = ?
		WHERE id = ?`,
		org.Name, org.Description, org.Address, org.Postcode, org.Website,
		org.Telephone, org.DonationInfo, org.Email, org.Latitude, org.Longitude, now,
		org.ID,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrNameTaken, "organisation %d as %q", org.ID, org.Name)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update organisation %d", org.ID)
	}
	if err := checkRowsAffected(res, "organisation", org.ID); err != nil {
		return err
	}
	org.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetOrganisation(ctx context.Context, id int64, mode model.QueryMode) (*model.Organisation, error) {
	var o model.Organisation
	err := s.q.QueryRowContext(ctx, withMode(qGetOrganisation, mode), id).Scan(orgDests(&o)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "organisation %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get organisation %d", id)
	}
	return &o, nil
}

func (s *SQLiteStore) FindOrganisationByName(ctx context.Context, name string, mode model.QueryMode) (*model.Organisation, error) {
	var o model.Organisation
	err := s.q.QueryRowContext(ctx, withMode(qFindByName, mode)+" ORDER BY o.deleted_at IS NOT NULL, o.id LIMIT 1", name).Scan(orgDests(&o)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find organisation %q", name)
	}
	return &o, nil
}

func (s *SQLiteStore) SearchByNameContains(ctx context.Context, fragment string) ([]model.Organisation, error) {
	return s.queryOrganisations(ctx, qNameContains, likeContains(strings.ToUpper(fragment)))
}

func (s *SQLiteStore) SearchOrganisations(ctx context.Context, filter model.Filter) ([]model.Organisation, error) {
	q, args := searchQuery(filter)
	return s.queryOrganisations(ctx, q, args...)
}

func (s *SQLiteStore) ListOrphans(ctx context.Context) ([]model.Organisation, error) {
	return s.queryOrganisations(ctx, qOrphans)
}

func (s *SQLiteStore) ListUngeocoded(ctx context.Context, limit int) ([]model.Organisation, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryOrganisations(ctx, qUngeocoded, limit)
}

func (s *SQLiteStore) SoftDeleteOrganisation(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, qSoftDelete, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete organisation %d", id)
	}
	return checkRowsAffected(res, "organisation", id)
}

func (s *SQLiteStore) RestoreOrganisation(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, qRestore, id)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrNameTaken, "restore organisation %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: restore organisation %d", id)
	}
	return checkRowsAffected(res, "organisation", id)
}

// isSQLiteUnique reports whether err is a UNIQUE constraint violation.
func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *SQLiteStore) CountOrganisations(ctx context.Context, mode model.QueryMode) (int, error) {
	q := qCountAll
	if mode == model.QueryActive {
		q = qCountActive
	}
	return s.count(ctx, q)
}

func (s *SQLiteStore) queryOrganisations(ctx context.Context, query string, args ...any) ([]model.Organisation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query organisations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Organisation
	for rows.Next() {
		var o model.Organisation
		if err := rows.Scan(orgDests(&o)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan organisation")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate organisations")
}

// --- Categories ---

func (s *SQLiteStore) UpsertCategories(ctx context.Context, cats []model.Category) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(st Store) error {
		q := st.(*SQLiteStore).q
		for _, c := range cats {
			res, err := q.ExecContext(ctx, qUpsertCategory, c.CharityCommissionID, c.Name)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert category %d", c.CharityCommissionID)
			}
			affected, _ := res.RowsAffected()
			n += affected
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) FindCategoryByCode(ctx context.Context, code int) (*model.Category, error) {
	var c model.Category
	err := s.q.QueryRowContext(ctx, qCategoryByCode, code).Scan(&c.ID, &c.Name, &c.CharityCommissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find category %d", code)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.queryCategories(ctx, qListCategories)
}

func (s *SQLiteStore) LinkCategory(ctx context.Context, orgID, categoryID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx, qLinkCategory, orgID, categoryID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: link organisation %d to category %d", orgID, categoryID)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) OrganisationCategories(ctx context.Context, orgID int64) ([]model.Category, error) {
	return s.queryCategories(ctx, qOrgCategories, orgID)
}

func (s *SQLiteStore) CountCategoryLinks(ctx context.Context) (int, error) {
	return s.count(ctx, qCountLinks)
}

func (s *SQLiteStore) queryCategories(ctx context.Context, query string, args ...any) ([]model.Category, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query categories")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CharityCommissionID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate categories")
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.q.QueryRowContext(ctx, qCreateUser,
		strings.TrimSpace(u.Email), u.OrganisationID, u.InvitationSentAt, u.InvitationAcceptedAt,
	).Scan(&u.ID)
	return eris.Wrapf(err, "sqlite: insert user %q", u.Email)
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.q.QueryRowContext(ctx, qUserByEmail, strings.TrimSpace(email)).Scan(userDests(&u)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find user %q", email)
	}
	return &u, nil
}

func (s *SQLiteStore) AssignUser(ctx context.Context, userID, orgID int64) error {
	res, err := s.q.ExecContext(ctx, qAssignUser, orgID, userID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: assign user %d", userID)
	}
	return checkRowsAffected(res, "user", userID)
}

func (s *SQLiteStore) UninviteUsers(ctx context.Context, orgID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, qUninviteUsers, orgID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: uninvite users of organisation %d", orgID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- Import runs ---

func (s *SQLiteStore) StartImportRun(ctx context.Context, kind model.RunKind, source string, limit int) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Limit:     limit,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.q.ExecContext(ctx, qStartRun,
		run.ID, string(run.Kind), run.Source, run.Limit, string(run.Status), run.StartedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert import run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishImportRun(ctx context.Context, run *model.ImportRun) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx, qFinishRun,
		run.Attempted, run.Committed, run.Skipped, string(run.Status), run.Error, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish import run %s", run.ID)
	}
	run.CompletedAt = &now
	return checkRowsAffected(res, "import run", run.ID)
}

func (s *SQLiteStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, qListRuns, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		if err := rows.Scan(runDests(&r)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate import runs")
}

// helpers

func (s *SQLiteStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count")
	}
	return n, nil
}

func checkRowsAffected[ID any](res sql.Result, entity string, id ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

func checkCoordinates(org *model.Organisation) error {
	if (org.Latitude == nil) != (org.Longitude == nil) {
		return eris.Errorf("store: organisation %q has only one of latitude/longitude", org.Name)
	}
	return nil
}
