package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/charity-directory/internal/db"
	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/pkg/geocode"
)

// PostgresStore implements Store on PostgreSQL with PostGIS. Each
// organisation with coordinates also carries a geometry(Point, 4326).
type PostgresStore struct {
	pool db.Pool
	q    db.Querier
	inTx bool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS organisations (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	postcode      TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	telephone     TEXT NOT NULL DEFAULT '',
	donation_info TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	location      geometry(Point, 4326),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ,
	CHECK ((latitude IS NULL) = (longitude IS NULL))
);

CREATE TABLE IF NOT EXISTS categories (
	id                    BIGSERIAL PRIMARY KEY,
	charity_commission_id INTEGER NOT NULL UNIQUE,
	name                  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS organisation_categories (
	organisation_id BIGINT NOT NULL REFERENCES organisations(id),
	category_id     BIGINT NOT NULL REFERENCES categories(id),
	PRIMARY KEY (organisation_id, category_id)
);

CREATE TABLE IF NOT EXISTS users (
	id                     BIGSERIAL PRIMARY KEY,
	email                  TEXT NOT NULL,
	organisation_id        BIGINT REFERENCES organisations(id),
	invitation_sent_at     TIMESTAMPTZ,
	invitation_accepted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS import_runs (
	id           UUID PRIMARY KEY,
	kind         TEXT NOT NULL,
	source       TEXT NOT NULL,
	row_limit    INTEGER NOT NULL,
	attempted    INTEGER NOT NULL DEFAULT 0,
	committed    INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_organisations_active_name ON organisations (lower(name)) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_organisations_location ON organisations USING GIST (location);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (lower(email));
CREATE INDEX IF NOT EXISTS idx_users_organisation_id ON users (organisation_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs (started_at);
`

// Migrate creates the schema, including the geocode cache table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	if _, err := s.q.Exec(ctx, geocode.CacheSchema); err != nil {
		return eris.Wrap(err, "postgres: migrate geocode cache")
	}
	return nil
}

// Close closes the pool. A transaction-bound store does not own the pool.
func (s *PostgresStore) Close() error {
	if !s.inTx {
		s.pool.Close()
	}
	return nil
}

// Pool exposes the underlying pool for helpers that share it, such as the
// geocode cache.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx, inTx: true})
	})
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return s.q.Exec(ctx, rebind(query), args...)
}

func (s *PostgresStore) queryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return s.q.QueryRow(ctx, rebind(query), args...)
}

// --- Organisations ---

func (s *PostgresStore) CreateOrganisation(ctx context.Context, org *model.Organisation) error {
	if err := checkCoordinates(org); err != nil {
		return err
	}
	loc, err := locationEWKB(org)
	if err != nil {
		return err
	}
	err = s.queryRow(ctx, `
		INSERT INTO organisations (name, description, address, postcode, website, telephone,
			donation_info, email, latitude, longitude, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ST_GeomFromEWKB(?))
		RETURNING id, created_at, updated_at`,
		org.Name, org.Description, org.Address, org.Postcode, org.Website, org.Telephone,
		org.DonationInfo, org.Email, org.Latitude, org.Longitude, loc,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if isPgUnique(err) {
		return eris.Wrapf(ErrNameTaken, "organisation %q", org.Name)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert organisation %q", org.Name)
	}
	return nil
}

func (s *PostgresStore) UpdateOrganisation(ctx context.Context, org *model.Organisation) error {
	if err := checkCoordinates(org); err != nil {
		return err
	}
	loc, err := locationEWKB(org)
	if err != nil {
		return err
	}
	err = s.queryRow(ctx, `
		UPDATE organisations SET name = ?, description = ?, address = ?, postcode = ?, website = ?,
			telephone = ?, donation_info = ?, email = ?, latitude = ?, longitude = ?,
			location = ST_GeomFromEWKB(?), updated_at = now()
		WHERE id = ?
		RETURNING updated_at`,
		org.Name, org.Description, org.Address, org.Postcode, org.Website,
		org.Telephone, org.DonationInfo, org.Email, org.Latitude, org.Longitude,
		loc, org.ID,
	).Scan(&org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "organisation %d", org.ID)
	}
	if isPgUnique(err) {
		return eris.Wrapf(ErrNameTaken, "organisation %d as %q", org.ID, org.Name)
	}
	return eris.Wrapf(err, "postgres: update organisation %d", org.ID)
}

func (s *PostgresStore) GetOrganisation(ctx context.Context, id int64, mode model.QueryMode) (*model.Organisation, error) {
	var o model.Organisation
	err := s.queryRow(ctx, withMode(qGetOrganisation, mode), id).Scan(orgDests(&o)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "organisation %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organisation %d", id)
	}
	return &o, nil
}

func (s *PostgresStore) FindOrganisationByName(ctx context.Context, name string, mode model.QueryMode) (*model.Organisation, error) {
	var o model.Organisation
	err := s.queryRow(ctx, withMode(qFindByName, mode)+" ORDER BY o.deleted_at IS NOT NULL, o.id LIMIT 1", name).Scan(orgDests(&o)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find organisation %q", name)
	}
	return &o, nil
}

func (s *PostgresStore) SearchByNameContains(ctx context.Context, fragment string) ([]model.Organisation, error) {
	return s.queryOrganisations(ctx, qNameContains, likeContains(strings.ToUpper(fragment)))
}

func (s *PostgresStore) SearchOrganisations(ctx context.Context, filter model.Filter) ([]model.Organisation, error) {
	q, args := searchQuery(filter)
	return s.queryOrganisations(ctx, q, args...)
}

func (s *PostgresStore) ListOrphans(ctx context.Context) ([]model.Organisation, error) {
	return s.queryOrganisations(ctx, qOrphans)
}

func (s *PostgresStore) ListUngeocoded(ctx context.Context, limit int) ([]model.Organisation, error) {
	var lim any // NULL means no limit
	if limit > 0 {
		lim = limit
	}
	return s.queryOrganisations(ctx, qUngeocoded, lim)
}

func (s *PostgresStore) SoftDeleteOrganisation(ctx context.Context, id int64) error {
	tag, err := s.exec(ctx, qSoftDelete, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete organisation %d", id)
	}
	return checkTag(tag, "organisation", id)
}

func (s *PostgresStore) RestoreOrganisation(ctx context.Context, id int64) error {
	tag, err := s.exec(ctx, qRestore, id)
	if isPgUnique(err) {
		return eris.Wrapf(ErrNameTaken, "restore organisation %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: restore organisation %d", id)
	}
	return checkTag(tag, "organisation", id)
}

// isPgUnique reports whether err is a unique_violation (23505).
func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CountOrganisations(ctx context.Context, mode model.QueryMode) (int, error) {
	q := qCountAll
	if mode == model.QueryActive {
		q = qCountActive
	}
	return s.count(ctx, q)
}

func (s *PostgresStore) queryOrganisations(ctx context.Context, query string, args ...any) ([]model.Organisation, error) {
	rows, err := s.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query organisations")
	}
	defer rows.Close()

	var out []model.Organisation
	for rows.Next() {
		var o model.Organisation
		if err := rows.Scan(orgDests(&o)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan organisation")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate organisations")
}

// --- Categories ---

var categoryUpsert = db.UpsertConfig{
	Table:        "categories",
	Columns:      []string{"charity_commission_id", "name"},
	ConflictKeys: []string{"charity_commission_id"},
}

// UpsertCategories bulk-loads through COPY when called outside a
// transaction, and falls back to row-by-row upserts inside one.
func (s *PostgresStore) UpsertCategories(ctx context.Context, cats []model.Category) (int64, error) {
	if !s.inTx {
		rows := make([][]any, len(cats))
		for i, c := range cats {
			rows[i] = []any{c.CharityCommissionID, c.Name}
		}
		n, err := db.BulkUpsert(ctx, s.pool, categoryUpsert, rows)
		return n, eris.Wrap(err, "postgres: upsert categories")
	}

	var n int64
	for _, c := range cats {
		tag, err := s.exec(ctx, qUpsertCategory, c.CharityCommissionID, c.Name)
		if err != nil {
			return n, eris.Wrapf(err, "postgres: upsert category %d", c.CharityCommissionID)
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (s *PostgresStore) FindCategoryByCode(ctx context.Context, code int) (*model.Category, error) {
	var c model.Category
	err := s.queryRow(ctx, qCategoryByCode, code).Scan(&c.ID, &c.Name, &c.CharityCommissionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find category %d", code)
	}
	return &c, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.queryCategories(ctx, qListCategories)
}

func (s *PostgresStore) LinkCategory(ctx context.Context, orgID, categoryID int64) (bool, error) {
	tag, err := s.exec(ctx, qLinkCategory, orgID, categoryID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: link organisation %d to category %d", orgID, categoryID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) OrganisationCategories(ctx context.Context, orgID int64) ([]model.Category, error) {
	return s.queryCategories(ctx, qOrgCategories, orgID)
}

func (s *PostgresStore) CountCategoryLinks(ctx context.Context) (int, error) {
	return s.count(ctx, qCountLinks)
}

func (s *PostgresStore) queryCategories(ctx context.Context, query string, args ...any) ([]model.Category, error) {
	rows, err := s.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query categories")
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CharityCommissionID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate categories")
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.queryRow(ctx, qCreateUser,
		strings.TrimSpace(u.Email), u.OrganisationID, u.InvitationSentAt, u.InvitationAcceptedAt,
	).Scan(&u.ID)
	return eris.Wrapf(err, "postgres: insert user %q", u.Email)
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.queryRow(ctx, qUserByEmail, strings.TrimSpace(email)).Scan(userDests(&u)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find user %q", email)
	}
	return &u, nil
}

func (s *PostgresStore) AssignUser(ctx context.Context, userID, orgID int64) error {
	tag, err := s.exec(ctx, qAssignUser, orgID, userID)
	if err != nil {
		return eris.Wrapf(err, "postgres: assign user %d", userID)
	}
	return checkTag(tag, "user", userID)
}

func (s *PostgresStore) UninviteUsers(ctx context.Context, orgID int64) (int64, error) {
	tag, err := s.exec(ctx, qUninviteUsers, orgID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: uninvite users of organisation %d", orgID)
	}
	return tag.RowsAffected(), nil
}

// --- Import runs ---

func (s *PostgresStore) StartImportRun(ctx context.Context, kind model.RunKind, source string, limit int) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Limit:     limit,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.exec(ctx, qStartRun,
		run.ID, string(run.Kind), run.Source, run.Limit, string(run.Status), run.StartedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert import run")
	}
	return run, nil
}

func (s *PostgresStore) FinishImportRun(ctx context.Context, run *model.ImportRun) error {
	now := time.Now().UTC()
	tag, err := s.exec(ctx, qFinishRun,
		run.Attempted, run.Committed, run.Skipped, string(run.Status), run.Error, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish import run %s", run.ID)
	}
	run.CompletedAt = &now
	return checkTag(tag, "import run", run.ID)
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, rebind(qListRuns), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import runs")
	}
	defer rows.Close()

	var out []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		if err := rows.Scan(runDests(&r)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate import runs")
}

// helpers

func (s *PostgresStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.queryRow(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count")
	}
	return n, nil
}

func checkTag[ID any](tag pgconn.CommandTag, entity string, id ID) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

// locationEWKB encodes the organisation's coordinates as an SRID 4326 point,
// or returns nil when there are none.
func locationEWKB(org *model.Organisation) ([]byte, error) {
	if !org.HasCoordinates() {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{*org.Longitude, *org.Latitude}).SetSRID(4326)
	b, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode location")
	}
	return b, nil
}
