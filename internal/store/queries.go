package store

import (
	"strconv"
	"strings"

	"github.com/sells-group/charity-directory/internal/model"
)

// Queries are written with ? placeholders; the Postgres store rebinds them.

const orgColumns = `o.id, o.name, o.description, o.address, o.postcode, o.website, o.telephone,
	o.donation_info, o.email, o.latitude, o.longitude,
	EXISTS (SELECT 1 FROM users u WHERE u.organisation_id = o.id),
	o.created_at, o.updated_at, o.deleted_at`

const (
	qGetOrganisation = `SELECT ` + orgColumns + ` FROM organisations o WHERE o.id = ?`

	qFindByName = `SELECT ` + orgColumns + ` FROM organisations o WHERE lower(o.name) = lower(?)`

	qNameContains = `SELECT ` + orgColumns + ` FROM organisations o
	WHERE o.deleted_at IS NULL AND upper(o.name) LIKE ? ESCAPE '\' ORDER BY o.id`

	qOrphans = `SELECT ` + orgColumns + ` FROM organisations o
	WHERE o.deleted_at IS NULL
	  AND o.email <> ''
	  AND NOT EXISTS (SELECT 1 FROM users u WHERE u.organisation_id = o.id)
	  AND NOT EXISTS (SELECT 1 FROM users u WHERE lower(u.email) = lower(o.email))
	ORDER BY o.id`

	qUngeocoded = `SELECT ` + orgColumns + ` FROM organisations o
	WHERE o.deleted_at IS NULL
	  AND (o.address <> '' OR o.postcode <> '')
	  AND o.latitude IS NULL
	ORDER BY o.id LIMIT ?`

	qSoftDelete = `UPDATE organisations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`
	qRestore    = `UPDATE organisations SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`

	qCountActive = `SELECT count(*) FROM organisations WHERE deleted_at IS NULL`
	qCountAll    = `SELECT count(*) FROM organisations`

	qUpsertCategory = `INSERT INTO categories (charity_commission_id, name) VALUES (?, ?)
	ON CONFLICT (charity_commission_id) DO UPDATE SET name = excluded.name`
	qCategoryByCode = `SELECT id, name, charity_commission_id FROM categories WHERE charity_commission_id = ?`
	qListCategories = `SELECT id, name, charity_commission_id FROM categories ORDER BY charity_commission_id`
	qLinkCategory   = `INSERT INTO organisation_categories (organisation_id, category_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	qOrgCategories  = `SELECT c.id, c.name, c.charity_commission_id FROM categories c
	JOIN organisation_categories oc ON oc.category_id = c.id
	WHERE oc.organisation_id = ? ORDER BY c.charity_commission_id`
	qCountLinks = `SELECT count(*) FROM organisation_categories`

	qCreateUser = `INSERT INTO users (email, organisation_id, invitation_sent_at, invitation_accepted_at)
	VALUES (?, ?, ?, ?) RETURNING id`
	qUserByEmail = `SELECT id, email, organisation_id, invitation_sent_at, invitation_accepted_at
	FROM users WHERE lower(email) = lower(?)`
	qAssignUser    = `UPDATE users SET organisation_id = ? WHERE id = ?`
	qUninviteUsers = `UPDATE users SET organisation_id = NULL
	WHERE organisation_id = ? AND invitation_sent_at IS NOT NULL AND invitation_accepted_at IS NULL`

	qStartRun = `INSERT INTO import_runs (id, kind, source, row_limit, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`
	qFinishRun = `UPDATE import_runs SET attempted = ?, committed = ?, skipped = ?, status = ?, error = ?, completed_at = ?
	WHERE id = ?`
	qListRuns = `SELECT id, kind, source, row_limit, attempted, committed, skipped, status, error, started_at, completed_at
	FROM import_runs ORDER BY started_at DESC LIMIT ?`
)

type scannable interface {
	Scan(dest ...any) error
}

func orgDests(o *model.Organisation) []any {
	return []any{
		&o.ID, &o.Name, &o.Description, &o.Address, &o.Postcode, &o.Website, &o.Telephone,
		&o.DonationInfo, &o.Email, &o.Latitude, &o.Longitude,
		&o.HasOwner,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	}
}

func userDests(u *model.User) []any {
	return []any{&u.ID, &u.Email, &u.OrganisationID, &u.InvitationSentAt, &u.InvitationAcceptedAt}
}

func runDests(r *model.ImportRun) []any {
	return []any{&r.ID, &r.Kind, &r.Source, &r.Limit, &r.Attempted, &r.Committed, &r.Skipped,
		&r.Status, &r.Error, &r.StartedAt, &r.CompletedAt}
}

// withMode appends the soft-delete predicate for QueryActive.
func withMode(query string, mode model.QueryMode) string {
	if mode == model.QueryActive {
		return query + ` AND o.deleted_at IS NULL`
	}
	return query
}

// searchQuery builds the keyword/category search.
func searchQuery(f model.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Mode == model.QueryActive {
		where = append(where, "o.deleted_at IS NULL")
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := likeContains(strings.ToLower(kw))
		where = append(where, `(lower(o.name) LIKE ? ESCAPE '\' OR lower(o.description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.CategoryID != nil {
		where = append(where, "EXISTS (SELECT 1 FROM organisation_categories oc WHERE oc.organisation_id = o.id AND oc.category_id = ?)")
		args = append(args, *f.CategoryID)
	}

	q := `SELECT ` + orgColumns + ` FROM organisations o`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY o.id"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}
	return q, args
}

// likeContains escapes LIKE metacharacters and wraps s in %...%.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// rebind rewrites ? placeholders to $1, $2, ... Quoted literals are skipped.
func rebind(query string) string {
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 16)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
