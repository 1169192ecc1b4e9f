package importer

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-directory/internal/model"
)

// EmailOptions configures an email backfill batch.
type EmailOptions struct {
	// HasHeader skips the first row of the source.
	HasHeader bool
}

// AddEmail fills in the email of every active organisation whose name
// contains the row's name, unless it already has one. It returns a message
// when nothing matched, and the number of organisations updated. A blank
// name matches nothing.
func (imp *Importer) AddEmail(ctx context.Context, row Row) (string, int, error) {
	name := row.At(emailNameIndex)
	email := row.At(emailEmailIndex)
	if name == "" {
		return fmt.Sprintf("%s was not found\n", name), 0, nil
	}

	matches, err := imp.store().SearchByNameContains(ctx, name)
	if err != nil {
		return "", 0, eris.Wrap(err, "importer: search by name")
	}
	if len(matches) == 0 {
		return fmt.Sprintf("%s was not found\n", name), 0, nil
	}

	written := 0
	for _, org := range matches {
		if org.Email != "" || email == "" {
			continue
		}
		if _, err := imp.svc.Update(ctx, imp.actor, org.ID, model.Update{Email: &email}); err != nil {
			return "", written, eris.Wrapf(err, "importer: set email for %d", org.ID)
		}
		written++
	}
	return "", written, nil
}

// ImportEmails backfills emails from at most limit rows of the register email
// export in one transaction.
func (imp *Importer) ImportEmails(ctx context.Context, source string, limit int, opts EmailOptions) (BatchResult, error) {
	var notFound []string
	res, err := imp.runBatch(ctx, batchJob{
		kind:       model.RunKindEmails,
		source:     source,
		limit:      limit,
		hasHeader:  opts.HasHeader,
		positional: true,
	}, func(ctx context.Context, tx *Importer, row Row) (int, error) {
		msg, n, err := tx.AddEmail(ctx, row)
		if msg != "" {
			notFound = append(notFound, row.At(emailNameIndex))
		}
		return n, err
	})
	res.NotFound = notFound
	return res, err
}
