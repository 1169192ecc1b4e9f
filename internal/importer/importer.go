// Package importer loads Charity Commission register extracts into the
// directory: organisations, their category links and contact emails.
package importer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/fetcher"
	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/organisation"
	"github.com/sells-group/charity-directory/internal/store"
)

// SourceOpener opens a tabular source by path or URL.
type SourceOpener interface {
	Open(ctx context.Context, ref string, hasHeader bool) (*fetcher.Rows, error)
}

// Importer turns register rows into directory records.
type Importer struct {
	svc    *organisation.Service
	opener SourceOpener
	actor  organisation.Actor
}

// New creates an Importer that saves through svc and reads batches through
// opener. Imports run as organisation.System.
func New(svc *organisation.Service, opener SourceOpener) *Importer {
	return &Importer{svc: svc, opener: opener, actor: organisation.System}
}

func (imp *Importer) store() store.Store { return imp.svc.Store() }

// withStore returns a copy bound to st, typically a transaction.
func (imp *Importer) withStore(st store.Store) *Importer {
	c := *imp
	c.svc = imp.svc.WithStore(st)
	return &c
}

// CreateFromRow parses row and creates the organisation unless the register
// marks it removed or an active organisation already has the same name. Both
// of those return nil, nil and write nothing.
func (imp *Importer) CreateFromRow(ctx context.Context, row Row) (*model.Organisation, error) {
	org, err := ParseOrganisation(row)
	if err != nil || org == nil {
		return nil, err
	}

	existing, err := imp.store().FindOrganisationByName(ctx, org.Name, model.QueryActive)
	if err != nil {
		return nil, eris.Wrap(err, "importer: find existing")
	}
	if existing != nil {
		zap.L().Debug("importer: organisation exists",
			zap.String("name", org.Name),
			zap.Int64("id", existing.ID),
			zap.Int("line", row.Line),
		)
		return nil, nil
	}

	created, err := imp.svc.Create(ctx, imp.actor, org)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: create %q", org.Name)
	}
	return created, nil
}

// ImportAddresses creates organisations from at most limit register rows in
// one transaction.
func (imp *Importer) ImportAddresses(ctx context.Context, source string, limit int) (BatchResult, error) {
	return imp.runBatch(ctx, batchJob{
		kind:      model.RunKindOrganisations,
		source:    source,
		limit:     limit,
		hasHeader: true,
		required:  OrganisationColumns,
	}, func(ctx context.Context, tx *Importer, row Row) (int, error) {
		org, err := tx.CreateFromRow(ctx, row)
		if err != nil || org == nil {
			return 0, err
		}
		return 1, nil
	})
}
