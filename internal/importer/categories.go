package importer

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/model"
)

// ClassificationCodes splits a register classification cell into numeric
// category codes. Blank and non-numeric tokens are dropped.
func ClassificationCodes(raw string) []int {
	var codes []int
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		code, err := strconv.Atoi(tok)
		if err != nil {
			zap.L().Debug("importer: skipping classification token", zap.String("token", tok))
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

// ImportCategoriesFromRow links the organisation named in row to each known
// category code in its classification cell. It returns the organisation and
// the number of links created. An unknown organisation returns nil, 0, nil.
func (imp *Importer) ImportCategoriesFromRow(ctx context.Context, row Row) (*model.Organisation, int, error) {
	if err := CheckColumns(row, CategoryColumns); err != nil {
		return nil, 0, err
	}

	name := HumanizeAllFirstCapitals(row.Get(ColTitle))
	org, err := imp.store().FindOrganisationByName(ctx, name, model.QueryActive)
	if err != nil {
		return nil, 0, eris.Wrap(err, "importer: find organisation")
	}
	if org == nil {
		zap.L().Debug("importer: no organisation for categories", zap.String("name", name), zap.Int("line", row.Line))
		return nil, 0, nil
	}

	linked := 0
	for _, code := range ClassificationCodes(row.Get(ColClassification)) {
		cat, err := imp.store().FindCategoryByCode(ctx, code)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "importer: find category %d", code)
		}
		if cat == nil {
			continue
		}
		created, err := imp.store().LinkCategory(ctx, org.ID, cat.ID)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "importer: link category %d", code)
		}
		if created {
			linked++
		}
	}
	return org, linked, nil
}

// ImportCategoryMappings links categories from at most limit register rows in
// one transaction. Committed counts new links.
func (imp *Importer) ImportCategoryMappings(ctx context.Context, source string, limit int) (BatchResult, error) {
	return imp.runBatch(ctx, batchJob{
		kind:      model.RunKindCategories,
		source:    source,
		limit:     limit,
		hasHeader: true,
		required:  CategoryColumns,
	}, func(ctx context.Context, tx *Importer, row Row) (int, error) {
		_, n, err := tx.ImportCategoriesFromRow(ctx, row)
		return n, err
	})
}
