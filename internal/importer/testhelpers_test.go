package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-directory/internal/fetcher"
	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/organisation"
	"github.com/sells-group/charity-directory/internal/store"
)

func newTestImporter(t *testing.T) (*Importer, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	opener := fetcher.NewOpener(fetcher.OpenerOptions{TempDir: t.TempDir()})
	return New(organisation.NewService(st, nil), opener), st
}

func seedCategories(t *testing.T, st store.Store, codes ...int) {
	t.Helper()
	cats := make([]model.Category, len(codes))
	for i, code := range codes {
		cats[i] = model.Category{Name: "Category", CharityCommissionID: code}
	}
	_, err := st.UpsertCategories(context.Background(), cats)
	require.NoError(t, err)
}

func testdata(name string) string {
	return filepath.Join("testdata", name)
}

func countOrgs(t *testing.T, st store.Store) int {
	t.Helper()
	n, err := st.CountOrganisations(context.Background(), model.QueryAll)
	require.NoError(t, err)
	return n
}

func lastRun(t *testing.T, st store.Store) model.ImportRun {
	t.Helper()
	runs, err := st.ListImportRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}
