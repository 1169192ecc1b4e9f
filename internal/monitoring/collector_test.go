package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func addRun(t *testing.T, st store.Store, kind model.RunKind, status model.RunStatus, attempted, committed int) {
	t.Helper()
	ctx := context.Background()
	run, err := st.StartImportRun(ctx, kind, "register.csv", 100)
	require.NoError(t, err)
	if status == model.RunStatusRunning {
		return
	}
	run.Status = status
	run.Attempted = attempted
	run.Committed = committed
	require.NoError(t, st.FinishImportRun(ctx, run))
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addRun(t, st, model.RunKindOrganisations, model.RunStatusComplete, 10, 8)
	addRun(t, st, model.RunKindCategories, model.RunStatusComplete, 10, 20)
	addRun(t, st, model.RunKindOrganisations, model.RunStatusAborted, 4, 0)
	addRun(t, st, model.RunKindEmails, model.RunStatusFailed, 0, 0)
	addRun(t, st, model.RunKindEmails, model.RunStatusRunning, 0, 0)
	addRun(t, st, model.RunKindGeocode, model.RunStatusComplete, 10, 7)

	require.NoError(t, st.CreateOrganisation(ctx, &model.Organisation{Name: "Harrow Baptist Church", Postcode: "HA1 1BA"}))

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.ImportTotal)
	assert.Equal(t, 2, snap.ImportComplete)
	assert.Equal(t, 1, snap.ImportAborted)
	assert.Equal(t, 1, snap.ImportFailed)
	assert.Equal(t, 1, snap.ImportRunning)
	assert.InDelta(t, 0.5, snap.ImportFailRate, 0.001)
	assert.Equal(t, 24, snap.RowsRead)
	assert.Equal(t, 28, snap.RecordsCommitted)

	assert.Equal(t, 1, snap.GeocodeRuns)
	assert.Equal(t, 10, snap.GeocodeAttempted)
	assert.Equal(t, 7, snap.GeocodeMatched)
	assert.InDelta(t, 0.7, snap.GeocodeMatchRate, 0.001)
	assert.Equal(t, 1, snap.UngeocodedBacklog)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_LookbackExcludesOldRuns(t *testing.T) {
	st := newTestStore(t)
	addRun(t, st, model.RunKindOrganisations, model.RunStatusFailed, 1, 0)

	c := NewCollector(st)
	c.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ImportTotal)
	assert.Zero(t, snap.ImportFailRate)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(newTestStore(t)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ImportTotal)
	assert.Zero(t, snap.GeocodeMatchRate)
	assert.False(t, snap.CollectedAt.IsZero())
}
