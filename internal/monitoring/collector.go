// Package monitoring summarises recent import runs and raises alerts when
// batches start failing or geocoding stops matching.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/store"
)

// runScanLimit bounds how many recent runs one collection reads.
const runScanLimit = 10000

// MetricsSnapshot holds a point-in-time view of import health.
type MetricsSnapshot struct {
	// Batch runs (organisations, categories, emails) within the window.
	ImportTotal      int     `json:"import_total"`
	ImportComplete   int     `json:"import_complete"`
	ImportAborted    int     `json:"import_aborted"`
	ImportFailed     int     `json:"import_failed"`
	ImportRunning    int     `json:"import_running"`
	ImportFailRate   float64 `json:"import_fail_rate"`
	RowsRead         int     `json:"rows_read"`
	RecordsCommitted int     `json:"records_committed"`

	// Geocode backfill runs within the window.
	GeocodeRuns      int     `json:"geocode_runs"`
	GeocodeAttempted int     `json:"geocode_attempted"`
	GeocodeMatched   int     `json:"geocode_matched"`
	GeocodeMatchRate float64 `json:"geocode_match_rate"`

	// Organisations still waiting for coordinates.
	UngeocodedBacklog int `json:"ungeocoded_backlog"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of import metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListImportRuns(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list import runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		if r.Kind == model.RunKindGeocode {
			snap.GeocodeRuns++
			snap.GeocodeAttempted += r.Attempted
			snap.GeocodeMatched += r.Committed
			continue
		}

		snap.ImportTotal++
		snap.RowsRead += r.Attempted
		switch r.Status {
		case model.RunStatusComplete:
			snap.ImportComplete++
			snap.RecordsCommitted += r.Committed
		case model.RunStatusAborted:
			snap.ImportAborted++
		case model.RunStatusFailed:
			snap.ImportFailed++
		case model.RunStatusRunning:
			snap.ImportRunning++
		}
	}

	if finished := snap.ImportComplete + snap.ImportAborted + snap.ImportFailed; finished > 0 {
		snap.ImportFailRate = float64(snap.ImportAborted+snap.ImportFailed) / float64(finished)
	}
	if snap.GeocodeAttempted > 0 {
		snap.GeocodeMatchRate = float64(snap.GeocodeMatched) / float64(snap.GeocodeAttempted)
	}

	backlog, err := c.store.ListUngeocoded(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list ungeocoded")
	}
	snap.UngeocodedBacklog = len(backlog)

	return snap, nil
}
