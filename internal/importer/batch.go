package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/store"
)

// BatchResult summarises one batch invocation.
type BatchResult struct {
	RunID     string
	Attempted int
	Committed int
	Skipped   int

	// Aborted is set when malformed input rolled the batch back. Committed
	// is zero in that case.
	Aborted bool

	// NotFound lists email export names that matched no organisation.
	NotFound []string
	Duration time.Duration
}

// MalformedRowError reports a source row that could not be read. It aborts
// the batch it occurs in.
type MalformedRowError struct {
	Line   int
	Reason string
	Err    error
}

func (e *MalformedRowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("importer: malformed row %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("importer: malformed row %d: %s", e.Line, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

type batchJob struct {
	kind      model.RunKind
	source    string
	limit     int // <= 0 reads the whole source
	hasHeader bool

	// positional rows are addressed by index and skip the header checks.
	positional bool
	required   []string
}

type rowFunc func(ctx context.Context, tx *Importer, row Row) (int, error)

// runBatch reads job.source and applies fn to each row inside one store
// transaction. fn returns how many records it committed; zero counts the row
// as skipped. Malformed input rolls back and is reported through
// BatchResult.Aborted rather than an error.
func (imp *Importer) runBatch(ctx context.Context, job batchJob, fn rowFunc) (BatchResult, error) {
	start := time.Now()
	log := zap.L().With(
		zap.String("batch", string(job.kind)),
		zap.String("source", job.source),
		zap.Int("limit", job.limit),
	)

	run, err := imp.store().StartImportRun(ctx, job.kind, job.source, job.limit)
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "importer: start run")
	}
	log = log.With(zap.String("run_id", run.ID))
	res := BatchResult{RunID: run.ID}

	batchErr := imp.processSource(ctx, job, fn, &res)

	var malformed *MalformedRowError
	switch {
	case batchErr == nil:
		run.Status = model.RunStatusComplete
	case errors.As(batchErr, &malformed):
		run.Status = model.RunStatusAborted
		run.Error = batchErr.Error()
		res.Aborted = true
		res.Committed = 0
		log.Warn("importer: batch rolled back", zap.Error(batchErr), zap.Int("attempted", res.Attempted))
		batchErr = nil
	default:
		run.Status = model.RunStatusFailed
		run.Error = batchErr.Error()
		res.Committed = 0
	}

	run.Attempted = res.Attempted
	run.Committed = res.Committed
	run.Skipped = res.Skipped
	if err := imp.store().FinishImportRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("importer: finish run", zap.Error(err))
	}

	res.Duration = time.Since(start)
	if batchErr != nil {
		return res, batchErr
	}
	log.Info("importer: batch finished",
		zap.String("status", string(run.Status)),
		zap.Int("attempted", res.Attempted),
		zap.Int("committed", res.Committed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (imp *Importer) processSource(ctx context.Context, job batchJob, fn rowFunc, res *BatchResult) error {
	rows, err := imp.opener.Open(ctx, job.source, job.hasHeader)
	if err != nil {
		return eris.Wrap(err, "importer: open source")
	}
	defer rows.Close() //nolint:errcheck

	var header *Header
	if !job.positional {
		header = NewHeader(rows.Header)
		if missing := header.Missing(job.required); len(missing) > 0 {
			return &MissingColumnsError{Missing: missing}
		}
	}

	line := 0
	if job.hasHeader {
		line = 1
	}

	return imp.store().WithTx(ctx, func(tx store.Store) error {
		txImp := imp.withStore(tx)
		limited := false
		for fields := range rows.C {
			if job.limit > 0 && res.Attempted >= job.limit {
				limited = true
				break
			}
			line++
			res.Attempted++

			if header != nil && len(fields) != header.Len() {
				return &MalformedRowError{
					Line:   line,
					Reason: fmt.Sprintf("expected %d fields, got %d", header.Len(), len(fields)),
				}
			}

			n, err := fn(ctx, txImp, NewRow(header, fields, line))
			if err != nil {
				return err
			}
			if n > 0 {
				res.Committed += n
			} else {
				res.Skipped++
			}
		}
		if limited {
			return nil
		}
		if err := rows.Err(); err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(err, "importer: read source")
			}
			return &MalformedRowError{Line: line + 1, Reason: "unreadable record", Err: err}
		}
		return nil
	})
}
