package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/organisation"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocoding maintenance",
}

var geocodeBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Geocode active organisations that have an address but no coordinates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("geocode"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Geocode.Concurrency
		}

		svc, err := initService(ctx)
		if err != nil {
			return err
		}
		defer svc.Store().Close() //nolint:errcheck

		st := svc.Store()
		run, err := st.StartImportRun(ctx, model.RunKindGeocode, "backfill", limit)
		if err != nil {
			return eris.Wrap(err, "geocode backfill: start run")
		}

		sum, err := svc.GeocodeMissing(ctx, organisation.System, limit, concurrency)
		run.Attempted, run.Committed, run.Skipped = sum.Attempted, sum.Matched, sum.Failed
		run.Status = model.RunStatusComplete
		if err != nil {
			run.Status, run.Error = model.RunStatusFailed, err.Error()
		}
		if ferr := st.FinishImportRun(context.WithoutCancel(ctx), run); ferr != nil {
			zap.L().Error("geocode backfill: finish run", zap.Error(ferr))
		}
		if err != nil {
			return eris.Wrap(err, "geocode backfill")
		}
		fmt.Fprintf(os.Stdout, "%d attempted, %d matched, %d failed\n", sum.Attempted, sum.Matched, sum.Failed)
		return nil
	},
}

func init() {
	geocodeBackfillCmd.Flags().Int("limit", 500, "max organisations to geocode")
	geocodeBackfillCmd.Flags().Int("concurrency", 0, "parallel lookups (default geocode.concurrency)")

	geocodeCmd.AddCommand(geocodeBackfillCmd)
	rootCmd.AddCommand(geocodeCmd)
}
