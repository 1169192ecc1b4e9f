package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/importer"
	"github.com/sells-group/charity-directory/internal/model"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage the category code table",
}

var categoriesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert categories from a YAML seed file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("file")

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrap(err, "categories seed: open file")
		}
		defer f.Close() //nolint:errcheck

		cats, err := importer.LoadCategorySeed(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertCategories(ctx, cats)
		if err != nil {
			return eris.Wrap(err, "categories seed")
		}
		zap.L().Info("categories seeded", zap.Int64("upserted", n), zap.String("file", path))
		return nil
	},
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cats, err := st.ListCategories(ctx)
		if err != nil {
			return eris.Wrap(err, "categories list")
		}
		if len(cats) == 0 {
			fmt.Fprintln(os.Stderr, "No categories found.")
			return nil
		}
		formatCategories(os.Stdout, cats)
		return nil
	},
}

func formatCategories(out io.Writer, cats []model.Category) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCODE\tNAME")
	for _, c := range cats {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\n", c.ID, c.CharityCommissionID, c.Name)
	}
	_ = w.Flush()
}

func init() {
	categoriesSeedCmd.Flags().String("file", "categories.yaml", "YAML seed file")

	categoriesCmd.AddCommand(categoriesSeedCmd)
	categoriesCmd.AddCommand(categoriesListCmd)
	rootCmd.AddCommand(categoriesCmd)
}
