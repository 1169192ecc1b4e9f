package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-directory/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import Charity Commission register extracts",
	Long:  "Reads a local .csv/.xlsx file, an http(s):// or ftp:// URL, or a .zip holding one such file. Each invocation is one transaction.",
}

var importOrgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Create organisations from the register",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, limit, err := importFlags(cmd)
		if err != nil {
			return err
		}
		imp, st, err := initImporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := imp.ImportAddresses(ctx, file, limit)
		if err != nil {
			return eris.Wrap(err, "import orgs")
		}
		printBatchResult(os.Stdout, "organisations", res)
		return nil
	},
}

var importCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Link organisations to their register classifications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, limit, err := importFlags(cmd)
		if err != nil {
			return err
		}
		imp, st, err := initImporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := imp.ImportCategoryMappings(ctx, file, limit)
		if err != nil {
			return eris.Wrap(err, "import categories")
		}
		printBatchResult(os.Stdout, "category links", res)
		return nil
	},
}

var importEmailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "Fill in missing organisation emails from the register email export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, limit, err := importFlags(cmd)
		if err != nil {
			return err
		}
		hasHeader := cfg.Import.EmailHasHeader
		if cmd.Flags().Changed("header") {
			hasHeader, _ = cmd.Flags().GetBool("header")
		}

		imp, st, err := initImporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := imp.ImportEmails(ctx, file, limit, importer.EmailOptions{HasHeader: hasHeader})
		if err != nil {
			return eris.Wrap(err, "import emails")
		}
		for _, name := range res.NotFound {
			fmt.Fprintf(os.Stderr, "%s was not found\n", name)
		}
		printBatchResult(os.Stdout, "emails", res)
		return nil
	},
}

// importFlags reads --file and --limit, falling back to the configured
// default limit.
func importFlags(cmd *cobra.Command) (string, int, error) {
	if err := cfg.Validate("import"); err != nil {
		return "", 0, err
	}
	file, _ := cmd.Flags().GetString("file")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Import.DefaultLimit
	}
	return file, limit, nil
}

func printBatchResult(w io.Writer, what string, res importer.BatchResult) {
	if res.Aborted {
		_, _ = fmt.Fprintf(w, "aborted: malformed input after %d rows, nothing committed (run %s)\n", res.Attempted, truncateID(res.RunID))
		return
	}
	_, _ = fmt.Fprintf(w, "%d %s committed, %d rows skipped, %d rows read in %s (run %s)\n",
		res.Committed, what, res.Skipped, res.Attempted, res.Duration.Round(time.Millisecond), truncateID(res.RunID))
}

func init() {
	for _, c := range []*cobra.Command{importOrgsCmd, importCategoriesCmd, importEmailsCmd} {
		c.Flags().String("file", "", "path or URL of the source file (required)")
		c.Flags().Int("limit", 0, "max rows to process (default import.default_limit)")
		_ = c.MarkFlagRequired("file")
		importCmd.AddCommand(c)
	}
	importEmailsCmd.Flags().Bool("header", false, "skip the first row (default import.email_has_header)")
	rootCmd.AddCommand(importCmd)
}
