package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/organisation"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Query and maintain organisations",
}

var orgsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search organisations by keyword and category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		keyword, _ := cmd.Flags().GetString("keyword")
		category, _ := cmd.Flags().GetString("category")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.Filter{
			Keyword:    keyword,
			CategoryID: organisation.ParseCategoryID(category),
			Limit:      limit,
		}
		if all {
			filter.Mode = model.QueryAll
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orgs, err := st.SearchOrganisations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "orgs search")
		}
		if len(orgs) == 0 {
			fmt.Fprintln(os.Stderr, "No organisations found.")
			return nil
		}
		formatOrgs(os.Stdout, orgs, time.Now())
		return nil
	},
}

var orgsOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List organisations with an email but no registered owner",
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

		orgs, err := st.ListOrphans(ctx)
		if err != nil {
			return eris.Wrap(err, "orgs orphans")
		}
		if len(orgs) == 0 {
			fmt.Fprintln(os.Stderr, "No orphans found.")
			return nil
		}
		formatOrgs(os.Stdout, orgs, time.Now())
		return nil
	},
}

var orgsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an organisation with its categories and map marker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, err := st.GetOrganisation(ctx, id, model.QueryAll)
		if err != nil {
			return eris.Wrap(err, "orgs show")
		}
		cats, err := st.OrganisationCategories(ctx, id)
		if err != nil {
			return eris.Wrap(err, "orgs show")
		}

		now := time.Now()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Organisation

			Categories []model.Category    `json:"categories"`
			Stale      bool                `json:"not_updated_recently"`
			Marker     organisation.Marker `json:"marker"`
		}{org, cats, organisation.NotUpdatedRecently(org, now), organisation.MarkerFor(org, now)})
	},
}

var orgsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update organisation fields, optionally assigning a superadmin by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		upd := updateFromFlags(cmd)
		superadmin, _ := cmd.Flags().GetString("superadmin")

		svc, err := initService(ctx)
		if err != nil {
			return err
		}
		defer svc.Store().Close() //nolint:errcheck

		org, err := svc.UpdateWithSuperadmin(ctx, organisation.System, id, upd, superadmin)
		if err != nil {
			return err
		}
		formatOrgs(os.Stdout, []model.Organisation{*org}, time.Now())
		return nil
	},
}

var orgsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Hide an organisation (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, args[0], func(svc *organisation.Service, id int64) error {
			return svc.Destroy(cmd.Context(), organisation.System, id)
		})
	},
}

var orgsRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a soft-deleted organisation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, args[0], func(svc *organisation.Service, id int64) error {
			return svc.Restore(cmd.Context(), organisation.System, id)
		})
	},
}

func withService(cmd *cobra.Command, rawID string, fn func(*organisation.Service, int64) error) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if err := cfg.Validate("query"); err != nil {
		return err
	}
	svc, err := initService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Store().Close() //nolint:errcheck
	return fn(svc, id)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid organisation id %q", raw)
	}
	return id, nil
}

var updateFlagNames = []string{"name", "description", "address", "postcode", "website", "telephone", "donation-info", "email"}

// updateFromFlags sets only the fields whose flags were given, so an
// explicit empty value clears a field.
func updateFromFlags(cmd *cobra.Command) model.Update {
	var upd model.Update
	fields := map[string]**string{
		"name":          &upd.Name,
		"description":   &upd.Description,
		"address":       &upd.Address,
		"postcode":      &upd.Postcode,
		"website":       &upd.Website,
		"telephone":     &upd.Telephone,
		"donation-info": &upd.DonationInfo,
		"email":         &upd.Email,
	}
	for name, dst := range fields {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, _ := cmd.Flags().GetString(name)
		*dst = &v
	}
	return upd
}

func formatOrgs(out io.Writer, orgs []model.Organisation, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPOSTCODE\tEMAIL\tOWNER\tMARKER\tDELETED")
	for i := range orgs {
		o := &orgs[i]
		name := o.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%t\n",
			o.ID, name, o.Postcode, o.Email, o.HasOwner, organisation.MarkerFor(o, now).Class, o.Deleted())
	}
	_ = w.Flush()
}

func init() {
	orgsSearchCmd.Flags().String("keyword", "", "match name or description")
	orgsSearchCmd.Flags().String("category", "", "category id; non-numeric means any")
	orgsSearchCmd.Flags().Bool("all", false, "include deleted organisations")
	orgsSearchCmd.Flags().Int("limit", 0, "max results (0 = no limit)")

	for _, name := range updateFlagNames {
		orgsUpdateCmd.Flags().String(name, "", "new "+name)
	}
	orgsUpdateCmd.Flags().String("superadmin", "", "email of an existing user to make the organisation's owner")

	orgsCmd.AddCommand(orgsSearchCmd)
	orgsCmd.AddCommand(orgsOrphansCmd)
	orgsCmd.AddCommand(orgsShowCmd)
	orgsCmd.AddCommand(orgsUpdateCmd)
	orgsCmd.AddCommand(orgsDeleteCmd)
	orgsCmd.AddCommand(orgsRestoreCmd)
	rootCmd.AddCommand(orgsCmd)
}
