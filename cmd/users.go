package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-directory/internal/model"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the user rows organisation ownership depends on",
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user, optionally attached to an organisation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		orgID, _ := cmd.Flags().GetInt64("org")
		invited, _ := cmd.Flags().GetBool("invited")

		u := &model.User{Email: email}
		if orgID > 0 {
			u.OrganisationID = &orgID
		}
		if invited {
			now := time.Now().UTC()
			u.InvitationSentAt = &now
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateUser(ctx, u); err != nil {
			return eris.Wrap(err, "users add")
		}
		fmt.Fprintf(os.Stdout, "user %d created\n", u.ID)
		return nil
	},
}

func init() {
	usersAddCmd.Flags().String("email", "", "user email (required)")
	usersAddCmd.Flags().Int64("org", 0, "organisation the user belongs to")
	usersAddCmd.Flags().Bool("invited", false, "mark the invitation as sent but not accepted")
	_ = usersAddCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(usersAddCmd)
	rootCmd.AddCommand(usersCmd)
}
