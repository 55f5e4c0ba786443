package cmd

import (
	"fmt"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var userPermissions []string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API users",
}

var userAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Create or replace an API user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		cmd.Print("password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		cmd.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		if err := a.Storage.SetUser(ctx, args[0], string(password), userPermissions); err != nil {
			return err
		}
		cmd.Printf("user %s saved\n", args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		users, err := a.Storage.GetUsers(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer w.Flush()
		w.Write([]byte("USERNAME\tPERMISSIONS\n"))
		for _, u := range users {
			w.Write([]byte(u.Username + "\t" + strings.Join(u.Permissions, ",") + "\n"))
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringArrayVar(&userPermissions, "permission", nil, "grant a permission (repeatable)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}
