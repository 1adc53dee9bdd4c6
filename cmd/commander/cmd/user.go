package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencommander/commander/internal/auth"
	"github.com/opencommander/commander/internal/core"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and API tokens",
	Long: `Create users directly in the local database. These commands do not go
through the API server; run them on the server host.`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user and print its API token",
	Long: `Create a user and print a new API token. The token is shown once; only
its hash is stored.

Examples:
  commander user add alice
  commander user add alice --avatar https://example.com/alice.png`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List users",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var (
	userAddID     string
	userAddAvatar string
)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	userAddCmd.Flags().StringVar(&userAddID, "id", "", "User ID (default: random UUID)")
	userAddCmd.Flags().StringVar(&userAddAvatar, "avatar", "", "Avatar image URL")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return core.ErrValidation(core.CodeEmptyName, "user name is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user := &core.User{ID: userAddID, Name: name, AvatarImageURL: userAddAvatar}
	token := auth.NewToken()
	if err := store.CreateUser(context.Background(), user, auth.HashToken(token)); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created user %s (%s)\n", user.Name, user.ID)
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintln(out, "\nStore it now, it cannot be shown again. For example:")
	fmt.Fprintf(out, "  export COMMANDER_CLIENT_TOKEN=%s\n", token)
	return nil
}

func runUserList(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED")
	fmt.Fprintln(w, "──\t────\t───────")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Name, u.CreatedAt.Local().Format(timeLayout))
	}
	return w.Flush()
}

// timeLayout is used for timestamps in tables.
const timeLayout = "2006-01-02 15:04"
