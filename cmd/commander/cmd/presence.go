package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencommander/commander/internal/presence"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Inspect and maintain presence records",
}

var presenceListCmd = &cobra.Command{
	Use:     "list <project>",
	Short:   "Show who is present in a project's sessions",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE:    runPresenceList,
}

var presencePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete presence records older than five minutes",
	Long: `Delete stale presence records from the local database. The server's
sweeper does this periodically; this command runs one sweep now.`,
	Args: cobra.NoArgs,
	RunE: runPresencePrune,
}

func init() {
	rootCmd.AddCommand(presenceCmd)
	presenceCmd.AddCommand(presenceListCmd)
	presenceCmd.AddCommand(presencePruneCmd)
}

func runPresenceList(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	entries, err := c.ListPresence(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing presence: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "Nobody is present in %s.\n", p.Name)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSESSION\tSTATUS")
	fmt.Fprintln(w, "────\t───────\t──────")
	for _, e := range entries {
		name := e.User.Name
		if name == "" {
			name = e.UserID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, e.SessionID, e.Status)
	}
	return w.Flush()
}

func runPresencePrune(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := presence.NewService(store, store, presence.WithLogger(newLogger(cfg, os.Stderr)))
	n, err := svc.PruneStale(context.Background())
	if err != nil {
		return fmt.Errorf("pruning presence: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stale presence record(s)\n", n)
	return nil
}
