package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage terminal sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <project> <name>",
	Short: "Create a session in a project",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionCreate,
}

var sessionListCmd = &cobra.Command{
	Use:     "list <project>",
	Short:   "List a project's sessions",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:     "delete <session-id>",
	Short:   "Delete a session",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionDelete,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	s, err := c.CreateSession(ctx, p.ID, args[1])
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s) in %s\n", s.Name, s.ID, p.Name)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	sessions, err := c.ListSessions(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	presence, err := c.ListPresence(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing presence: %w", err)
	}
	here := make(map[string]int, len(sessions))
	for _, e := range presence {
		here[e.SessionID]++
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintf(out, "No sessions in %s.\n", p.Name)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRESENT\tCREATED")
	fmt.Fprintln(w, "──\t────\t───────\t───────")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Name, here[s.ID], s.CreatedAt.Local().Format(timeLayout))
	}
	return w.Flush()
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	if err := c.DeleteSession(context.Background(), args[0]); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
