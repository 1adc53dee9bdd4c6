package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Projects group terminal sessions and tasks. Only members can see a
project, its sessions, its presence and its tasks.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project owned by you",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List projects you are a member of",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runProjectList,
}

var projectAddMemberCmd = &cobra.Command{
	Use:   "add-member <project> <user-id>",
	Short: "Add a member to a project you own",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectAddMember,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectAddMemberCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	p, err := c.CreateProject(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.Name, p.ID)
	return nil
}

func runProjectList(cmd *cobra.Command, _ []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	projects, err := c.ListProjects(context.Background())
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects.")
		fmt.Fprintln(out, "\nCreate one with: commander project create <name>")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tCREATED")
	fmt.Fprintln(w, "──\t────\t─────\t───────")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.OwnerID, p.CreatedAt.Local().Format(timeLayout))
	}
	return w.Flush()
}

func runProjectAddMember(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	if err := c.AddMember(ctx, p.ID, args[1]); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", args[1], p.Name)
	return nil
}
