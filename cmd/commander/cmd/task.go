package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/tasks"
	"github.com/opencommander/commander/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and inspect agent tasks",
	Long: `Tasks are free-form instructions for an agent. Creating a task queues its
first execution; a worker runs the agent with the body on stdin.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <project>",
	Short: "Create a task and queue its first execution",
	Long: `Create a task and queue its first execution.

The body comes from --body, or from --file ('-' reads stdin).

Examples:
  commander task create demo --agent claude --body "Fix the flaky test"
  commander task create demo --agent codex --mount /srv/app --file plan.md
  git diff | commander task create demo --agent claude --file -`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:     "list <project>",
	Short:   "List a project's tasks",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE:    runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskRerunCmd = &cobra.Command{
	Use:   "rerun <task-id>",
	Short: "Queue a new execution of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRerun,
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs <execution-id>",
	Short: "Print an execution's logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskLogs,
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job queue counts",
	Args:  cobra.NoArgs,
	RunE:  runTaskStats,
}

var (
	taskAgent string
	taskMount string
	taskBody  string
	taskFile  string
)

// maxBodyPreview is the width of the body column in task lists.
const maxBodyPreview = 60

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskRerunCmd, taskLogsCmd, taskStatsCmd)

	taskCreateCmd.Flags().StringVarP(&taskAgent, "agent", "a", "", "Agent to run the task (required)")
	taskCreateCmd.Flags().StringVarP(&taskMount, "mount", "m", "", "Working directory for the agent")
	taskCreateCmd.Flags().StringVarP(&taskBody, "body", "b", "", "Task body")
	taskCreateCmd.Flags().StringVarP(&taskFile, "file", "f", "", "Read the task body from a file ('-' for stdin)")
	_ = taskCreateCmd.MarkFlagRequired("agent")
	taskCreateCmd.MarkFlagsMutuallyExclusive("body", "file")
}

func readTaskBody(stdin io.Reader) (string, error) {
	switch taskFile {
	case "":
		return taskBody, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", taskFile, err)
		}
		return string(data), nil
	}
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	body, err := readTaskBody(cmd.InOrStdin())
	if err != nil {
		return err
	}
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}

	created, err := c.CreateTask(ctx, p.ID, tasks.CreateInput{
		Body:       body,
		AgentID:    taskAgent,
		MountPoint: taskMount,
	})
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created task %s\n", created.ID)
	if created.Execution != nil {
		fmt.Fprintf(out, "Queued execution %s\n", created.Execution.ID)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	list, err := c.ListTasks(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No tasks in %s.\n", p.Name)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tCREATED\tBODY")
	fmt.Fprintln(w, "──\t─────\t───────\t────")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.AgentID, t.CreatedAt.Local().Format(timeLayout), preview(t.Body, maxBodyPreview))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	detail, err := c.GetTask(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("getting task: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task     %s\n", detail.ID)
	fmt.Fprintf(out, "Agent    %s\n", detail.AgentID)
	if detail.MountPoint != "" {
		fmt.Fprintf(out, "Mount    %s\n", detail.MountPoint)
	}
	fmt.Fprintf(out, "Created  %s by %s\n\n", detail.CreatedAt.Local().Format(timeLayout), detail.CreatedBy)

	width, style := renderTarget(out)
	fmt.Fprintln(out, tui.RenderMarkdown(detail.Body, width, style))
	fmt.Fprintln(out)

	if len(detail.Executions) == 0 {
		fmt.Fprintln(out, "No executions.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tSTATUS\tCREATED\tDURATION\tERROR")
	fmt.Fprintln(w, "─────────\t──────\t───────\t────────\t─────")
	for _, e := range detail.Executions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, e.CreatedAt.Local().Format(timeLayout), duration(e), preview(e.Error, maxBodyPreview))
	}
	return w.Flush()
}

func runTaskRerun(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	exec, err := c.RerunTask(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("rerunning task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued execution %s\n", exec.ID)
	return nil
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	exec, err := c.GetExecution(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("getting execution: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution %s: %s\n", exec.ID, exec.Status)
	if exec.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", exec.Error)
	}
	if exec.Logs != "" {
		fmt.Fprintln(out)
		fmt.Fprint(out, exec.Logs)
		if !strings.HasSuffix(exec.Logs, "\n") {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runTaskStats(cmd *cobra.Command, _ []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	counts, err := c.QueueStats(context.Background())
	if err != nil {
		return fmt.Errorf("getting queue stats: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WAITING\tACTIVE\tCOMPLETED\tFAILED")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", counts.Waiting, counts.Active, counts.Completed, counts.Failed)
	return w.Flush()
}

// renderTarget picks the markdown width and style for w.
func renderTarget(w io.Writer) (int, string) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 80, tui.StyleNoTTY
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return min(width, 120), tui.StyleDark
}

func preview(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit-1]) + "…"
	}
	return s
}

func duration(e core.TaskExecution) string {
	if e.StartedAt == nil {
		return "-"
	}
	if e.FinishedAt == nil {
		return "running"
	}
	return e.FinishedAt.Sub(*e.StartedAt).Round(100 * time.Millisecond).String()
}
