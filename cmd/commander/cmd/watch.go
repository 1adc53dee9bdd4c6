package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencommander/commander/internal/client"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project>",
	Short: "Follow who is in a project's sessions",
	Long: `Open a terminal view of a project's sessions. While it runs you count as
present in the selected session, with your status derived from how recently
you pressed a key.

Keys:
  y      copy the session ID
  n / p  next / previous session
  q      quit (you leave the session)

The project may be given by ID or name; --session accepts an ID, a name or a
fuzzy fragment of a name.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchSession string

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "Session to start in")
}

func runWatch(_ *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	logPath := filepath.Join(os.TempDir(), "commander-watch.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: "text", Output: logFile})

	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	me, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	project, err := resolveProject(ctx, c, args[0])
	if err != nil {
		return err
	}
	sessions, err := c.ListSessions(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		return fmt.Errorf("project %s has no sessions; create one with 'commander session create %s <name>'", project.Name, project.ID)
	}
	start, err := tui.ResolveSession(sessions, watchSession)
	if err != nil {
		return fmt.Errorf("session %q: %w", watchSession, err)
	}

	logger.Info("watch started", "user_id", me.ID, "project_id", project.ID, "session_id", sessions[start].ID)
	out, err := tui.Run(ctx, tui.Config{
		Project:   *project,
		Sessions:  sessions,
		Start:     start,
		Self:      *me,
		Source:    c,
		Transport: c,
		Logger:    logger.WithUser(me.ID),
	})
	if err != nil {
		return err
	}
	if out.Err != nil {
		fmt.Fprintf(os.Stderr, "Warning: leaving session failed: %v\n", out.Err)
	}
	return nil
}

// resolveProject finds a visible project by ID, then by exact name.
func resolveProject(ctx context.Context, c *client.Client, ref string) (*core.Project, error) {
	p, err := c.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		return nil, err
	}

	projects, listErr := c.ListProjects(ctx)
	if listErr != nil {
		return nil, listErr
	}
	for i := range projects {
		if strings.EqualFold(projects[i].Name, ref) {
			return &projects[i], nil
		}
	}
	return nil, err
}
