package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ralph/internal/orchestration/session"
	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/ui/styles"
)

var (
	historyStatus string
	historyLimit  int
	historyLocal  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [project]",
	Short: "List past sessions of a project",
	Long: `List sessions recorded for the project (default: the current directory),
newest first. Sessions come from the history database, or from the project's
.ralph/sessions.json when --local is set or the database is disabled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only sessions in this state")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum sessions to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyLocal, "local", false, "read the project's session index instead of the database")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args)
	if err != nil {
		return err
	}
	status := domain.StatusKind(historyStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", historyStatus)
	}

	var rows [][]string
	if historyLocal || !cfg.Database.Enabled {
		rows, err = indexRows(project, status)
	} else {
		rows, err = databaseRows(cmd, project, status)
	}
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(rows) > historyLimit {
		rows = rows[:historyLimit]
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, styles.LabelStyle.Render("no sessions recorded for "+project))
		return nil
	}
	fmt.Fprint(out, styles.Table(
		[]string{"ID", "STATUS", "STARTED", "ITER", "STORIES", "COMMITS", "TOKENS", "MODEL"},
		rows,
	))
	return nil
}

func databaseRows(cmd *cobra.Command, project string, status domain.StatusKind) ([][]string, error) {
	db, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	saved, err := db.SessionRepository().List(cmd.Context(), domain.ListFilter{
		Project: project,
		Status:  status,
		Limit:   historyLimit,
	})
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(saved))
	for _, s := range saved {
		total := 0
		if s.Prd != nil {
			total = len(s.Prd.Stories)
		}
		rows = append(rows, []string{
			shortID(s.ID),
			styles.Status(s.Status),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(s.Iteration),
			fmt.Sprintf("%d/%d", s.CompletedStories(), total),
			strconv.Itoa(s.Commits),
			styles.FormatTokens(s.Tokens.Lifetime),
			s.Config.ExecutionModel,
		})
	}
	return rows, nil
}

func indexRows(project string, status domain.StatusKind) ([][]string, error) {
	index, err := session.LoadSessionIndex(paths.SessionIndexPath(project))
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(index.Sessions))
	// The index is chronological; list newest first.
	for i := len(index.Sessions) - 1; i >= 0; i-- {
		e := index.Sessions[i]
		if status != "" && e.Status.Kind != status {
			continue
		}
		rows = append(rows, []string{
			shortID(e.ID),
			styles.Status(e.Status),
			e.StartTime.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(e.Iterations),
			fmt.Sprintf("%d/%d", e.StoriesComplete, e.StoriesTotal),
			strconv.Itoa(e.TotalCommits),
			styles.FormatTokens(e.LifetimeTokens),
			e.ExecutionModel,
		})
	}
	return rows, nil
}
