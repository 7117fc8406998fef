package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/ralph/internal/orchestration/session"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/pubsub"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/ui/styles"
)

var (
	runPrdFile       string
	runMaxIterations int
	runModel         string
	runBranch        string
	runOpenPR        bool
)

var runCmd = &cobra.Command{
	Use:   "run [project]",
	Short: "Run a session in the foreground until it finishes",
	Long: `Create a session for the project (default: the current directory), start
it and print its progress until it completes, fails, hits the gutter or is
interrupted. Ctrl-C pauses the session; run again to start a fresh one.

With --prd the given file replaces .ralph/prd.json before the session starts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPrdFile, "prd", "", "PRD file to install as .ralph/prd.json")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override session.max_iterations")
	runCmd.Flags().StringVar(&runModel, "model", "", "override session.execution_model")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "override session.branch_name")
	runCmd.Flags().BoolVar(&runOpenPR, "open-pr", false, "open a pull request when all stories pass")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args)
	if err != nil {
		return err
	}
	sessCfg := cfg.Session.Clone()
	if runMaxIterations > 0 {
		sessCfg.MaxIterations = runMaxIterations
	}
	if runModel != "" {
		sessCfg.ExecutionModel = runModel
	}
	if runBranch != "" {
		sessCfg.BranchName = runBranch
	}
	if cmd.Flags().Changed("open-pr") {
		sessCfg.OpenPR = runOpenPR
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing, err := startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()

	db, err := openHistory(cfg)
	if err != nil {
		return err
	}
	var opts []session.Option
	if db != nil {
		defer func() { _ = db.Close() }()
		opts = append(opts, session.WithRepository(db.SessionRepository()))
	}
	mgr, err := newManager(cfg, opts...)
	if err != nil {
		return err
	}

	s, err := mgr.CreateSession(ctx, project, sessCfg)
	if err != nil {
		return err
	}
	if runPrdFile != "" {
		p, err := prd.Load(runPrdFile)
		if err != nil {
			return err
		}
		if s, err = mgr.SetPrd(ctx, s.ID, p); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	printHeader(out, s)

	subCtx, cancelSub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSub()
	events := mgr.Subscribe(subCtx)
	if s, err = mgr.StartSession(ctx, s.ID); err != nil {
		return err
	}

	get := func() (domain.Session, error) { return mgr.GetSession(context.WithoutCancel(ctx), s.ID) }
	final := follow(ctx, out, events, get)
	if ctx.Err() != nil {
		fmt.Fprintln(out, styles.LabelStyle.Render("interrupted, pausing session..."))
		if err := mgr.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		if final, err = mgr.GetSession(context.WithoutCancel(ctx), s.ID); err != nil {
			return err
		}
	}
	printSummary(out, final)

	switch final.Status.Kind {
	case domain.StatusComplete:
		return nil
	case domain.StatusPaused:
		if final.LastError == "" || final.LastError == "interrupted by shutdown" {
			return nil
		}
	}
	return fmt.Errorf("session %s ended %s", final.ID, final.Status)
}

// followPoll is how often follow re-reads the session in case the broker
// dropped an update.
const followPoll = 2 * time.Second

// follow prints progress lines for id until the session leaves the active
// states or ctx ends. It returns the last snapshot seen.
func follow(ctx context.Context, w io.Writer, events <-chan pubsub.Event[domain.Session], get func() (domain.Session, error)) domain.Session {
	last, _ := get()
	printProgress(w, last)
	if !last.Status.IsActive() {
		return last
	}
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	observe := func(s domain.Session) bool {
		if s.Status != last.Status || s.Iteration != last.Iteration || s.LastSignal != last.LastSignal {
			printProgress(w, s)
		}
		last = s
		return !s.Status.IsActive()
	}
	for {
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
			if s, err := get(); err == nil && observe(s) {
				return last
			}
		case ev, ok := <-events:
			if !ok {
				return last
			}
			if ev.Payload.ID == last.ID && observe(ev.Payload) {
				return last
			}
		}
	}
}

func printHeader(w io.Writer, s domain.Session) {
	fmt.Fprintln(w, styles.TitleStyle.Render("ralph")+" "+styles.ValueStyle.Render(s.ProjectPath))
	fmt.Fprintln(w, styles.KeyValue("session", s.ID))
	fmt.Fprintln(w, styles.KeyValue("model", s.Config.ExecutionModel))
	if s.Prd != nil {
		fmt.Fprintln(w, styles.KeyValue("stories", styles.FormatProgress(s.CompletedStories(), len(s.Prd.Stories))))
	}
}

func printProgress(w io.Writer, s domain.Session) {
	health := lipgloss.NewStyle().Foreground(styles.HealthColor(s.Health())).
		Render(styles.FormatTokens(s.Tokens.Iteration) + " " + string(s.Health()))
	parts := []string{
		fmt.Sprintf("[%d/%d]", s.Iteration, s.Config.MaxIterations),
		styles.Status(s.Status),
		styles.LabelStyle.Render("context:") + " " + health,
	}
	if s.LastSignal != "" && s.LastSignal != domain.SignalNone {
		parts = append(parts, styles.KeyValue("signal", string(s.LastSignal)))
	}
	if s.LastError != "" {
		parts = append(parts, styles.ErrorStyle.Render(s.LastError))
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func printSummary(w io.Writer, s domain.Session) {
	lines := []string{
		styles.KeyValue("status", s.Status.String()),
		styles.KeyValue("iterations", strconv.Itoa(s.Iteration)),
		styles.KeyValue("commits", strconv.Itoa(s.Commits)),
		styles.KeyValue("tokens", styles.FormatTokens(s.Tokens.Lifetime)),
	}
	if s.Prd != nil {
		lines = append(lines, styles.KeyValue("stories", styles.FormatProgress(s.CompletedStories(), len(s.Prd.Stories))))
	}
	if s.LastError != "" {
		lines = append(lines, styles.KeyValue("last error", s.LastError))
	}
	fmt.Fprintln(w, styles.RenderPanel(strings.Join(lines, "\n"), "Session "+shortID(s.ID), string(s.Status.Kind), 64, styles.StatusColor(s.Status.Kind)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
