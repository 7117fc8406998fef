package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/ui/styles"
)

var (
	guardrailsLimit  int
	guardrailsPrompt bool
)

var guardrailsCmd = &cobra.Command{
	Use:   "guardrails [project]",
	Short: "Show the guardrails learned for a project",
	Long: `Show the signs recorded in the project's .ralph/guardrails.md, newest last.
With --prompt the section exactly as it is injected into agent prompts is
printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGuardrails,
}

func init() {
	guardrailsCmd.Flags().IntVar(&guardrailsLimit, "limit", 0, "show only the most recent N (0 for all)")
	guardrailsCmd.Flags().BoolVar(&guardrailsPrompt, "prompt", false, "print the prompt section instead")
	rootCmd.AddCommand(guardrailsCmd)
}

func runGuardrails(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args)
	if err != nil {
		return err
	}
	gs, err := guardrails.NewStore().Load(cmd.Context(), project)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if guardrailsPrompt {
		limit := guardrailsLimit
		if limit == 0 {
			limit = cfg.Guardrails.PromptLimit
		}
		fmt.Fprint(out, guardrails.FormatForPrompt(gs, limit))
		return nil
	}
	if len(gs) == 0 {
		fmt.Fprintln(out, styles.LabelStyle.Render("no guardrails recorded for "+project))
		return nil
	}
	if guardrailsLimit > 0 && len(gs) > guardrailsLimit {
		gs = gs[len(gs)-guardrailsLimit:]
	}
	for _, g := range gs {
		body := styles.KeyValue("trigger", g.Trigger) + "\n" +
			styles.KeyValue("instruction", g.Instruction)
		if g.AddedAfter != "" {
			body += "\n" + styles.KeyValue("added after", g.AddedAfter)
		}
		fmt.Fprintln(out, styles.RenderPanel(body, g.Title, g.CreatedAt.Local().Format("2006-01-02"), 72, styles.WarningColor))
	}
	return nil
}
