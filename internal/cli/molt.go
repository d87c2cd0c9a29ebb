package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"moltpfp/internal/domain"
	"moltpfp/internal/generation"
	"moltpfp/internal/history"
	"moltpfp/internal/molt"
	"moltpfp/internal/providers/image"
)

var errCycleFailed = errors.New("molt cycle failed")

// MoltCmd runs one molt cycle.
func MoltCmd() *cobra.Command {
	var req molt.CycleRequest

	cmd := &cobra.Command{
		Use:   "molt",
		Short: "Generate and upload today's avatar",
		Long: `Run one molt cycle. The cycle is skipped when a molt was already recorded
today; --force molts anyway and still records the entry.

Examples:
  moltpfp molt
  moltpfp molt --mood creative --tasks "refactoring the parser"
  moltpfp molt --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			rt.fillCredentials(ctx)

			theme, err := molt.LoadTheme(rt.cfg.ThemeFile)
			if err != nil {
				return err
			}
			providers, err := image.FromConfig(rt.cfg, image.BuildOptions{Logger: &rt.logger})
			if err != nil {
				return err
			}
			jobs := generation.New(providers, generation.PolicyFromConfig(rt.cfg), generation.WithLogger(&rt.logger))

			client := rt.moltbookClient()
			if !client.HasAPIKey() {
				return fmt.Errorf("MOLTBOOK_API_KEY is required; run `moltpfp register` first")
			}

			store, err := history.Open(ctx, rt.cfg, history.WithLogger(&rt.logger))
			if err != nil {
				return err
			}
			defer store.Close()

			ctrl := molt.NewController(store, jobs, molt.NewHTTPFetcher(nil), client,
				molt.WithReflection(theme.Reflector(nil)),
				molt.WithPromptBuilder(theme.PromptBuilder(rt.cfg.PromptTemplate)),
				molt.WithLogger(&rt.logger),
			)
			res := ctrl.Execute(ctx, req)
			reportCycle(cmd.ErrOrStderr(), res)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success && res.Reason == "" {
				return errCycleFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&req.Force, "force", false, "molt even if already molted today")
	cmd.Flags().StringVar(&req.Mood, "mood", "", "mood for the reflection, see the moods command")
	cmd.Flags().StringVar(&req.RecentTasks, "tasks", "", "recent work woven into the reflection")
	return cmd
}

func reportCycle(w io.Writer, res molt.CycleResult) {
	switch {
	case res.Success:
		color.New(color.FgHiGreen).Fprintf(w, "molted: day %d\n", res.DayNumber)
		fmt.Fprintf(w, "  %s\n", res.Reflection)
	case res.Reason == molt.ReasonAlreadyMoltedToday:
		color.New(color.FgYellow).Fprintln(w, "already molted today (use --force to molt again)")
	default:
		color.New(color.FgRed).Fprintf(w, "molt failed during %s: %s\n", res.State, res.Error)
	}
}

// HistoryCmd prints the molt log.
func HistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the molt history as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), rt.cfg, history.WithLogger(&rt.logger))
			if err != nil {
				return err
			}
			defer store.Close()

			log, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if log == nil {
				log = []domain.MoltRecord{}
			}
			return printJSON(cmd.OutOrStdout(), log)
		},
	}
}

// MoodsCmd lists the moods of the active theme.
func MoodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "moods",
		Short: "List the moods understood by --mood",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			theme, err := molt.LoadTheme(rt.cfg.ThemeFile)
			if err != nil {
				return err
			}
			title := cases.Title(language.English)
			out := cmd.OutOrStdout()
			for _, name := range theme.MoodNames() {
				marker := ""
				if name == theme.DefaultMood {
					marker = color.New(color.FgHiMagenta).Sprint(" [default]")
				}
				fmt.Fprintf(out, "%-14s %s%s\n", title.String(name), theme.Moods[name], marker)
			}
			return nil
		},
	}
}
