package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"moltpfp/internal/infra"
	"moltpfp/internal/infra/credentials"
	"moltpfp/internal/moltbook"
)

// NewRootCmd assembles the moltpfp command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "moltpfp",
		Short: "Daily avatar molts for a Moltbook agent",
		Long: `moltpfp composes a themed lobster prompt, generates an image with the first
configured provider, uploads it as the agent's Moltbook avatar and records
the molt in a history log. One molt per calendar day unless forced.`,
		SilenceUsage: true,
	}

	root.AddCommand(MoltCmd())
	root.AddCommand(HistoryCmd())
	root.AddCommand(MoodsCmd())
	root.AddCommand(RegisterCmd())
	root.AddCommand(ProfileCmd())
	root.AddCommand(VerifyCmd())
	root.AddCommand(CredentialsCmd())
	return root
}

// runtime is what every command needs after the environment is read.
type runtime struct {
	cfg    *infra.Config
	logger zerolog.Logger
}

func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	// stdout carries command output only.
	logger := infra.NewLoggerTo(cmd.ErrOrStderr(), cfg.AppEnv).With().Str("cmd", cmd.Name()).Logger()
	return &runtime{cfg: cfg, logger: logger}, nil
}

// fillCredentials loads provider tokens missing from the environment out of
// Postgres. It is a no-op without DATABASE_URL.
func (rt *runtime) fillCredentials(ctx context.Context) {
	if rt.cfg.DatabaseURL == "" {
		return
	}
	pool, err := infra.NewDBPool(ctx, rt.cfg)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("stored credentials unavailable")
		return
	}
	defer pool.Close()

	filled, err := credentials.NewStore(infra.NewSQLRunner(pool, rt.logger)).Fill(ctx, rt.cfg)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("failed to load stored credentials")
	}
	if len(filled) > 0 {
		rt.logger.Debug().Strs("providers", filled).Msg("credentials loaded from database")
	}
}

func (rt *runtime) moltbookClient() *moltbook.Client {
	return moltbook.NewClient(moltbook.Options{
		APIKey:     rt.cfg.MoltbookAPIKey,
		BaseURL:    rt.cfg.MoltbookBaseURL,
		ProfileURL: rt.cfg.MoltbookProfileURL,
		Logger:     &rt.logger,
	})
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
