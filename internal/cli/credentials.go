package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"moltpfp/internal/infra"
	"moltpfp/internal/infra/credentials"
)

// CredentialsCmd manages API tokens stored in Postgres.
func CredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage API tokens kept in the database",
	}
	cmd.AddCommand(credentialsSetCmd())
	return cmd
}

func credentialsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider> <token>",
		Short: "Store a token for replicate, openai, qwen or moltbook",
		Long: `Store a provider token in the integration_tokens table. Both binaries read
it when the matching environment variable is empty and DATABASE_URL is set.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			if rt.cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			provider := strings.ToLower(strings.TrimSpace(args[0]))

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			pool, err := infra.NewDBPool(ctx, rt.cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := credentials.NewStore(infra.NewSQLRunner(pool, rt.logger))
			if err := store.Ensure(ctx); err != nil {
				return fmt.Errorf("prepare integration_tokens: %w", err)
			}
			if err := store.SetToken(ctx, provider, args[1]); err != nil {
				return fmt.Errorf("persist %s token: %w", provider, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token stored\n", provider)
			return nil
		},
	}
}
