package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	defaultAgentName        = "MoltAgent"
	defaultAgentDescription = "An OpenClaw agent shedding shells daily"
)

// RegisterCmd creates a Moltbook agent account.
func RegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [name] [description]",
		Short: "Register a new agent with Moltbook",
		Long: `Register a new agent. Moltbook shows the API key exactly once; store it as
MOLTBOOK_API_KEY or with ` + "`moltpfp credentials set moltbook <key>`" + `.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, desc := defaultAgentName, defaultAgentDescription
			if len(args) > 0 {
				name = args[0]
			}
			if len(args) > 1 {
				desc = args[1]
			}
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}

			reg, err := rt.moltbookClient().Register(cmd.Context(), name, desc)
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			color.New(color.FgHiGreen).Fprintf(errOut, "registered %s\n", name)
			if reg.APIKey != "" {
				color.New(color.FgYellow).Fprintf(errOut, "save this API key securely: %s\n", reg.APIKey)
			}
			return printJSON(cmd.OutOrStdout(), reg.Raw)
		},
	}
}

// ProfileCmd prints a public agent profile.
func ProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <username>",
		Short: "Show a Moltbook agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			raw, err := rt.moltbookClient().Agent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

// VerifyCmd checks that a public profile page exists.
func VerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <username>",
		Short: "Check that a Moltbook profile exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			v, err := rt.moltbookClient().Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if v.Exists {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgHiGreen).Sprint("✓"), v.ProfileURL)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgRed).Sprint("✗"), v.ProfileURL)
			return fmt.Errorf("profile %q not found", v.Username)
		},
	}
}
