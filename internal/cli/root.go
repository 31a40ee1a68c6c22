package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/config"
	"github.com/tpodg/staticnet/internal/strutil"
)

type contextKey string

const appKey contextKey = "app"

var rootCmd = &cobra.Command{
	Use:   "staticnet",
	Short: "Staticnet moves a cloud-init host to a static netplan configuration",
	Long: `Staticnet connects to one host over SSH, takes network management away
from cloud-init, writes a static netplan configuration and applies it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		staticApp := app.NewWithWriter(cfg, cmd.ErrOrStderr())
		ctx := context.WithValue(cmd.Context(), appKey, staticApp)
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute runs the root command and exits with the code of its outcome.
// SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", strutil.SanitizeForLog(err.Error()))
		os.Exit(ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", fmt.Sprintf("config file (default is $HOME/%s)", config.DefaultConfigFileName))
}

func getApp(cmd *cobra.Command) *app.App {
	if a, ok := cmd.Context().Value(appKey).(*app.App); ok {
		return a
	}
	return nil
}
