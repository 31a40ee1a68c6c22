package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
)

const pingTimeout = 15 * time.Second

var pingTarget targetFlags

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify the connection to the server",
	Long:  `Connect to the configured server and execute a simple command to verify accessibility.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPing(cmd.Context(), getApp(cmd), pingTarget)
	},
}

func runPing(ctx context.Context, a *app.App, flags targetFlags) error {
	cfg := flags.apply(a.Config)
	a.Logger.Info("Starting connection verification")

	session, err := connect(ctx, a, cfg)
	if err != nil {
		a.Logger.Error("Verification failed", "error", err)
		return err
	}
	defer session.Close()

	output, err := session.Execute(ctx, "echo 'pong'", pingTimeout)
	if err != nil {
		a.Logger.Error("Verification failed", "server", session.ID(), "error", err)
		return &ExitError{Code: ExitConnection, Err: err}
	}
	if !output.Succeeded() {
		return &ExitError{Code: ExitConnection, Err: fmt.Errorf("echo exited with status %d", output.ExitStatus)}
	}

	if strings.TrimSpace(output.Stdout) == "pong" {
		a.Logger.Info("Verification successful", "server", session.ID())
	} else {
		a.Logger.Warn("Verification partially successful (unexpected output)", "server", session.ID(), "output", strings.TrimSpace(output.Stdout))
	}
	return nil
}

func init() {
	pingTarget.register(pingCmd)
	rootCmd.AddCommand(pingCmd)
}
