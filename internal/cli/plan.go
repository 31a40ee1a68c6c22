package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

var planNetplanOnly bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the commands apply would run",
	Long: `Render every step of the sequence from the configuration without connecting.
Commands are shown with the prefix the configured privilege implies; with
privilege auto, sudo is assumed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(getApp(cmd), planNetplanOnly, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func runPlan(a *app.App, netplanOnly bool, stdout, stderr io.Writer) error {
	cfg := a.Config
	network, err := cfg.NetworkConfig()
	if err != nil {
		return usageError(err)
	}

	if netplanOnly {
		doc, err := network.Netplan()
		if err != nil {
			return usageError(err)
		}
		_, err = stdout.Write(doc)
		return err
	}

	privilege, err := cfg.PrivilegeMode()
	if err != nil {
		return usageError(err)
	}
	steps, unknown, err := planSteps(cfg, network, taskutil.AssumedPrefix(privilege))
	if err != nil {
		return err
	}
	for _, key := range unknown {
		taskutil.Warnf(stderr, "ignoring unknown step config %q", key)
	}

	for i, step := range steps {
		command, err := step.Command()
		if err != nil {
			return usageError(fmt.Errorf("step %d (%s): %w", i+1, step.Name, err))
		}
		timeout := "default timeout"
		if step.Timeout > 0 {
			timeout = "timeout " + step.Timeout.String()
		}
		fmt.Fprintf(stdout, "[%d] %s (%s, %s)\n", i+1, step.Name, step.Policy, timeout)
		for _, line := range strings.Split(command, "\n") {
			fmt.Fprintf(stdout, "    %s\n", line)
		}
	}
	return nil
}

func init() {
	planCmd.Flags().BoolVar(&planNetplanOnly, "netplan", false, "print only the rendered netplan document")
	rootCmd.AddCommand(planCmd)
}
