package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/report"
	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

type applyOptions struct {
	target     targetFlags
	reportPath string
	noColor    bool
}

var applyOpts applyOptions

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Switch the host to the configured static network",
	Long: `Open one SSH session and run, in order: remove the cloud-init netplan file,
disable cloud-init network config, write the static netplan file and apply it.
The first fatal failure stops the sequence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApply(cmd.Context(), getApp(cmd), applyOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func runApply(ctx context.Context, a *app.App, opts applyOptions, stdout, stderr io.Writer) error {
	cfg := opts.target.apply(a.Config)

	network, err := cfg.NetworkConfig()
	if err != nil {
		return usageError(err)
	}
	privilege, err := cfg.PrivilegeMode()
	if err != nil {
		return usageError(err)
	}
	// Catch config mistakes before touching the host.
	_, unknown, err := planSteps(cfg, network, taskutil.AssumedPrefix(privilege))
	if err != nil {
		return err
	}
	for _, key := range unknown {
		taskutil.Warnf(stderr, "ignoring unknown step config %q", key)
	}

	if timeout := cfg.Execution.SequenceTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := connect(ctx, a, cfg)
	if err != nil {
		return err
	}
	prefix, err := privilegePrefix(ctx, cfg, session)
	if err != nil {
		_ = session.Close()
		return err
	}
	steps, _, err := planSteps(cfg, network, prefix)
	if err != nil {
		_ = session.Close()
		return err
	}

	result := task.NewRunner(a.Logger, cfg.Execution.CommandTimeout).Run(ctx, session, steps...)

	if err := report.Text(stdout, result, !opts.noColor); err != nil {
		a.Logger.Warn("Failed to print report", "error", err)
	}
	if opts.reportPath != "" {
		if err := report.WriteFile(opts.reportPath, result); err != nil {
			a.Logger.Error("Failed to write report", "path", opts.reportPath, "error", err)
		}
	}

	if code := statusExitCode(result.Status); code != ExitOK {
		return &ExitError{Code: code, Err: fmt.Errorf("sequence ended with %s", result.Status)}
	}
	return nil
}

func init() {
	applyOpts.target.register(applyCmd)
	applyCmd.Flags().StringVar(&applyOpts.reportPath, "report", "", "also write a YAML report to this file")
	applyCmd.Flags().BoolVar(&applyOpts.noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(applyCmd)
}
