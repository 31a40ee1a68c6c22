package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/task/cloudinit"
	"github.com/tpodg/staticnet/internal/task/netplan"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

var statusTarget targetFlags

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the host already has the configured static network",
	Long: `Read the cloud-init override and the netplan file on the host and compare
them with the configuration. Nothing is changed on the host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), getApp(cmd), statusTarget, cmd.OutOrStdout())
	},
}

type check struct {
	name   string
	ok     bool
	detail string
}

func runStatus(ctx context.Context, a *app.App, flags targetFlags, stdout io.Writer) error {
	cfg := flags.apply(a.Config)

	network, err := cfg.NetworkConfig()
	if err != nil {
		return usageError(err)
	}
	ciCfg, err := cloudinit.Resolve(cfg.Steps)
	if err != nil {
		return usageError(err)
	}
	npCfg, err := netplan.Resolve(cfg.Steps)
	if err != nil {
		return usageError(err)
	}

	session, err := connect(ctx, a, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	prefix, err := privilegePrefix(ctx, cfg, session)
	if err != nil {
		return err
	}

	var checks []check

	content, missing, err := taskutil.ReadFileIfExists(ctx, session, prefix, ciCfg.DisableFile)
	if err != nil {
		return readError(err)
	}
	disabled := false
	if !missing {
		if disabled, err = taskutil.HasExactLine(content, cloudinit.DisabledContent); err != nil {
			return usageError(err)
		}
	}
	checks = append(checks, check{name: "cloud-init network config disabled", ok: disabled, detail: ciCfg.DisableFile})

	if ciCfg.NetplanFile != npCfg.Path {
		_, missing, err := taskutil.ReadFileIfExists(ctx, session, prefix, ciCfg.NetplanFile)
		if err != nil {
			return readError(err)
		}
		checks = append(checks, check{name: "cloud-init netplan config removed", ok: missing, detail: ciCfg.NetplanFile})
	}

	content, missing, err = taskutil.ReadFileIfExists(ctx, session, prefix, npCfg.Path)
	if err != nil {
		return readError(err)
	}
	same := false
	if !missing {
		if same, err = network.SameDocument(content); err != nil {
			return usageError(err)
		}
	}
	checks = append(checks, check{name: "static netplan config written", ok: same, detail: npCfg.Path})

	converged := true
	for _, c := range checks {
		mark := "ok"
		if !c.ok {
			mark = "differs"
			converged = false
		}
		fmt.Fprintf(stdout, "%-8s %s (%s)\n", mark, c.name, c.detail)
	}
	if !converged {
		return &ExitError{Code: ExitNotConverged, Err: errors.New("host does not match the configured static network")}
	}
	fmt.Fprintf(stdout, "%s matches the configured static network\n", session.ID())
	return nil
}

// readError maps a failed remote read to an exit code.
func readError(err error) error {
	if server.IsTransportLost(err) {
		return &ExitError{Code: ExitConnectionLost, Err: err}
	}
	var execErr *server.ExecutionError
	if errors.As(err, &execErr) && execErr.Reason == server.ReasonCanceled {
		return &ExitError{Code: ExitCancelled, Err: err}
	}
	return &ExitError{Code: ExitConnection, Err: err}
}

func init() {
	statusTarget.register(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
