package cli

import (
	"context"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/config"
	"github.com/tpodg/staticnet/internal/netcfg"
	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/catalog"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

// targetFlags override the configured host for one invocation.
type targetFlags struct {
	host string
	port int
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "host address, overrides server.address")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port, overrides server.port")
}

// apply returns a copy of cfg with the overrides applied.
func (f targetFlags) apply(cfg *config.Config) *config.Config {
	c := *cfg
	if h := strings.TrimSpace(f.host); h != "" {
		c.Server.Address = h
	}
	if f.port != 0 {
		if host, _, err := net.SplitHostPort(c.Server.Address); err == nil {
			c.Server.Address = host
		}
		c.Server.Port = f.port
	}
	return &c
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// connect opens the one Session of this invocation.
func connect(ctx context.Context, a *app.App, cfg *config.Config) (*server.Session, error) {
	target, err := cfg.Target()
	if err != nil {
		return nil, usageError(err)
	}
	opts, err := cfg.SSHOptions(a.Logger)
	if err != nil {
		return nil, usageError(err)
	}

	a.Logger.Info("Connecting", "server", target.Name, "address", target.Addr(), "user", target.User, "host_key_policy", opts.HostKey.Policy)
	session, err := server.Connect(ctx, target, opts)
	if err != nil {
		return nil, &ExitError{Code: ExitConnection, Err: err}
	}
	return session, nil
}

// privilegePrefix resolves the command prefix on a connected session.
func privilegePrefix(ctx context.Context, cfg *config.Config, s server.Server) (string, error) {
	privilege, err := cfg.PrivilegeMode()
	if err != nil {
		return "", usageError(err)
	}
	prefix, err := taskutil.SudoPrefix(ctx, s, privilege)
	if err != nil {
		if server.IsTransportLost(err) {
			return "", &ExitError{Code: ExitConnectionLost, Err: err}
		}
		if ctx.Err() != nil {
			return "", &ExitError{Code: ExitCancelled, Err: err}
		}
		return "", &ExitError{Code: ExitConnection, Err: err}
	}
	return prefix, nil
}

// planSteps builds the sequence for cfg with the given privilege prefix.
func planSteps(cfg *config.Config, network netcfg.Static, prefix string) ([]task.Step, []string, error) {
	steps, unknown, err := task.PlanSteps(cfg.Steps, catalog.Builtins(), task.Env{Prefix: prefix, Network: network})
	if err != nil {
		return nil, nil, usageError(err)
	}
	return steps, unknown, nil
}
