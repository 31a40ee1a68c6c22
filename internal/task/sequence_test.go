package task_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tpodg/staticnet/internal/netcfg"
	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/catalog"
	"github.com/tpodg/staticnet/internal/testutils/fakessh"
	tasktest "github.com/tpodg/staticnet/internal/testutils/task"
)

// host is a temp dir standing in for the remote root file system, served
// over a real SSH transport by a local shell.
type host struct {
	dir         string
	netplanFile string
	disableFile string
	applyLog    string
	target      server.Target
	opts        server.SSHOptions
}

func newHost(t *testing.T, netplanScript string) *host {
	t.Helper()
	tasktest.RequireShell(t)

	dir := t.TempDir()
	h := &host{
		dir:         dir,
		netplanFile: filepath.Join(dir, "etc", "netplan", "50-cloud-init.yaml"),
		disableFile: filepath.Join(dir, "etc", "cloud", "cloud.cfg.d", "99-disable-network-config.cfg"),
		applyLog:    filepath.Join(dir, "apply.log"),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(h.netplanFile), 0o755))
	require.NoError(t, os.WriteFile(h.netplanFile, []byte("network: {version: 2, ethernets: {ens33: {dhcp4: true}}}\n"), 0o644))

	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	script := strings.ReplaceAll(netplanScript, "$LOG", h.applyLog)
	require.NoError(t, os.WriteFile(filepath.Join(bin, "netplan"), []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	keyPath, pub := fakessh.WriteClientKey(t, dir)
	srv := fakessh.Start(t, fakessh.Options{User: "ops", AuthorizedKey: pub, Handler: tasktest.LocalShellHandler(t)})

	target, err := server.NewTarget("fake-host", srv.Addr, 0, server.User{Name: "ops", SSHKey: keyPath})
	require.NoError(t, err)
	noAgent := false
	h.target = target
	h.opts = server.SSHOptions{
		UseAgent:  &noAgent,
		HostKey:   server.HostKeyConfig{Policy: server.HostKeyFingerprint, Fingerprint: ssh.FingerprintSHA256(srv.HostKey)},
		KillGrace: 200 * time.Millisecond,
	}
	return h
}

func (h *host) steps(t *testing.T, applyOverrides map[string]any) []task.Step {
	t.Helper()
	network, err := netcfg.Parse(netcfg.Params{
		Interface:   "ens33",
		Addresses:   []string{"192.168.10.20/24"},
		Gateway:     "192.168.10.1",
		Nameservers: []string{"192.168.10.1"},
	})
	require.NoError(t, err)

	netplanCfg := map[string]any{"path": h.netplanFile}
	if applyOverrides != nil {
		netplanCfg["apply"] = applyOverrides
	}
	overrides := map[string]any{
		"cloudinit": map[string]any{"netplan_file": h.netplanFile, "disable_file": h.disableFile},
		"netplan":   netplanCfg,
	}
	steps, unknown, err := task.PlanSteps(overrides, catalog.Builtins(), task.Env{Network: network})
	require.NoError(t, err)
	require.Empty(t, unknown)
	return steps
}

func (h *host) run(t *testing.T, ctx context.Context, steps []task.Step) (*task.SequenceResult, *server.Session) {
	t.Helper()
	session, err := server.Connect(ctx, h.target, h.opts)
	require.NoError(t, err)
	return newRunner().Run(ctx, session, steps...), session
}

func TestSequence_OverSSH_Idempotent(t *testing.T) {
	h := newHost(t, `echo applied >> "$LOG"`)
	steps := h.steps(t, nil)

	for i := 0; i < 2; i++ {
		result, session := h.run(t, context.Background(), steps)
		require.Equal(t, task.Complete, result.Status.Kind, "run %d: %+v", i+1, result.Failures())
		require.Equal(t, server.StateClosed, session.State())
		for _, step := range result.Steps {
			require.Equal(t, task.Succeeded, step.Outcome, step.Name)
			require.Equal(t, 0, step.Output.ExitStatus)
		}
	}

	content, err := os.ReadFile(h.netplanFile)
	require.NoError(t, err)
	require.Contains(t, string(content), "192.168.10.20/24")
	require.NotContains(t, string(content), "dhcp4: true")

	disabled, err := os.ReadFile(h.disableFile)
	require.NoError(t, err)
	require.Equal(t, "network: {config: disabled}\n", string(disabled))

	applied, err := os.ReadFile(h.applyLog)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(applied), "applied"))
}

func TestSequence_OverSSH_ApplyFails(t *testing.T) {
	h := newHost(t, `echo "invalid YAML" >&2; exit 1`)
	result, _ := h.run(t, context.Background(), h.steps(t, nil))

	require.Equal(t, task.Status{Kind: task.AbortedAt, Step: 4}, result.Status)
	stopped, ok := result.StoppedAt()
	require.True(t, ok)
	require.Equal(t, 1, stopped.Output.ExitStatus)
	// The pty merges stderr into stdout.
	require.Contains(t, stopped.Output.Stdout+stopped.Output.Stderr, "invalid YAML")
}

func TestSequence_OverSSH_Timeout(t *testing.T) {
	h := newHost(t, `sleep 5`)
	start := time.Now()
	result, session := h.run(t, context.Background(), h.steps(t, map[string]any{"timeout": "300ms"}))

	require.Less(t, time.Since(start), 4*time.Second)
	require.Equal(t, task.Status{Kind: task.AbortedAt, Step: 4}, result.Status)
	var execErr *server.ExecutionError
	require.True(t, errors.As(result.Steps[3].Err, &execErr))
	require.Equal(t, server.ReasonTimeout, execErr.Reason)
	require.Equal(t, server.StateClosed, session.State())
}

func TestSequence_OverSSH_OutputTooLarge(t *testing.T) {
	h := newHost(t, `i=0; while [ $i -lt 2000 ]; do echo "line $i of netplan debug output"; i=$((i+1)); done`)
	h.opts.MaxOutputBytes = 1024

	result, _ := h.run(t, context.Background(), h.steps(t, nil))

	require.Equal(t, task.Status{Kind: task.AbortedAt, Step: 4}, result.Status)
	var tooLarge *server.OutputTooLargeError
	require.ErrorAs(t, result.Steps[3].Err, &tooLarge)
	require.Equal(t, 1024, tooLarge.Limit)
}

func TestSequence_OverSSH_Cancelled(t *testing.T) {
	h := newHost(t, `sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(time.Second, cancel)

	result, session := h.run(t, ctx, h.steps(t, nil))

	require.Equal(t, task.Status{Kind: task.Cancelled, Step: 4}, result.Status)
	require.Equal(t, task.Failed, result.Steps[3].Outcome)
	require.Equal(t, server.StateClosed, session.State())
}
