package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/tpodg/staticnet/internal/app"
	"github.com/tpodg/staticnet/internal/config"
	"github.com/tpodg/staticnet/internal/testutils"
)

func TestRunPing_Integration(t *testing.T) {
	ctx := context.Background()
	sshC := testutils.SetupSSHContainer(t, ctx)

	noAgent := false
	cfg := &config.Config{
		Server: config.ServerConfig{
			Name:     "integration-server",
			Address:  sshC.Address,
			UseAgent: &noAgent,
			User:     config.UserConfig{Name: sshC.User, SSHKey: sshC.KeyPath},
			HostKey:  config.HostKeyConfig{Policy: "strict", KnownHosts: sshC.KnownHostsPath},
		},
	}

	var buf bytes.Buffer
	if err := runPing(ctx, app.NewWithWriter(cfg, &buf), targetFlags{}); err != nil {
		t.Fatalf("ping failed: %v\n%s", err, buf.String())
	}

	output := buf.String()
	if !strings.Contains(output, "Verification successful") {
		t.Errorf("expected logs to contain 'Verification successful', got:\n%s", output)
	}
	if !strings.Contains(output, "server=integration-server") {
		t.Errorf("expected logs to contain 'server=integration-server', got:\n%s", output)
	}
}

func TestRunStatus_Integration(t *testing.T) {
	ctx := context.Background()
	sshC := testutils.SetupSSHContainer(t, ctx)

	const sudoEnvName = "STATICNET_IT_SUDO_PASSWORD"
	t.Setenv(sudoEnvName, sshC.SudoPassword)

	noAgent := false
	cfg := &config.Config{
		Privilege: "auto",
		Server: config.ServerConfig{
			Name:     "integration-server",
			Address:  sshC.Address,
			UseAgent: &noAgent,
			User:     config.UserConfig{Name: sshC.User, SSHKey: sshC.KeyPath, SudoPasswordEnv: sudoEnvName},
			HostKey:  config.HostKeyConfig{Policy: "strict", KnownHosts: sshC.KnownHostsPath},
		},
	}
	cfg.Network.Interface = "eth0"
	cfg.Network.Addresses = []string{"10.0.0.5/24"}
	cfg.Network.Gateway = "10.0.0.1"

	var logs, stdout bytes.Buffer
	err := runStatus(ctx, app.NewWithWriter(cfg, &logs), targetFlags{}, &stdout)
	if ExitCode(err) != ExitNotConverged {
		t.Fatalf("expected exit %d, got %d (%v)\n%s", ExitNotConverged, ExitCode(err), err, logs.String())
	}
	if !strings.Contains(stdout.String(), "differs  cloud-init network config disabled") {
		t.Errorf("unexpected status output:\n%s", stdout.String())
	}
	if strings.Contains(logs.String()+stdout.String(), os.Getenv(sudoEnvName)) {
		t.Error("sudo password leaked into output")
	}
}
