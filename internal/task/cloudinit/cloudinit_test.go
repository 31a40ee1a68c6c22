package cloudinit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tpodg/staticnet/internal/task"
	tasktest "github.com/tpodg/staticnet/internal/testutils/task"
)

func TestSpec_Defaults(t *testing.T) {
	steps := tasktest.PlanSteps(t, nil, task.Env{Prefix: "sudo -n "}, Spec())
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Name != RemoveStepName || steps[1].Name != DisableStepName {
		t.Fatalf("unexpected step order: %q, %q", steps[0].Name, steps[1].Name)
	}
	for _, step := range steps {
		if step.Policy != task.Fatal {
			t.Errorf("%s: expected fatal policy, got %q", step.Name, step.Policy)
		}
		if step.Timeout != 30*time.Second {
			t.Errorf("%s: expected 30s timeout, got %s", step.Name, step.Timeout)
		}
		command := tasktest.Render(t, step)
		if !strings.HasPrefix(command, "sudo -n sh -c ") {
			t.Errorf("%s: expected sudo prefix, got %q", step.Name, command)
		}
	}

	remove := tasktest.Render(t, steps[0])
	if !strings.Contains(remove, "rm -f -- ") || !strings.Contains(remove, "/etc/netplan/50-cloud-init.yaml") {
		t.Errorf("unexpected remove command %q", remove)
	}
	disable := tasktest.Render(t, steps[1])
	if !strings.Contains(disable, "/etc/cloud/cloud.cfg.d/99-disable-network-config.cfg") {
		t.Errorf("unexpected disable command %q", disable)
	}
}

func TestSpec_Overrides(t *testing.T) {
	overrides := map[string]any{
		StepKey: map[string]any{
			"remove": map[string]any{"policy": "tolerant", "timeout": "5s"},
		},
	}
	steps := tasktest.PlanSteps(t, overrides, task.Env{}, Spec())

	remove := tasktest.StepByName(t, steps, RemoveStepName)
	if remove.Policy != task.Tolerant || remove.Timeout != 5*time.Second {
		t.Errorf("override not applied: %+v", remove)
	}
	disable := tasktest.StepByName(t, steps, DisableStepName)
	if disable.Policy != task.Fatal {
		t.Errorf("sibling defaults must survive the merge, got %q", disable.Policy)
	}
}

func TestSpec_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{"relative path", map[string]any{"netplan_file": "etc/netplan/x.yaml"}, "clean absolute path"},
		{"dotdot path", map[string]any{"disable_file": "/etc/cloud/../passwd"}, "clean absolute path"},
		{"bad policy", map[string]any{"disable": map[string]any{"policy": "maybe"}}, "unknown policy"},
		{"bad timeout", map[string]any{"remove": map[string]any{"timeout": "soon"}}, "invalid timeout"},
		{"unknown field", map[string]any{"netplan_fille": "/x"}, "netplan_fille"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := task.PlanSteps(map[string]any{StepKey: tt.overrides}, []task.Spec{Spec()}, task.Env{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSteps_RunLocally(t *testing.T) {
	tasktest.RequireShell(t)
	dir := t.TempDir()
	netplanFile := filepath.Join(dir, "netplan", "50-cloud-init.yaml")
	disableFile := filepath.Join(dir, "cloud", "cloud.cfg.d", "99-disable-network-config.cfg")

	if err := os.MkdirAll(filepath.Dir(netplanFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(netplanFile, []byte("network: {version: 2}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	overrides := map[string]any{StepKey: map[string]any{"netplan_file": netplanFile, "disable_file": disableFile}}
	steps := tasktest.PlanSteps(t, overrides, task.Env{}, Spec())

	// Both steps must be safe to repeat.
	for i := 0; i < 2; i++ {
		for _, step := range steps {
			tasktest.RunLocal(t, tasktest.Render(t, step))
		}
	}

	if _, err := os.Stat(netplanFile); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed, stat err: %v", netplanFile, err)
	}
	content, err := os.ReadFile(disableFile)
	if err != nil {
		t.Fatalf("read disable file: %v", err)
	}
	if string(content) != DisabledContent+"\n" {
		t.Errorf("expected overwrite in place, got %q", content)
	}
}

func TestResolve(t *testing.T) {
	cfg, err := Resolve(map[string]any{StepKey: map[string]any{"disable_file": "/etc/cloud/cloud.cfg.d/90-static.cfg"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.NetplanFile != "/etc/netplan/50-cloud-init.yaml" {
		t.Errorf("default netplan_file lost in merge, got %q", cfg.NetplanFile)
	}
	if cfg.DisableFile != "/etc/cloud/cloud.cfg.d/90-static.cfg" {
		t.Errorf("override not applied, got %q", cfg.DisableFile)
	}

	if _, err := Resolve(map[string]any{StepKey: map[string]any{"disable_file": "relative.cfg"}}); err == nil {
		t.Error("expected error for relative disable_file")
	}
	if _, err := Resolve(map[string]any{StepKey: map[string]any{"disabled_file": "/x"}}); err == nil {
		t.Error("expected error for unknown field")
	}
}
