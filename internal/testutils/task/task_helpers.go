package task

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/testutils/fakessh"
)

// PlanSteps plans the steps of one spec and fails on unknown keys.
func PlanSteps(t *testing.T, overrides map[string]any, env task.Env, spec task.Spec) []task.Step {
	t.Helper()

	steps, unknown, err := task.PlanSteps(overrides, []task.Spec{spec}, env)
	if err != nil {
		t.Fatalf("PlanSteps failed: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unexpected unknown keys: %v", unknown)
	}
	if len(steps) == 0 {
		t.Fatal("expected at least one step")
	}
	return steps
}

// StepByName returns the step called name.
func StepByName(t *testing.T, steps []task.Step, name string) task.Step {
	t.Helper()
	for _, step := range steps {
		if step.Name == name {
			return step
		}
	}
	t.Fatalf("step %q not planned", name)
	return task.Step{}
}

// Render renders the command of step.
func Render(t *testing.T, step task.Step) string {
	t.Helper()
	command, err := step.Command()
	if err != nil {
		t.Fatalf("render %q: %v", step.Name, err)
	}
	return command
}

// RequireShell skips the test when no POSIX shell is available.
func RequireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// RunLocal runs a rendered command with the local shell and returns its
// combined output. The command must not carry a privilege prefix.
func RunLocal(t *testing.T, command string) string {
	t.Helper()
	RequireShell(t)

	out, err := exec.Command("sh", "-c", command).CombinedOutput()
	if err != nil {
		t.Fatalf("command %q failed: %v\nOutput: %s", command, err, out)
	}
	return string(out)
}

// LocalShellHandler answers fake SSH exec requests by running them with
// the local shell, so a sequence can run end to end against a temp dir.
func LocalShellHandler(t *testing.T) fakessh.Handler {
	t.Helper()
	RequireShell(t)

	return func(ctx context.Context, e fakessh.Exec) int {
		cmd := exec.CommandContext(ctx, "sh", "-c", e.Command)
		cmd.Stdout = e.Stdout
		cmd.Stderr = e.Stderr
		cmd.WaitDelay = 100 * time.Millisecond
		err := cmd.Run()
		if err == nil {
			return 0
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return exitErr.ExitCode()
		}
		return 255
	}
}
