package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/strutil"
)

const (
	// DefaultCommandTimeout applies to steps without their own timeout.
	DefaultCommandTimeout = 60 * time.Second
	logOutputTail         = 512
)

// ExitStatusError marks a step whose command ran and exited non-zero.
type ExitStatusError struct {
	Status int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.Status)
}

// Runner is responsible for executing steps on a server.
type Runner struct {
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// NewRunner creates a new Runner. A non-positive defaultTimeout means
// DefaultCommandTimeout.
func NewRunner(logger *slog.Logger, defaultTimeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCommandTimeout
	}
	return &Runner{
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// Run executes steps strictly in order, one at a time, and closes s on
// every return path. Steps that never ran are reported as skipped.
func (r *Runner) Run(ctx context.Context, s server.Server, steps ...Step) (result *SequenceResult) {
	result = &SequenceResult{
		RunID:    uuid.NewString(),
		ServerID: s.ID(),
		Started:  time.Now(),
		Steps:    make([]StepResult, len(steps)),
	}
	for i, step := range steps {
		policy := step.Policy
		if policy == "" {
			policy = Fatal
		}
		result.Steps[i] = StepResult{Index: i + 1, Name: step.Name, Policy: policy, Outcome: Skipped}
	}

	logger := r.logger.With("run", result.RunID, "server", s.ID())
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close session", "error", err)
		}
		result.Elapsed = time.Since(result.Started)
		logger.Info("Sequence finished", "status", result.Status.String(), "elapsed", result.Elapsed)
	}()

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			logger.Warn("Sequence cancelled before step", "step", step.Name, "error", err)
			result.Status = Status{Kind: Cancelled, Step: i + 1}
			return result
		}
		if kind, stop := r.runStep(ctx, logger, s, step, &result.Steps[i]); stop {
			result.Status = Status{Kind: kind, Step: i + 1}
			return result
		}
	}

	result.Status = Status{Kind: Complete}
	return result
}

// runStep fills res and reports whether the sequence must stop, and why.
func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, s server.Server, step Step, res *StepResult) (StatusKind, bool) {
	logger = logger.With("step", res.Index, "name", step.Name)

	if step.Command == nil {
		res.Outcome = Failed
		res.Err = errors.New("step has no command")
		logger.Error("Step failed", "error", res.Err)
		return stopOn(step)
	}
	command, err := step.Command()
	if err != nil {
		res.Outcome = Failed
		res.Err = fmt.Errorf("render command: %w", err)
		logger.Error("Step failed", "error", res.Err)
		return stopOn(step)
	}
	res.Command = command

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	logger.Info("Running step", "timeout", timeout)

	out, err := s.Execute(ctx, command, timeout)
	res.Output = out

	if err == nil {
		if out.Succeeded() {
			res.Outcome = Succeeded
			logger.Info("Step succeeded", "exit_status", out.ExitStatus, "elapsed", out.Elapsed)
			return "", false
		}
		res.Outcome = Failed
		res.Err = &ExitStatusError{Status: out.ExitStatus}
		logger.Error("Step failed", "exit_status", out.ExitStatus, "elapsed", out.Elapsed, "output", outputTail(out))
		return stopOn(step)
	}

	res.Outcome = Failed
	res.Err = err

	var execErr *server.ExecutionError
	if errors.As(err, &execErr) && execErr.Reason == server.ReasonCanceled || ctx.Err() != nil {
		logger.Warn("Sequence cancelled during step", "error", err)
		return Cancelled, true
	}
	if server.IsTransportLost(err) {
		logger.Error("Connection lost during step", "error", err)
		return ConnectionLost, true
	}
	logger.Error("Step failed", "error", err, "output", outputTail(out))
	return stopOn(step)
}

func stopOn(step Step) (StatusKind, bool) {
	if step.Policy == Tolerant {
		return "", false
	}
	return AbortedAt, true
}

func outputTail(out server.Output) string {
	text := out.Stderr
	if strings.TrimSpace(text) == "" {
		text = out.Stdout
	}
	return strutil.SanitizeForLog(strutil.Tail(text, logOutputTail))
}
