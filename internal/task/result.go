package task

import (
	"fmt"
	"time"

	"github.com/tpodg/staticnet/internal/server"
)

// Outcome is what happened to one step.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Skipped   Outcome = "skipped"
)

// StepResult records one step of a sequence. Output is zero for skipped
// steps and for steps whose command could not be rendered.
type StepResult struct {
	// Index is 1-based.
	Index   int
	Name    string
	Policy  FailurePolicy
	Command string
	Outcome Outcome
	Output  server.Output
	Err     error
}

// StatusKind classifies how a sequence ended.
type StatusKind string

const (
	// Complete means every step ran and no fatal step failed.
	Complete StatusKind = "complete"
	// AbortedAt means a fatal step failed and the rest were skipped.
	AbortedAt StatusKind = "aborted"
	// ConnectionLost means the session became unusable mid-sequence.
	ConnectionLost StatusKind = "connection-lost"
	// Cancelled means the caller's context ended the sequence.
	Cancelled StatusKind = "cancelled"
)

// Status is the overall result. Step is the 1-based step the sequence
// stopped at, zero for Complete.
type Status struct {
	Kind StatusKind
	Step int
}

func (s Status) String() string {
	switch s.Kind {
	case Complete:
		return "Complete"
	case AbortedAt:
		return fmt.Sprintf("AbortedAt(%d)", s.Step)
	case ConnectionLost:
		return fmt.Sprintf("ConnectionLost(%d)", s.Step)
	case Cancelled:
		return fmt.Sprintf("Cancelled(%d)", s.Step)
	default:
		return string(s.Kind)
	}
}

// SequenceResult aggregates a run over one session.
type SequenceResult struct {
	RunID    string
	ServerID string
	Started  time.Time
	Elapsed  time.Duration
	Steps    []StepResult
	Status   Status
}

// OK reports a Complete sequence.
func (r *SequenceResult) OK() bool {
	return r.Status.Kind == Complete
}

// Failures returns the failed steps, fatal or tolerant, in order.
func (r *SequenceResult) Failures() []StepResult {
	var out []StepResult
	for _, step := range r.Steps {
		if step.Outcome == Failed {
			out = append(out, step)
		}
	}
	return out
}

// StoppedAt returns the step the sequence stopped at, if any.
func (r *SequenceResult) StoppedAt() (StepResult, bool) {
	if r.Status.Step < 1 || r.Status.Step > len(r.Steps) {
		return StepResult{}, false
	}
	return r.Steps[r.Status.Step-1], true
}
