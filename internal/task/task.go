package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tpodg/staticnet/internal/netcfg"
)

// FailurePolicy decides whether a failed step stops the sequence.
type FailurePolicy string

const (
	// Fatal aborts the remaining steps.
	Fatal FailurePolicy = "fatal"
	// Tolerant records the failure and continues.
	Tolerant FailurePolicy = "tolerant"
)

// CommandFunc produces the command text of a step.
type CommandFunc func() (string, error)

// Static returns a CommandFunc for a fixed command.
func Static(command string) CommandFunc {
	return func() (string, error) { return command, nil }
}

// Step is one entry of the reconfiguration sequence.
type Step struct {
	Name    string
	Command CommandFunc
	Policy  FailurePolicy
	// Timeout bounds the remote command. Zero falls back to the runner default.
	Timeout time.Duration
}

// Env carries what step builders need beyond their own config.
type Env struct {
	// Prefix elevates commands, for example "sudo -n ". Empty when
	// connected as root.
	Prefix  string
	Network netcfg.Static
}

// StepOptions are the settings every step accepts.
type StepOptions struct {
	Policy  FailurePolicy `yaml:"policy"`
	Timeout string        `yaml:"timeout"`
}

// Step builds a Step from the options. Empty options mean fatal with the
// runner's default timeout.
func (o StepOptions) Step(name string, command CommandFunc) (Step, error) {
	step := Step{Name: name, Command: command, Policy: o.Policy}
	switch step.Policy {
	case "":
		step.Policy = Fatal
	case Fatal, Tolerant:
	default:
		return Step{}, fmt.Errorf("step %q: unknown policy %q (fatal or tolerant)", name, o.Policy)
	}

	if raw := strings.TrimSpace(o.Timeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Step{}, fmt.Errorf("step %q: invalid timeout %q: %w", name, raw, err)
		}
		if timeout <= 0 {
			return Step{}, fmt.Errorf("step %q: timeout must be positive", name)
		}
		step.Timeout = timeout
	}
	return step, nil
}

// Handler creates the steps of one provider from its raw config.
type Handler func(state any, env Env) ([]Step, error)

// Builder ties a config key to a handler.
type Builder struct {
	Key     string
	Handler Handler
}

// CreateSteps creates steps from the config map in builder order.
// It returns the unknown keys so callers can decide how to handle them.
func CreateSteps(config map[string]any, env Env, builders ...Builder) ([]Step, []string, error) {
	var steps []Step
	var unknown []string

	handlers := make(map[string]Handler, len(builders))
	order := make([]string, 0, len(builders))
	for _, b := range builders {
		if _, exists := handlers[b.Key]; exists {
			return nil, nil, fmt.Errorf("duplicate step builder key: %s", b.Key)
		}
		handlers[b.Key] = b.Handler
		order = append(order, b.Key)
	}

	for _, key := range order {
		val, ok := config[key]
		if !ok {
			continue
		}
		s, err := handlers[key](val, env)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create steps for %s: %w", key, err)
		}
		steps = append(steps, s...)
	}

	for key := range config {
		if _, ok := handlers[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return steps, unknown, nil
}
