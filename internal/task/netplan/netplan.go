// Package netplan provides the steps that write and apply the static
// netplan document.
package netplan

import (
	"fmt"
	"path"
	"strings"

	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

const (
	StepKey = "netplan"

	WriteStepName = "write static netplan config"
	ApplyStepName = "apply netplan config"

	tempSuffix = ".staticnet.tmp"
	// detachDelay lets the exit status reach the client before the
	// address changes.
	detachDelay = 2
)

type ApplyConfig struct {
	Policy  task.FailurePolicy `yaml:"policy"`
	Timeout string             `yaml:"timeout"`
	// Detach runs netplan apply in the background so an address change
	// cannot cut the session before the exit status arrives.
	Detach bool `yaml:"detach"`
}

type Config struct {
	Path  string           `yaml:"path"`
	Write task.StepOptions `yaml:"write"`
	Apply ApplyConfig      `yaml:"apply"`
}

func Spec() task.Spec {
	return task.SpecFor(StepKey, "netplan.yaml", buildSteps)
}

// Resolve returns the effective config for the netplan entry of overrides.
func Resolve(overrides map[string]any) (Config, error) {
	cfg, err := task.ResolveConfig[Config](Spec(), overrides[StepKey])
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Path == "" || !path.IsAbs(c.Path) || path.Clean(c.Path) != c.Path {
		return fmt.Errorf("netplan path %q must be a clean absolute path", c.Path)
	}
	if ext := path.Ext(c.Path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("netplan path %q must end in .yaml", c.Path)
	}
	return nil
}

func buildSteps(cfg Config, env task.Env) ([]task.Step, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	write, err := cfg.Write.Step(WriteStepName, func() (string, error) {
		doc, err := env.Network.Netplan()
		if err != nil {
			return "", err
		}
		return render(env.Prefix, "write", writeScriptData{
			Dir:      path.Dir(cfg.Path),
			Path:     cfg.Path,
			TempPath: cfg.Path + tempSuffix,
			Document: string(doc),
		})
	})
	if err != nil {
		return nil, err
	}

	applyOpts := task.StepOptions{Policy: cfg.Apply.Policy, Timeout: cfg.Apply.Timeout}
	apply, err := applyOpts.Step(ApplyStepName, func() (string, error) {
		return render(env.Prefix, "apply", applyScriptData{Detach: cfg.Apply.Detach, Delay: detachDelay})
	})
	if err != nil {
		return nil, err
	}
	return []task.Step{write, apply}, nil
}

type writeScriptData struct {
	Dir      string
	Path     string
	TempPath string
	Document string
}

type applyScriptData struct {
	Detach bool
	Delay  int
}

func render(prefix, name string, data any) (string, error) {
	script, err := taskutil.RenderScript(netplanScriptTemplates, name, data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("empty %s script", name)
	}
	return taskutil.ShellCommand(prefix, script), nil
}
