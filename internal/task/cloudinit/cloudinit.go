// Package cloudinit provides the steps that take network management away
// from cloud-init.
package cloudinit

import (
	"fmt"
	"path"
	"strings"

	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

const (
	StepKey = "cloudinit"

	RemoveStepName  = "remove cloud-init netplan config"
	DisableStepName = "disable cloud-init network config"

	// DisabledContent is the override that stops cloud-init from
	// rendering network config on boot.
	DisabledContent = "network: {config: disabled}"
)

type Config struct {
	NetplanFile string           `yaml:"netplan_file"`
	DisableFile string           `yaml:"disable_file"`
	Remove      task.StepOptions `yaml:"remove"`
	Disable     task.StepOptions `yaml:"disable"`
}

func Spec() task.Spec {
	return task.SpecFor(StepKey, "cloudinit.yaml", buildSteps)
}

// Resolve returns the effective config for the cloudinit entry of
// overrides.
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
	if err := validatePath("netplan_file", c.NetplanFile); err != nil {
		return err
	}
	return validatePath("disable_file", c.DisableFile)
}

func buildSteps(cfg Config, env task.Env) ([]task.Step, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	remove, err := cfg.Remove.Step(RemoveStepName, func() (string, error) {
		return render(env.Prefix, "remove", removeScriptData{NetplanFile: cfg.NetplanFile})
	})
	if err != nil {
		return nil, err
	}

	disable, err := cfg.Disable.Step(DisableStepName, func() (string, error) {
		return render(env.Prefix, "disable", disableScriptData{
			Dir:         path.Dir(cfg.DisableFile),
			DisableFile: cfg.DisableFile,
			Content:     DisabledContent,
		})
	})
	if err != nil {
		return nil, err
	}
	return []task.Step{remove, disable}, nil
}

type removeScriptData struct {
	NetplanFile string
}

type disableScriptData struct {
	Dir         string
	DisableFile string
	Content     string
}

func render(prefix, name string, data any) (string, error) {
	script, err := taskutil.RenderScript(cloudInitScriptTemplates, name, data)
	if err != nil {
		return "", err
	}
	return taskutil.ShellCommand(prefix, script), nil
}

func validatePath(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	if !path.IsAbs(value) || path.Clean(value) != value || strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%s %q must be a clean absolute path", key, value)
	}
	return nil
}
