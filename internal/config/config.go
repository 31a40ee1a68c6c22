package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	goconfig "github.com/tpodg/go-config"

	"github.com/tpodg/staticnet/internal/netcfg"
	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

const (
	DefaultConfigFileName = ".staticnet.yaml"
	EnvPrefix             = "STATICNET"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Privilege string          `yaml:"privilege"`
	Server    ServerConfig    `yaml:"server"`
	Network   netcfg.Params   `yaml:"network"`
	Execution ExecutionConfig `yaml:"execution"`
	Steps     map[string]any  `yaml:"steps"`
}

type ServerConfig struct {
	Name             string        `yaml:"name"`
	Address          string        `yaml:"address"`
	Port             int           `yaml:"port"`
	User             UserConfig    `yaml:"user"`
	UseAgent         *bool         `yaml:"use_agent"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	HostKey          HostKeyConfig `yaml:"host_key"`
}

// UserConfig names the login account. Secrets are never read from the
// file: the *_env fields name the environment variables holding them.
type UserConfig struct {
	Name            string `yaml:"name"`
	SSHKey          string `yaml:"ssh_key"`
	PassphraseEnv   string `yaml:"passphrase_env"`
	PasswordEnv     string `yaml:"password_env"`
	SudoPasswordEnv string `yaml:"sudo_password_env"`

	// Decoded only so Validate can reject inline secrets.
	Passphrase   string `yaml:"passphrase"`
	Password     string `yaml:"password"`
	SudoPassword string `yaml:"sudo_password"`
}

type HostKeyConfig struct {
	Policy      string `yaml:"policy"`
	KnownHosts  string `yaml:"known_hosts"`
	Fingerprint string `yaml:"fingerprint"`
}

type ExecutionConfig struct {
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	SequenceTimeout time.Duration `yaml:"sequence_timeout"`
	MaxOutputBytes  int           `yaml:"max_output_bytes"`
	DisablePTY      bool          `yaml:"disable_pty"`
	KillGrace       time.Duration `yaml:"kill_grace"`
}

// Load the configuration from the given file or default locations.
func Load(cfgFile string) (*Config, error) {
	path, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}

	c := goconfig.New()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
		}
		c.WithProviders(&goconfig.Yaml{Path: absPath})
	}

	c.WithProviders(&goconfig.Env{Prefix: EnvPrefix})

	cfg := &Config{}
	if err := c.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func findConfigFile(cfgFile string) (string, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return cfgFile, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DefaultConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if _, err := os.Stat(DefaultConfigFileName); err == nil {
		return DefaultConfigFileName, nil
	}

	return "", nil
}

// Validate checks the settings every command depends on. Server and
// network sections are checked when they are used.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := taskutil.ParsePrivilege(c.Privilege); err != nil {
		errs = append(errs, err)
	}

	u := c.Server.User
	for _, inline := range []struct{ key, value, env string }{
		{"passphrase", u.Passphrase, "passphrase_env"},
		{"password", u.Password, "password_env"},
		{"sudo_password", u.SudoPassword, "sudo_password_env"},
	} {
		if inline.value != "" {
			errs = append(errs, fmt.Errorf("server.user.%s must not be set in the config; name an environment variable with server.user.%s", inline.key, inline.env))
		}
	}

	e := c.Execution
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"execution.command_timeout", e.CommandTimeout},
		{"execution.sequence_timeout", e.SequenceTimeout},
		{"execution.kill_grace", e.KillGrace},
		{"server.handshake_timeout", c.Server.HandshakeTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.key))
		}
	}
	if e.MaxOutputBytes < 0 {
		errs = append(errs, errors.New("execution.max_output_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// Level parses log_level. Empty means info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

// PrivilegeMode returns the configured privilege, auto when unset.
func (c *Config) PrivilegeMode() (taskutil.Privilege, error) {
	return taskutil.ParsePrivilege(c.Privilege)
}

// Target builds the connection target and resolves its secrets from the
// environment.
func (c *Config) Target() (server.Target, error) {
	return c.TargetWith(os.LookupEnv)
}

// TargetWith is Target with a custom environment lookup.
func (c *Config) TargetWith(lookup func(string) (string, bool)) (server.Target, error) {
	if strings.TrimSpace(c.Server.Address) == "" {
		return server.Target{}, errors.New("server.address is required")
	}
	user, err := c.Server.User.Resolve(lookup)
	if err != nil {
		return server.Target{}, err
	}
	target, err := server.NewTarget(c.Server.Name, c.Server.Address, c.Server.Port, user)
	if err != nil {
		return server.Target{}, fmt.Errorf("server: %w", err)
	}
	return target, nil
}

// Resolve reads the secrets named by the *_env fields. Errors name the
// variable, never its value.
func (u UserConfig) Resolve(lookup func(string) (string, bool)) (server.User, error) {
	user := server.User{Name: strings.TrimSpace(u.Name), SSHKey: strings.TrimSpace(u.SSHKey)}

	var errs []error
	read := func(key, name string, dst *string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		value, ok := lookup(name)
		if !ok || value == "" {
			errs = append(errs, fmt.Errorf("environment variable %s named by server.user.%s is not set", name, key))
			return
		}
		*dst = value
	}
	read("passphrase_env", u.PassphraseEnv, &user.Passphrase)
	read("password_env", u.PasswordEnv, &user.Password)
	read("sudo_password_env", u.SudoPasswordEnv, &user.SudoPassword)

	if err := errors.Join(errs...); err != nil {
		return server.User{}, err
	}
	return user, nil
}

// SSHOptions maps the server and execution sections onto session options.
func (c *Config) SSHOptions(logger *slog.Logger) (server.SSHOptions, error) {
	hostKey := server.HostKeyConfig{
		Policy:         server.HostKeyPolicy(strings.TrimSpace(c.Server.HostKey.Policy)),
		KnownHostsPath: strings.TrimSpace(c.Server.HostKey.KnownHosts),
		Fingerprint:    strings.TrimSpace(c.Server.HostKey.Fingerprint),
	}
	if err := hostKey.Validate(); err != nil {
		return server.SSHOptions{}, fmt.Errorf("server.host_key: %w", err)
	}
	return server.SSHOptions{
		UseAgent:         c.Server.UseAgent,
		HandshakeTimeout: c.Server.HandshakeTimeout,
		HostKey:          hostKey,
		MaxOutputBytes:   c.Execution.MaxOutputBytes,
		DisablePTY:       c.Execution.DisablePTY,
		KillGrace:        c.Execution.KillGrace,
		Logger:           logger,
	}, nil
}

// NetworkConfig parses and validates the network section.
func (c *Config) NetworkConfig() (netcfg.Static, error) {
	static, err := netcfg.Parse(c.Network)
	if err != nil {
		return netcfg.Static{}, fmt.Errorf("network: %w", err)
	}
	return static, nil
}
