package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy selects how the server's host key is verified. There is no
// default: callers must pick one.
type HostKeyPolicy string

const (
	// HostKeyStrict requires a matching entry in known_hosts.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyAcceptNew records unknown hosts in known_hosts and rejects
	// keys that differ from a recorded one.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyFingerprint pins a single SHA256 fingerprint.
	HostKeyFingerprint HostKeyPolicy = "fingerprint"
	// HostKeyInsecure accepts any key. Every connect logs a warning.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// HostKeyPolicies lists the accepted policy names.
var HostKeyPolicies = []HostKeyPolicy{HostKeyStrict, HostKeyAcceptNew, HostKeyFingerprint, HostKeyInsecure}

// HostKeyConfig is the explicit host identity policy of a Session.
type HostKeyConfig struct {
	Policy         HostKeyPolicy
	KnownHostsPath string
	Fingerprint    string
}

// Validate checks that the policy is set and has what it needs.
func (c HostKeyConfig) Validate() error {
	switch c.Policy {
	case HostKeyStrict, HostKeyAcceptNew, HostKeyInsecure:
		return nil
	case HostKeyFingerprint:
		if strings.TrimSpace(c.Fingerprint) == "" {
			return errors.New("host key policy fingerprint requires a fingerprint")
		}
		return nil
	case "":
		return fmt.Errorf("host key policy must be set explicitly (one of %s)", policyNames())
	default:
		return fmt.Errorf("unknown host key policy %q (one of %s)", c.Policy, policyNames())
	}
}

// hostKeyVerifier wraps a policy callback and remembers the last rejection,
// since the ssh handshake error does not always preserve it.
type hostKeyVerifier struct {
	mu       sync.Mutex
	rejected *HostKeyError
}

func (v *hostKeyVerifier) reject(err *HostKeyError) error {
	v.mu.Lock()
	v.rejected = err
	v.mu.Unlock()
	return err
}

func (v *hostKeyVerifier) rejection() *HostKeyError {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rejected
}

func (v *hostKeyVerifier) callback(cfg HostKeyConfig, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	switch cfg.Policy {
	case HostKeyStrict:
		path, err := resolveKnownHostsPath(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		known, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %q: %w", path, err)
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := known(hostname, remote, key); err != nil {
				return v.reject(classifyKnownHostsError(hostname, key, err))
			}
			return nil
		}, nil

	case HostKeyAcceptNew:
		path, err := resolveKnownHostsPath(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		if err := ensureKnownHostsFile(path); err != nil {
			return nil, err
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			known, err := knownhosts.New(path)
			if err != nil {
				return v.reject(&HostKeyError{Host: hostname, Fingerprint: ssh.FingerprintSHA256(key), Err: err})
			}
			err = known(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
				if err := appendKnownHost(path, hostname, remote, key); err != nil {
					return v.reject(&HostKeyError{Host: hostname, Fingerprint: ssh.FingerprintSHA256(key), Err: err})
				}
				logger.Warn("Added new host key to known_hosts", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key), "known_hosts", path)
				return nil
			}
			return v.reject(classifyKnownHostsError(hostname, key, err))
		}, nil

	case HostKeyFingerprint:
		want := normalizeFingerprint(cfg.Fingerprint)
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			got := ssh.FingerprintSHA256(key)
			if got != want {
				return v.reject(&HostKeyError{Host: hostname, Fingerprint: got, Mismatch: true})
			}
			return nil
		}, nil

	case HostKeyInsecure:
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			logger.Warn("Host key verification disabled", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
			return nil
		}, nil
	}
	return nil, cfg.Validate()
}

func classifyKnownHostsError(hostname string, key ssh.PublicKey, err error) *HostKeyError {
	hkErr := &HostKeyError{Host: hostname, Fingerprint: ssh.FingerprintSHA256(key), Err: err}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		hkErr.Mismatch = len(keyErr.Want) > 0
	}
	return hkErr
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts file: %w", err)
	}
	defer file.Close()

	addresses := []string{hostname}
	if remote != nil && remote.String() != hostname {
		addresses = append(addresses, remote.String())
	}
	if _, err := file.WriteString(knownhosts.Line(addresses, key) + "\n"); err != nil {
		return fmt.Errorf("write known_hosts file: %w", err)
	}
	return nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create known_hosts directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create known_hosts file: %w", err)
	}
	return file.Close()
}

func resolveKnownHostsPath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return expandPath(path)
}

func normalizeFingerprint(value string) string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "SHA256:") {
		value = "SHA256:" + value
	}
	return strings.TrimRight(value, "=")
}

func policyNames() string {
	names := make([]string, 0, len(HostKeyPolicies))
	for _, p := range HostKeyPolicies {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
