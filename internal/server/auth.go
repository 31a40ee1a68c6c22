package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods builds the auth chain: explicit key material first, then the
// password, then the agent. The returned closer releases the agent socket.
func authMethods(user User, useAgent bool) ([]ssh.AuthMethod, func(), error) {
	methods := []ssh.AuthMethod{}
	closer := func() {}

	if user.SSHKey != "" {
		signer, err := loadSigner(user.SSHKey, user.Passphrase)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if user.Password != "" {
		methods = append(methods, ssh.Password(user.Password))
	}

	if useAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if agentConn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
				closer = func() { agentConn.Close() }
			}
		}
	}

	if len(methods) == 0 {
		return nil, closer, errors.New("no ssh authentication methods available")
	}
	return methods, closer, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	expandedPath, err := expandPath(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand ssh key path %q: %w", keyPath, err)
	}
	key, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %q: %w", expandedPath, err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %q with passphrase: %w", expandedPath, err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("ssh key %q is encrypted; set its passphrase environment variable", expandedPath)
		}
		return nil, fmt.Errorf("failed to parse ssh key %q: %w", expandedPath, err)
	}
	return signer, nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
