package taskutil

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/tpodg/staticnet/internal/server"
	"github.com/tpodg/staticnet/internal/strutil"
)

const (
	missingFileSentinel = "__STATICNET_MISSING__"
	probeTimeout        = 15 * time.Second
	sudoPrefix          = "sudo -n "
)

// Privilege selects how commands are elevated.
type Privilege string

const (
	PrivilegeAuto Privilege = "auto"
	PrivilegeSudo Privilege = "sudo"
	PrivilegeNone Privilege = "none"
)

// ParsePrivilege validates a privilege name. Empty means auto.
func ParsePrivilege(value string) (Privilege, error) {
	switch p := Privilege(strings.TrimSpace(value)); p {
	case "":
		return PrivilegeAuto, nil
	case PrivilegeAuto, PrivilegeSudo, PrivilegeNone:
		return p, nil
	default:
		return "", fmt.Errorf("unknown privilege %q (auto, sudo or none)", value)
	}
}

// AssumedPrefix is the prefix used when no server is available to probe.
func AssumedPrefix(p Privilege) string {
	if p == PrivilegeNone {
		return ""
	}
	return sudoPrefix
}

// SudoPrefix returns the command prefix for p. Auto asks the server
// whether the login user is root.
func SudoPrefix(ctx context.Context, s server.Server, p Privilege) (string, error) {
	if p != PrivilegeAuto {
		return AssumedPrefix(p), nil
	}
	output, err := s.Execute(ctx, "id -u", probeTimeout)
	if err != nil {
		return "", fmt.Errorf("check for root user: %w", err)
	}
	if !output.Succeeded() {
		return "", fmt.Errorf("check for root user: exit status %d", output.ExitStatus)
	}
	if strings.TrimSpace(output.Stdout) == "0" {
		return "", nil
	}
	return sudoPrefix, nil
}

// ShellCommand wraps script for execution through sh with prefix.
func ShellCommand(prefix, script string) string {
	return prefix + "sh -c " + strutil.ShellEscape(script)
}

// RenderScript executes the named template.
func RenderScript(tmpl *template.Template, name string, data any) (string, error) {
	var buf strings.Builder
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// ReadFileIfExists reads path on the server. missing is true when the
// file does not exist.
func ReadFileIfExists(ctx context.Context, s server.Server, prefix, path string) (content string, missing bool, err error) {
	marker := missingFileSentinel + ":" + path
	pathEsc := strutil.ShellEscape(path)
	script := fmt.Sprintf(
		"if [ -f %s ]; then cat %s; else printf '%%s' %s; fi",
		pathEsc,
		pathEsc,
		strutil.ShellEscape(marker),
	)
	output, err := s.Execute(ctx, ShellCommand(prefix, script), probeTimeout)
	if err != nil {
		return "", false, fmt.Errorf("read file %q: %w", path, err)
	}
	if !output.Succeeded() {
		return "", false, fmt.Errorf("read file %q: exit status %d", path, output.ExitStatus)
	}
	// A pty turns \n into \r\n.
	text := strings.ReplaceAll(output.Stdout, "\r\n", "\n")
	if strings.TrimSpace(text) == marker {
		return "", true, nil
	}
	return text, false, nil
}
