package taskutil

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

// Warnf prints a warning line to w with a highlighted prefix.
func Warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warnStyle.Render("WARN:"), fmt.Sprintf(format, args...))
}
