// Package report renders a SequenceResult for people and for machines.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"

	"github.com/tpodg/staticnet/internal/strutil"
	"github.com/tpodg/staticnet/internal/task"
)

const (
	// TailBytes bounds how much command output a report repeats.
	TailBytes = 2048
	indent    = "      "
)

type palette struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	skipped lipgloss.Style
	dim     lipgloss.Style
}

// Zero styles render text unchanged.
func newPalette(w io.Writer, color bool) palette {
	if !color {
		return palette{}
	}
	r := lipgloss.NewRenderer(w)
	return palette{
		title:   r.NewStyle().Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		skipped: r.NewStyle().Foreground(lipgloss.Color("8")),
		dim:     r.NewStyle().Faint(true),
	}
}

func (p palette) outcome(o task.Outcome) string {
	label := fmt.Sprintf("%-9s", o)
	switch o {
	case task.Succeeded:
		return p.ok.Render(label)
	case task.Failed:
		return p.failed.Render(label)
	default:
		return p.skipped.Render(label)
	}
}

// Text writes a human readable summary of r. Failed steps carry their
// exit status, error and the tail of their output.
func Text(w io.Writer, r *task.SequenceResult, color bool) error {
	p := newPalette(w, color)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", p.title.Render("Run"), r.RunID)
	fmt.Fprintf(&b, "  server:  %s\n", r.ServerID)
	fmt.Fprintf(&b, "  elapsed: %s\n\n", r.Elapsed.Round(time.Millisecond))

	for _, step := range r.Steps {
		fmt.Fprintf(&b, "  [%d] %s %s", step.Index, p.outcome(step.Outcome), step.Name)
		if ran(step) {
			fmt.Fprintf(&b, " %s", p.dim.Render(fmt.Sprintf("(%s, exit %d, %s)", step.Policy, step.Output.ExitStatus, step.Output.Elapsed.Round(time.Millisecond))))
		}
		b.WriteString("\n")
		if step.Outcome != task.Failed {
			continue
		}
		if step.Err != nil {
			fmt.Fprintf(&b, "%serror: %s\n", indent, strutil.SanitizeForLog(step.Err.Error()))
		}
		writeTail(&b, "stderr", step.Output.Stderr)
		writeTail(&b, "stdout", step.Output.Stdout)
	}

	status := p.ok
	if !r.OK() {
		status = p.failed
	}
	fmt.Fprintf(&b, "\n%s %s\n", p.title.Render("Status:"), status.Render(r.Status.String()))

	_, err := io.WriteString(w, b.String())
	return err
}

// ran reports whether the step reached the server.
func ran(step task.StepResult) bool {
	return step.Outcome != task.Skipped && step.Command != ""
}

func writeTail(b *strings.Builder, stream, output string) {
	output = strings.TrimSpace(strings.ReplaceAll(output, "\r\n", "\n"))
	if output == "" {
		return
	}
	fmt.Fprintf(b, "%s%s:\n", indent, stream)
	for _, line := range strings.Split(strutil.Tail(output, TailBytes), "\n") {
		fmt.Fprintf(b, "%s  %s\n", indent, strutil.SanitizeForLog(line))
	}
}

type document struct {
	RunID     string        `yaml:"run_id"`
	Server    string        `yaml:"server"`
	Started   string        `yaml:"started"`
	Elapsed   string        `yaml:"elapsed"`
	Status    string        `yaml:"status"`
	StoppedAt int           `yaml:"stopped_at,omitempty"`
	Steps     []stepSummary `yaml:"steps"`
}

type stepSummary struct {
	Index      int    `yaml:"index"`
	Name       string `yaml:"name"`
	Policy     string `yaml:"policy"`
	Outcome    string `yaml:"outcome"`
	ExitStatus *int   `yaml:"exit_status,omitempty"`
	Elapsed    string `yaml:"elapsed,omitempty"`
	Error      string `yaml:"error,omitempty"`
	Stdout     string `yaml:"stdout,omitempty"`
	Stderr     string `yaml:"stderr,omitempty"`
}

// YAML renders r as a YAML document. Output is bounded to TailBytes per
// stream.
func YAML(r *task.SequenceResult) ([]byte, error) {
	doc := document{
		RunID:     r.RunID,
		Server:    r.ServerID,
		Started:   r.Started.UTC().Format(time.RFC3339),
		Elapsed:   r.Elapsed.Round(time.Millisecond).String(),
		Status:    r.Status.String(),
		StoppedAt: r.Status.Step,
		Steps:     make([]stepSummary, 0, len(r.Steps)),
	}
	for _, step := range r.Steps {
		s := stepSummary{
			Index:   step.Index,
			Name:    step.Name,
			Policy:  string(step.Policy),
			Outcome: string(step.Outcome),
		}
		if ran(step) {
			status := step.Output.ExitStatus
			s.ExitStatus = &status
			s.Elapsed = step.Output.Elapsed.Round(time.Millisecond).String()
			s.Stdout = strutil.Tail(step.Output.Stdout, TailBytes)
			s.Stderr = strutil.Tail(step.Output.Stderr, TailBytes)
		}
		if step.Err != nil {
			s.Error = step.Err.Error()
		}
		doc.Steps = append(doc.Steps, s)
	}

	data, err := yaml.MarshalWithOptions(doc, yaml.IndentSequence(true))
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return data, nil
}

// WriteFile stores the YAML report at path, readable by the owner only.
func WriteFile(path string, r *task.SequenceResult) error {
	data, err := YAML(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
