package strutil

import (
	"reflect"
	"testing"
)

func TestCleanList(t *testing.T) {
	cases := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "empty", input: nil, want: []string{}},
		{name: "trim_and_dedupe", input: []string{" 1.1.1.1", "1.1.1.1 ", ""}, want: []string{"1.1.1.1"}},
		{name: "comma_separated", input: []string{"8.8.8.8, 8.8.4.4", "8.8.4.4"}, want: []string{"8.8.8.8", "8.8.4.4"}},
		{name: "quoted_and_bracketed", input: []string{`["9.9.9.9"]`}, want: []string{"9.9.9.9"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CleanList(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestShellEscape(t *testing.T) {
	cases := map[string]string{
		"":          "''",
		"plain":     "'plain'",
		"it's":      `'it'"'"'s'`,
		"a b; rm x": "'a b; rm x'",
	}
	for input, want := range cases {
		if got := ShellEscape(input); got != want {
			t.Errorf("ShellEscape(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeForLog(t *testing.T) {
	got := SanitizeForLog("line1\nline2\r\tend\x1b[31m")
	want := "line1 line2  end[31m"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTail(t *testing.T) {
	if got := Tail("short", 10); got != "short" {
		t.Fatalf("expected untouched string, got %q", got)
	}
	if got := Tail("first line\nsecond line\nthird", 14); got != "third" {
		t.Fatalf("expected tail cut at line start, got %q", got)
	}
	if got := Tail("abcdefgh", 3); got != "fgh" {
		t.Fatalf("expected raw tail, got %q", got)
	}
}
