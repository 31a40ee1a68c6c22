package taskutil

import (
	"bufio"
	"strings"
)

const maxScanTokenSize = 1024 * 1024

// HasExactLine reports whether output contains line, ignoring trailing
// carriage returns added by a pty.
func HasExactLine(output, line string) (bool, error) {
	found := false
	if err := ScanLines(output, func(text string) {
		if text == line {
			found = true
		}
	}); err != nil {
		return false, err
	}
	return found, nil
}

// ScanLines calls fn for every line of output with the line ending removed.
func ScanLines(output string, fn func(string)) error {
	scanner := bufio.NewScanner(strings.NewReader(output))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxScanTokenSize)
	for scanner.Scan() {
		fn(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	return scanner.Err()
}
