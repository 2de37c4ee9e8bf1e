package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var errPasswordMismatch = errors.New("passwords did not match")

// stdinReader is shared by every non-terminal read so a line buffered past
// the first prompt is still there for the next one.
var stdinReader = bufio.NewReader(os.Stdin)

// readPassword reads a single password from the controlling terminal without
// echoing it, falling back to a line read from stdin when stdin isn't a
// terminal (piped input in scripts and tests).
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
}

// readNewPassword prompts twice and requires both entries to match before
// a new password is accepted, guarding against a silent typo locking out
// the data directory it protects.
func readNewPassword() (string, error) {
	first, err := readPassword("New password: ")
	if err != nil {
		return "", err
	}
	second, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPasswordMismatch
	}
	return first, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
