package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// errNoTerminal is returned when a secret is needed but stdin is not a
// terminal to ask on.
var errNoTerminal = errors.New("stdin is not a terminal")

// promptSecret reads a line without echo. Callers fall back to flags or
// environment variables when stdin is not a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s required: %w", strings.ToLower(label), errNoTerminal)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newLineReader(in io.Reader) *bufio.Reader {
	if r, ok := in.(*bufio.Reader); ok {
		return r
	}
	return bufio.NewReader(in)
}

// promptLine asks for a visible value, returning def on an empty answer.
func promptLine(in *bufio.Reader, out io.Writer, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	input, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		if def == "" && err != nil {
			return "", err
		}
		return def, nil
	}
	return input, nil
}
