package crypto

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// TerminalPrompt returns a KeyConfig.Prompt that reads the key password
// from the controlling terminal without echo.
func TerminalPrompt(label string) func() (string, error) {
	return func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("stdin is not a terminal")
		}
		fmt.Fprint(os.Stderr, label)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
}
