package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// readTerminal is term.ReadPassword; swapped in tests.
var readTerminal = term.ReadPassword

// promptPassword reads a password from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stderr, prompt); err != nil {
		return "", err
	}
	pw, err := readTerminal(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
