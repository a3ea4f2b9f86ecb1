// authctl drives the auth API from a terminal: signup, verification polling, login and password resets.
// Flags may also be set as AUTHCTL_<FLAG> environment variables (e.g. AUTHCTL_API_URL).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
