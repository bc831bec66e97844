package config

import (
	"fmt"
	"os"
)

// ExitCodeBroken is returned by CLI entry points when a verification run
// found a chain break, so scripts can tell it apart from operational failure.
const ExitCodeBroken = 2

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	ExitCodef(1, format, args...)
}

// ExitCodef writes a formatted error message to stderr and exits with code.
func ExitCodef(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
