package config

import (
	"fmt"
	"io"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	exitf(os.Stderr, 1, format, args...)
}

// Usagef writes a formatted usage error to stderr and exits with code 2.
func Usagef(format string, args ...any) {
	exitf(os.Stderr, 2, format, args...)
}

func exitf(w io.Writer, code int, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
	os.Exit(code)
}
