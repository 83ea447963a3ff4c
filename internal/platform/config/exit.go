package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// ExitOnError terminates the process when err is non-nil. A help request
// exits cleanly with code 0.
func ExitOnError(err error) {
	if code := ExitCode(err, os.Stderr); code >= 0 {
		os.Exit(code)
	}
}

// ExitCode reports the exit code for err, writing the failure to w. It
// returns -1 when err is nil and the process should keep running.
func ExitCode(err error, w io.Writer) int {
	switch {
	case err == nil:
		return -1
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		if w != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
		return 1
	}
}
