package config

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Swapped in tests.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Exitf reports a fatal CLI error on stderr, one line, and exits with
// status 1.
func Exitf(format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(stderr, msg)
	exit(1)
}
