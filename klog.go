package kernel

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// newLogger returns the structured logger the default hooks in hooks.go
// write through (task-return and fatal-error events). Grounded on
// other_examples/manifests/MaximeWewer-ntp-exporter, the pack manifest
// that pulls zerolog; the teacher itself only ever used stdlib
// log.Printf (cpu.go, interrupt.go, exception.go — since removed).
func newLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Str("component", "kernel").Logger()
}
