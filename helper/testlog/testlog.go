// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates hclog loggers backed by testing.T to ease logging
// in tests.
package testlog

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// UseStderr returns true if tests should log to stderr instead of the test
// framework's buffered output.
func UseStderr() bool {
	return os.Getenv("LABRADOR_TEST_STDERR") == "1"
}

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	t LogPrinter
}

func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	if UseStderr() {
		return os.Stderr
	}
	return &writer{t}
}

// HCLogger returns an hclog logger whose output lands in the test's log.
// Level defaults to trace and may be lowered via LABRADOR_TEST_LOG_LEVEL.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	level := "trace"
	if env := os.Getenv("LABRADOR_TEST_LOG_LEVEL"); env != "" {
		level = env
	}
	opts := &hclog.LoggerOptions{
		Level:           hclog.LevelFromString(level),
		Output:          NewWriter(t),
		IncludeLocation: true,
	}
	return hclog.NewInterceptLogger(opts)
}
