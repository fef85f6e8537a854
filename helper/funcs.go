// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package helper provides small utilities shared across packages.
package helper

import (
	"time"
)

// StopFunc is used to stop a time.Timer created with NewSafeTimer.
type StopFunc func()

// NewSafeTimer creates a time.Timer but does not panic if duration is <= 0.
func NewSafeTimer(duration time.Duration) (*time.Timer, StopFunc) {
	if duration <= 0 {
		// Zero-duration timers panic in some Go versions; the smallest
		// positive value keeps the fire-immediately behavior.
		duration = 1
	}

	t := time.NewTimer(duration)
	cancel := func() {
		t.Stop()
	}

	return t, cancel
}
