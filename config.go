// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"time"
)

// Config holds common configuration for corosock types.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// AIOWorkers is the size of the worker pool used for blocking
	// jobs such as hostname resolution.
	//
	// Set by [NewConfig] to 4.
	AIOWorkers int

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Resolver resolves hostnames into literal addresses.
	//
	// Set by [NewConfig] to [NewSystemResolver].
	Resolver Resolver

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		AIOWorkers:    4,
		ErrClassifier: DefaultErrClassifier,
		Resolver:      NewSystemResolver(),
		TimeNow:       time.Now,
	}
}
