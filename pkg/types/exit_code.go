// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// Exit codes reported by the modlink CLI.
const (
	// ExitOK means every import resolved and every file was copied.
	ExitOK ExitCode = 0
	// ExitFailure is a fatal error: the build stopped before Done.
	ExitFailure ExitCode = 1
	// ExitPartial means the build finished but some imports, packages or
	// files failed. The report lists them.
	ExitPartial ExitCode = 2
	// ExitConfig is EX_CONFIG from sysexits.h: the configuration was rejected
	// before any phase ran.
	ExitConfig ExitCode = 78
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code in the range 0-255.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates a clean build.
func (c ExitCode) IsSuccess() bool { return c == ExitOK }

// IsPartial reports whether the build completed with recorded failures.
func (c ExitCode) IsPartial() bool { return c == ExitPartial }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
