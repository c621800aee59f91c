// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

const (
	errnoTooManyOpenFiles = syscall.Errno(4) // ERROR_TOO_MANY_OPEN_FILES
	errnoInvalidHandle    = syscall.Errno(6) // ERROR_INVALID_HANDLE
	errnoNotEnoughMemory  = syscall.Errno(8) // ERROR_NOT_ENOUGH_MEMORY
)

// exhaustedResource names the resource behind a ReadDirectoryChangesW
// failure that leaves the watcher unusable.
func exhaustedResource(err error) (string, bool) {
	switch {
	case errors.Is(err, errnoTooManyOpenFiles):
		return "open handle limit", true
	case errors.Is(err, errnoInvalidHandle):
		return "watched directory handle", true
	case errors.Is(err, errnoNotEnoughMemory):
		return "notification buffer memory", true
	default:
		return "", false
	}
}
