// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"syscall"
)

// exhaustedResource names the kernel limit behind err, if any. A watcher
// that has hit one cannot follow packages installed later, so Run stops.
func exhaustedResource(err error) (string, bool) {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return "inotify watch limit (fs.inotify.max_user_watches)", true
	case errors.Is(err, syscall.EMFILE):
		return "per-process file descriptor limit", true
	case errors.Is(err, syscall.ENFILE):
		return "system file table", true
	default:
		return "", false
	}
}
