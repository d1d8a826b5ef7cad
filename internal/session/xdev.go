// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"syscall"
)

// isCrossDevice reports whether err is the "invalid cross-device link"
// failure os.Rename returns when src and dst sit on different
// filesystems or volumes.
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
