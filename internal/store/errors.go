package store

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"github.com/arloliu/lifeline/internal/natsutil"
)

// IsWriteRejected reports whether err is a quota or permission refusal from
// any backend, as opposed to a transient connectivity failure.
func IsWriteRejected(err error) bool {
	if err == nil {
		return false
	}
	if natsutil.IsWriteRejected(err) {
		return true
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.ENOSPC) {
		return true
	}

	// Redis error replies are plain strings prefixed by the error kind.
	msg := err.Error()
	for _, prefix := range []string{"OOM ", "READONLY ", "NOPERM ", "NOAUTH "} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}

	return false
}
