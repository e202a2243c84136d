//go:build !windows

package proc

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}

func isPermission(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, os.ErrPermission)
}
