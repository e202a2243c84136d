//go:build windows

package proc

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, windows.ERROR_INVALID_PARAMETER)
}

func isPermission(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED) || errors.Is(err, os.ErrPermission)
}
