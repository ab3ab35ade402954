package ec

import (
	stderrors "errors"
	"io"
	"io/fs"

	"codeberg.org/mutker/iswctl/internal/errors"
	"golang.org/x/sys/unix"
)

var (
	errVerifyMismatch = stderrors.New("read-back value differs from written value")
	errShortIO        = stderrors.New("short transfer")
)

// opData is attached to every RAL error so callers can tell which register failed.
type opData struct {
	Op      string
	Address Address
	Value   string
}

// classify maps an I/O failure to the error taxonomy. Transient failures are
// the ones worth retrying while the controller is busy.
func classify(err error) (code errors.ErrorCode, transient bool) {
	switch {
	case stderrors.Is(err, fs.ErrNotExist),
		stderrors.Is(err, unix.ENODEV),
		stderrors.Is(err, unix.ENXIO),
		stderrors.Is(err, fs.ErrClosed),
		stderrors.Is(err, io.EOF):
		return errors.ErrHardwareUnavailable, false
	case stderrors.Is(err, fs.ErrPermission),
		stderrors.Is(err, unix.EPERM),
		stderrors.Is(err, unix.EACCES):
		return errors.ErrPermissionDenied, false
	}

	return errors.ErrHardwareTimeout, true
}
