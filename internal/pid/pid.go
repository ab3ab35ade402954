// Package pid guards the follow daemon against a second instance.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/iswctl/internal/errors"
	"golang.org/x/sys/unix"
)

// Write writes the current process ID to path. It fails with
// ErrAlreadyRunning while another live process owns the file; a file left
// by a dead process is replaced.
func Write(path string) error {
	errFactory := errors.New()
	data := struct{ Path string }{path}

	if bytes, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			return errFactory.WrapWithData(errors.ErrInternal, err, data)
		}

		if alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, struct {
				Path string
				PID  int
			}{path, pid})
		}
	} else if !os.IsNotExist(err) {
		return errFactory.WrapWithData(errors.ErrInternal, err, data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.WrapWithData(errors.ErrInternal, err, data)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
	if err != nil {
		return errFactory.WrapWithData(errors.ErrInternal, err, data)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().WrapWithData(errors.ErrInternal, err, struct{ Path string }{path})
	}

	return nil
}

// alive reports whether a process with the given id exists. EPERM means it
// exists but belongs to another user.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
