// Package platform identifies the running machine and the caller's privilege.
package platform

import (
	"os"
	"strings"

	"codeberg.org/mutker/iswctl/internal/errors"
	"golang.org/x/sys/unix"
)

// BoardNamePath is the DMI attribute holding the motherboard identifier.
const BoardNamePath = "/sys/class/dmi/id/board_name"

// BoardName reads the board identifier from DMI.
func BoardName() (string, error) {
	return ReadBoardName(BoardNamePath)
}

// ReadBoardName reads a DMI-style attribute file.
func ReadBoardName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.New().WrapWithData(errors.ErrHardwareUnavailable, err, struct{ Path string }{path})
	}
	return strings.TrimSpace(string(data)), nil
}

// IsPrivileged reports whether the process runs with an effective uid of 0.
func IsPrivileged() bool {
	return unix.Geteuid() == 0
}
