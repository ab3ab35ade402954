package ec

import (
	"bytes"
	stderrors "errors"
	"io/fs"
	"os"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
)

// Open opens the register file at cfg.Path. A handle that can only be opened
// read-only, or a kernel module loaded without write support, still yields a
// usable Controller; writes then fail with PermissionDenied or
// HardwareUnavailable respectively.
func Open(cfg Config, log logger.Logger) (*Controller, error) {
	errFactory := errors.New()

	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	path := struct{ Path string }{cfg.Path}

	var writeErr error
	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0)
	if stderrors.Is(err, fs.ErrPermission) {
		writeErr = errFactory.WrapWithData(errors.ErrPermissionDenied, err, path)
		f, err = os.OpenFile(cfg.Path, os.O_RDONLY, 0)
	}
	if err != nil {
		code, _ := classify(err)
		if code == errors.ErrHardwareTimeout {
			code = errors.ErrHardwareUnavailable
		}
		return nil, errFactory.WrapWithData(code, err, path).
			WithMessage("cannot open EC register file (is ec_sys loaded?)")
	}

	if writeErr == nil {
		writeErr = checkWriteSupport(cfg.WriteSupportPath)
	}

	log.Debug().
		Str("path", cfg.Path).
		Bool("writable", writeErr == nil).
		Msg("EC register file opened")

	return New(f, writeErr, cfg, log), nil
}

// checkWriteSupport inspects the ec_sys write_support module parameter. A
// missing parameter file is not an error: the module may be built in.
func checkWriteSupport(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	if v := bytes.TrimSpace(data); len(v) > 0 && (v[0] == 'Y' || v[0] == '1') {
		return nil
	}

	return errors.New().WithData(errors.ErrHardwareUnavailable, struct{ Path string }{path}).
		WithMessage("ec_sys loaded without write_support=1")
}
