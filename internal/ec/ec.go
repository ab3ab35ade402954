package ec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 5 * time.Millisecond
)

// Config controls how the register file is opened and accessed.
type Config struct {
	Path             string
	WriteSupportPath string
	Range            Range
	Attempts         uint
	Backoff          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Path:             DefaultPath,
		WriteSupportPath: DefaultWriteSupportPath,
		Range:            FullRange(),
		Attempts:         DefaultAttempts,
		Backoff:          DefaultBackoff,
	}
}

// Controller owns the hardware handle. Every operation, including its
// retries, runs under one mutex so that no two register transfers overlap.
type Controller struct {
	mu       sync.Mutex
	dev      Device
	writeErr error
	rng      Range
	attempts uint
	backoff  time.Duration
	logger   logger.Logger
}

// New wraps an already open device. writeErr, when non-nil, is returned by
// every write (read-only handle, write support disabled).
func New(dev Device, writeErr error, cfg Config, log logger.Logger) *Controller {
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Range == (Range{}) {
		cfg.Range = FullRange()
	}

	return &Controller{
		dev:      dev,
		writeErr: writeErr,
		rng:      cfg.Range,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   log.With("ec"),
	}
}

func (c *Controller) Range() Range {
	return c.rng
}

// Read returns the byte at addr.
func (c *Controller) Read(ctx context.Context, addr Address) (byte, error) {
	if err := c.validate("read", addr); err != nil {
		return 0, err
	}

	var buf [1]byte
	err := c.locked(ctx, "read", addr, nil, func() error {
		return c.readAt(buf[:], int64(addr))
	})

	return buf[0], err
}

// ReadWord returns the big-endian 16-bit value stored at addr and addr+1.
// Both bytes are read under a single lock hold.
func (c *Controller) ReadWord(ctx context.Context, addr Address) (uint16, error) {
	if err := c.validate("read_word", addr); err != nil {
		return 0, err
	}
	if err := c.validate("read_word", addr+1); err != nil {
		return 0, err
	}

	var buf [2]byte
	err := c.locked(ctx, "read_word", addr, nil, func() error {
		return c.readAt(buf[:], int64(addr))
	})

	return uint16(buf[0])<<8 | uint16(buf[1]), err
}

// Write stores value at addr. There is no rollback: the hardware state is
// changed as soon as the transfer succeeds.
func (c *Controller) Write(ctx context.Context, addr Address, value byte, opts ...WriteOption) error {
	if err := c.validate("write", addr); err != nil {
		return err
	}
	if c.writeErr != nil {
		return c.writeErr
	}

	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := c.locked(ctx, "write", addr, &value, func() error {
		if _, err := c.dev.WriteAt([]byte{value}, int64(addr)); err != nil {
			return err
		}
		if !o.verify {
			return nil
		}

		var back [1]byte
		if err := c.readAt(back[:], int64(addr)); err != nil {
			return err
		}
		if back[0] != value {
			return errVerifyMismatch
		}

		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("op", "write").
		Str("address", addr.String()).
		Uint8("value", value).
		Bool("verified", o.verify).
		Msg("EC register written")

	return nil
}

// Dump returns a snapshot of the whole register file.
func (c *Controller) Dump(ctx context.Context) ([]byte, error) {
	buf := make([]byte, Size)
	err := c.locked(ctx, "dump", 0, nil, func() error {
		return c.readAt(buf, 0)
	})
	if err != nil {
		return nil, err
	}

	return buf, nil
}

// Close releases the hardware handle.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (c *Controller) validate(op string, addr Address) error {
	if addr < 0 || addr >= Size || !c.rng.Contains(addr) {
		return errors.New().WithData(errors.ErrAddressOutOfRange, struct {
			Op      string
			Address Address
			Range   Range
		}{op, addr, c.rng})
	}

	return nil
}

func (c *Controller) readAt(p []byte, off int64) error {
	n, err := c.dev.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err != nil {
		return err
	}

	return errShortIO
}

// locked runs fn under the controller mutex, retrying transient failures
// a bounded number of times with exponential backoff.
func (c *Controller) locked(ctx context.Context, op string, addr Address, value *byte, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := opData{Op: op, Address: addr}
	if value != nil {
		data.Value = fmt.Sprintf("0x%02x", *value)
	}
	if c.dev == nil {
		return errors.New().WithData(errors.ErrHardwareUnavailable, data)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxInterval = 8 * c.backoff
	b.RandomizationFactor = 0

	attempt := 0
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		last = err
		if _, transient := classify(err); !transient {
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger.Debug().
			Err(err).
			Str("op", op).
			Str("address", addr.String()).
			Int("attempt", attempt).
			Msg("EC busy, retrying")

		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.attempts))
	if err == nil {
		return nil
	}

	// Retry hands back the context cause instead of the device error once
	// the caller gives up.
	if cause := context.Cause(ctx); cause != nil && errors.Is(err, cause) {
		return errors.New().WrapWithData(errors.ErrHardwareTimeout, errors.Join(cause, last), data)
	}
	code, _ := classify(err)

	return errors.New().WrapWithData(code, err, data)
}
