// Package control coordinates profile lookups and register access for
// one-shot commands and the curve-following loop.
package control

import (
	"context"
	"fmt"
	"strings"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/platform"
	"codeberg.org/mutker/iswctl/internal/profile"
)

// Controller is the entry point for every operation that touches the EC.
type Controller struct {
	ral        ec.Accessor
	store      *profile.Store
	board      string
	privileged func() bool
	logger     logger.Logger
}

type Option func(*Controller)

// WithBoard sets the board used when an operation is not given one. When
// empty the board is detected.
func WithBoard(board string) Option {
	return func(c *Controller) {
		c.board = board
	}
}

// WithPrivilegeCheck replaces the effective uid check.
func WithPrivilegeCheck(fn func() bool) Option {
	return func(c *Controller) {
		c.privileged = fn
	}
}

func New(ral ec.Accessor, store *profile.Store, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		ral:        ral,
		store:      store,
		privileged: platform.IsPrivileged,
		logger:     log.With("control"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type opData struct {
	Op    string
	Board string
}

func (c *Controller) requirePrivilege(op string) error {
	if c.privileged() {
		return nil
	}
	return errors.New().WithData(errors.ErrPermissionDenied, opData{Op: op}).
		WithMessage("operation requires root privileges")
}

// Profile resolves board, or the configured or detected board when empty.
// Only a detected board may fall back to another profile; a named board
// that is missing is ProfileNotFound.
func (c *Controller) Profile(board string) (*profile.FanProfile, error) {
	if board == "" {
		board = c.board
	}
	if board != "" {
		return c.store.Resolve(board)
	}

	detected, err := c.store.AutoDetectBoardID()
	if err != nil {
		return nil, err
	}
	p, err := c.store.ResolveDetected(detected)
	if err != nil {
		return nil, err
	}
	if p.Board() != detected {
		c.logger.Warn().Str("board", detected).Str("fallback", p.Board()).Msg("No profile for board, using fallback")
	}
	return p, nil
}

// privilegedProfile checks privilege before resolving so that nothing is
// read when the caller may not proceed.
func (c *Controller) privilegedProfile(op, board string) (*profile.FanProfile, error) {
	if err := c.requirePrivilege(op); err != nil {
		return nil, err
	}
	return c.Profile(board)
}

func (c *Controller) write(ctx context.Context, p *profile.FanProfile, addr ec.Address, value byte) error {
	if !p.Range().Contains(addr) {
		return errors.New().WithData(errors.ErrAddressOutOfRange, struct {
			Board   string
			Address ec.Address
			Range   string
		}{p.Board(), addr, p.Range().String()})
	}
	return c.ral.Write(ctx, addr, value, ec.WithVerify(p.VerifyWrites()))
}

// SetCoolerBoost switches the vendor maximum-fan override.
func (c *Controller) SetCoolerBoost(ctx context.Context, on bool) (profile.Write, error) {
	p, err := c.privilegedProfile("cooler_boost", "")
	if err != nil {
		return profile.Write{}, err
	}

	reg := p.Registers().CoolerBoost
	if !reg.Declared {
		return profile.Write{}, undeclared(p, "cooler_boost_address")
	}

	value := p.Levels().CoolerBoostOff
	if on {
		value = p.Levels().CoolerBoostOn
	}

	w := profile.Write{Address: reg.Address, Value: value}
	return w, c.write(ctx, p, w.Address, w.Value)
}

// SetChargeThreshold stops charging at pct percent.
func (c *Controller) SetChargeThreshold(ctx context.Context, pct int) (profile.Write, error) {
	if pct < profile.BatteryMin || pct > profile.BatteryMax {
		return profile.Write{}, errors.New().WithData(errors.ErrValidation, struct{ Threshold int }{pct}).
			WithMessage(fmt.Sprintf("charge threshold must be between %d and %d", profile.BatteryMin, profile.BatteryMax))
	}

	p, err := c.privilegedProfile("charge_threshold", "")
	if err != nil {
		return profile.Write{}, err
	}

	reg := p.Registers().ChargeThreshold
	if !reg.Declared {
		return profile.Write{}, undeclared(p, "battery_charging_threshold_address")
	}

	w := profile.Write{Address: reg.Address, Value: byte(pct + profile.BatteryOffset)}
	return w, c.write(ctx, p, w.Address, w.Value)
}

type USBLevel string

const (
	USBOff  USBLevel = "off"
	USBHalf USBLevel = "half"
	USBFull USBLevel = "full"
)

func ParseUSBLevel(s string) (USBLevel, error) {
	switch l := USBLevel(strings.ToLower(s)); l {
	case USBOff, USBHalf, USBFull:
		return l, nil
	}
	return "", errors.New().WithData(errors.ErrValidation, struct{ Level string }{s}).
		WithMessage("USB backlight level must be off, half or full")
}

// SetUSBBacklight sets the USB port backlight level.
func (c *Controller) SetUSBBacklight(ctx context.Context, level USBLevel) (profile.Write, error) {
	p, err := c.privilegedProfile("usb_backlight", "")
	if err != nil {
		return profile.Write{}, err
	}

	reg := p.Registers().USBBacklight
	if !reg.Declared {
		return profile.Write{}, undeclared(p, "usb_backlight_address")
	}

	levels := p.Levels()
	var value byte
	switch level {
	case USBOff:
		value = levels.USBOff
	case USBHalf:
		value = levels.USBHalf
	case USBFull:
		value = levels.USBFull
	default:
		_, err := ParseUSBLevel(string(level))
		return profile.Write{}, err
	}

	w := profile.Write{Address: reg.Address, Value: value}
	return w, c.write(ctx, p, w.Address, w.Value)
}

// ReadRegister reads a single EC byte.
func (c *Controller) ReadRegister(ctx context.Context, addr ec.Address) (byte, error) {
	if err := c.requirePrivilege("read"); err != nil {
		return 0, err
	}
	return c.ral.Read(ctx, addr)
}

// WriteRegister writes a single EC byte. No profile is consulted.
func (c *Controller) WriteRegister(ctx context.Context, addr ec.Address, value byte) error {
	if err := c.requirePrivilege("write"); err != nil {
		return err
	}
	return c.ral.Write(ctx, addr, value)
}

// Dump reads the whole register file.
func (c *Controller) Dump(ctx context.Context) ([]byte, error) {
	if err := c.requirePrivilege("dump"); err != nil {
		return nil, err
	}
	return c.ral.Dump(ctx)
}

func undeclared(p *profile.FanProfile, key string) error {
	return errors.New().WithData(errors.ErrInvalidOperation, struct {
		Board string
		Key   string
	}{p.Board(), key}).WithMessage("profile does not declare the register")
}
