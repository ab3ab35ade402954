package control

import (
	"context"
	"fmt"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/profile"
)

// chargeStartGap is how far below the stop threshold charging resumes.
const chargeStartGap = 10

// Cell is a register and the value read from it.
type Cell struct {
	Address ec.Address
	Value   byte
}

// FanState is the curve table currently programmed for one fan.
type FanState struct {
	Temps  []Cell
	Duties []Cell
}

// ProfileState is what the EC currently holds for a board's profile registers.
type ProfileState struct {
	Board           string
	FanMode         Cell
	ChargeThreshold *Cell
	CPU             FanState
	GPU             FanState
}

// DescribeChargeThreshold renders a charge threshold byte as the
// start and stop percentages.
func DescribeChargeThreshold(v byte) string {
	lo := profile.BatteryOffset + profile.BatteryMin
	hi := profile.BatteryOffset + profile.BatteryMax
	if int(v) < lo || int(v) > hi {
		return "Nothing is set"
	}
	return fmt.Sprintf("%d%% - %d%%", int(v)-profile.BatteryOffset-chargeStartGap, int(v)-profile.BatteryOffset)
}

// ShowProfile reads back the registers board's profile controls.
func (c *Controller) ShowProfile(ctx context.Context, board string) (ProfileState, error) {
	p, err := c.privilegedProfile("show_profile", board)
	if err != nil {
		return ProfileState{}, err
	}

	st := ProfileState{Board: p.Board()}

	regs := p.Registers()
	if st.FanMode, err = c.readCell(ctx, regs.FanMode); err != nil {
		return ProfileState{}, err
	}
	if regs.ChargeThreshold.Declared {
		cell, err := c.readCell(ctx, regs.ChargeThreshold.Address)
		if err != nil {
			return ProfileState{}, err
		}
		st.ChargeThreshold = &cell
	}

	if st.CPU, err = c.readFan(ctx, p.Fan(profile.CPU)); err != nil {
		return ProfileState{}, err
	}
	if st.GPU, err = c.readFan(ctx, p.Fan(profile.GPU)); err != nil {
		return ProfileState{}, err
	}

	return st, nil
}

func (c *Controller) readCell(ctx context.Context, addr ec.Address) (Cell, error) {
	v, err := c.ral.Read(ctx, addr)
	if err != nil {
		return Cell{}, err
	}
	return Cell{Address: addr, Value: v}, nil
}

func (c *Controller) readFan(ctx context.Context, t profile.FanTable) (FanState, error) {
	var fs FanState
	for _, addr := range t.TempAddresses {
		cell, err := c.readCell(ctx, addr)
		if err != nil {
			return FanState{}, err
		}
		fs.Temps = append(fs.Temps, cell)
	}
	for _, addr := range t.DutyAddresses {
		cell, err := c.readCell(ctx, addr)
		if err != nil {
			return FanState{}, err
		}
		fs.Duties = append(fs.Duties, cell)
	}
	return fs, nil
}
