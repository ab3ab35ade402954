package curve

import (
	"fmt"
	"math"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/profile"
)

type encodingData struct {
	Board    string
	Encoding profile.Encoding
}

// Encode converts a duty percentage into the register byte p's curve
// tables expect.
func Encode(p *profile.FanProfile, duty int) (byte, error) {
	if duty < MinDuty || duty > MaxDuty {
		return 0, errors.New().WithData(errors.ErrValidation, struct {
			Board string
			Duty  int
		}{p.Board(), duty}).WithMessage(fmt.Sprintf("duty outside %d..%d", MinDuty, MaxDuty))
	}

	switch p.Encoding() {
	case profile.EncodingIdentity:
		return byte(duty), nil
	case profile.EncodingScaled:
		lo, hi := p.DutyScale()
		return byte(lo + int(math.Round(float64(duty*(hi-lo))/MaxDuty))), nil
	case profile.EncodingLookup:
		table := p.Lookup()
		for i := len(table) - 1; i >= 0; i-- {
			if table[i].Duty <= duty {
				return table[i].Value, nil
			}
		}
		return 0, errors.New().WithData(errors.ErrEncoding, encodingData{p.Board(), p.Encoding()}).
			WithMessage(fmt.Sprintf("lookup table has no entry for %d%%", duty))
	}

	return 0, errors.New().WithData(errors.ErrEncoding, encodingData{p.Board(), p.Encoding()}).
		WithMessage("unsupported duty encoding")
}

// Decode converts a curve-table byte back into a duty percentage.
func Decode(p *profile.FanProfile, value byte) (int, error) {
	switch p.Encoding() {
	case profile.EncodingIdentity:
		return int(value), nil
	case profile.EncodingScaled:
		lo, hi := p.DutyScale()
		if hi == lo {
			return MinDuty, nil
		}
		duty := int(math.Round(float64((int(value)-lo)*MaxDuty) / float64(hi-lo)))
		return max(MinDuty, min(MaxDuty, duty)), nil
	case profile.EncodingLookup:
		duty, found := MinDuty, false
		for _, e := range p.Lookup() {
			if e.Value <= value {
				duty, found = e.Duty, true
			}
		}
		if !found {
			return 0, errors.New().WithData(errors.ErrEncoding, encodingData{p.Board(), p.Encoding()}).
				WithMessage(fmt.Sprintf("lookup table has no entry for 0x%02x", value))
		}
		return duty, nil
	}

	return 0, errors.New().WithData(errors.ErrEncoding, encodingData{p.Board(), p.Encoding()}).
		WithMessage("unsupported duty encoding")
}

// ToRegisterWrites returns the writes that pin every duty point of fan's
// curve table to duty.
func ToRegisterWrites(p *profile.FanProfile, fan profile.Fan, duty int) ([]profile.Write, error) {
	value, err := Encode(p, duty)
	if err != nil {
		return nil, err
	}

	addrs := p.Fan(fan).DutyAddresses
	writes := make([]profile.Write, len(addrs))
	for i, addr := range addrs {
		writes[i] = profile.Write{Address: addr, Value: value}
	}
	return writes, nil
}

// FromProfile derives a curve from the static values p writes to fan's
// curve table: (0, d0), (t0, d1) ... (t5, d6).
func FromProfile(p *profile.FanProfile, fan profile.Fan) (Curve, error) {
	table := p.Fan(fan)

	dutyAt := func(i int) (int, error) {
		b, ok := p.Value(table.DutyAddresses[i])
		if !ok {
			return 0, missingTableValue(p, fan, table.DutyAddresses[i].String())
		}
		return Decode(p, b)
	}

	d0, err := dutyAt(0)
	if err != nil {
		return Curve{}, err
	}
	points := []Point{{Temp: MinTemp, Duty: d0}}

	for i, addr := range table.TempAddresses {
		t, ok := p.Value(addr)
		if !ok {
			return Curve{}, missingTableValue(p, fan, addr.String())
		}
		d, err := dutyAt(i + 1)
		if err != nil {
			return Curve{}, err
		}
		points = append(points, Point{Temp: int(t), Duty: d})
	}

	return New(points...)
}

func missingTableValue(p *profile.FanProfile, fan profile.Fan, addr string) error {
	return errors.New().WithData(errors.ErrValidation, struct {
		Board   string
		Fan     string
		Address string
	}{p.Board(), fan.String(), addr}).WithMessage("profile does not declare its curve table")
}
