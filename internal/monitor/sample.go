// Package monitor periodically samples the EC's live temperature and fan
// registers into a rolling history.
package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/profile"
)

// rpmDivisor converts the raw fan period word into revolutions per minute.
const rpmDivisor = 478000

// Reading is the live state of one fan.
type Reading struct {
	Temp int `json:"temp"`
	Duty int `json:"duty"`
	RPM  int `json:"rpm"`
}

// Sample is one timestamped set of readings.
type Sample struct {
	Time  time.Time `json:"time"`
	Board string    `json:"board"`
	CPU   Reading   `json:"cpu"`
	GPU   Reading   `json:"gpu"`
}

// Reading returns the reading of fan f.
func (s Sample) Reading(f profile.Fan) Reading {
	if f == profile.GPU {
		return s.GPU
	}
	return s.CPU
}

// RPM converts a raw fan period word. Zero means the fan is stopped.
func RPM(raw uint16) int {
	if raw == 0 {
		return 0
	}
	return rpmDivisor / int(raw)
}

// Read takes one sample of the registers p declares. Undeclared registers
// read as zero.
func Read(ctx context.Context, ral ec.Accessor, p *profile.FanProfile) (Sample, error) {
	s := Sample{Time: time.Now(), Board: p.Board()}

	for _, f := range profile.Fans {
		r, err := readFan(ctx, ral, p.Fan(f))
		if err != nil {
			return Sample{}, err
		}
		if f == profile.GPU {
			s.GPU = r
		} else {
			s.CPU = r
		}
	}

	return s, nil
}

func readFan(ctx context.Context, ral ec.Accessor, t profile.FanTable) (Reading, error) {
	var r Reading

	if t.RealtimeTemp.Declared {
		b, err := ral.Read(ctx, t.RealtimeTemp.Address)
		if err != nil {
			return r, err
		}
		r.Temp = int(b)
	}
	if t.RealtimeDuty.Declared {
		b, err := ral.Read(ctx, t.RealtimeDuty.Address)
		if err != nil {
			return r, err
		}
		r.Duty = int(b)
	}
	if t.RealtimeRPM.Declared {
		w, err := ral.ReadWord(ctx, t.RealtimeRPM.Address)
		if err != nil {
			return r, err
		}
		r.RPM = RPM(w)
	}

	return r, nil
}
