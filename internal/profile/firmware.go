package profile

import (
	"io"

	"codeberg.org/mutker/iswctl/internal/errors"
)

// Offsets of the other curve tables relative to a firmware CPU temperature table.
const (
	firmwareCPUDutyOffset = 0x0a
	firmwareGPUTempOffset = 0x20
	firmwareGPUDutyOffset = 0x2a
)

// firmwareBases are the CPU temperature tables of the candidate profiles
// embedded in an EC update image.
var firmwareBases = []int64{0xf801, 0xf841, 0xf871, 0xf881, 0xf8b1, 0xf8c1, 0xf8f1}

// Cell is one byte of a firmware image.
type Cell struct {
	Offset int64
	Value  byte
}

// FirmwareProfile is a candidate curve table pair found in an update image.
type FirmwareProfile struct {
	Index     int
	CPUTemps  []Cell
	CPUDuties []Cell
	GPUTemps  []Cell
	GPUDuties []Cell
}

// ReadFirmwareProfiles extracts the candidate profiles from an EC update image.
func ReadFirmwareProfiles(r io.ReaderAt) ([]FirmwareProfile, error) {
	out := make([]FirmwareProfile, 0, len(firmwareBases))
	for i, base := range firmwareBases {
		fp := FirmwareProfile{Index: i + 1}

		var err error
		if fp.CPUTemps, err = readCells(r, base, NumTempThresholds); err != nil {
			return nil, err
		}
		if fp.CPUDuties, err = readCells(r, base+firmwareCPUDutyOffset, NumDutyPoints); err != nil {
			return nil, err
		}
		if fp.GPUTemps, err = readCells(r, base+firmwareGPUTempOffset, NumTempThresholds); err != nil {
			return nil, err
		}
		if fp.GPUDuties, err = readCells(r, base+firmwareGPUDutyOffset, NumDutyPoints); err != nil {
			return nil, err
		}

		out = append(out, fp)
	}
	return out, nil
}

func readCells(r io.ReaderAt, off int64, n int) ([]Cell, error) {
	buf := make([]byte, n)
	if n, err := r.ReadAt(buf, off); n < len(buf) {
		return nil, errors.New().WrapWithData(errors.ErrInvalidArgument, err, struct{ Offset int64 }{off}).
			WithMessage("firmware image too short")
	}

	cells := make([]Cell, n)
	for i, b := range buf {
		cells[i] = Cell{Offset: off + int64(i), Value: b}
	}
	return cells, nil
}
