// Package profile holds the board to register-layout database. Profiles are
// produced only by Parse and are read-only afterwards.
package profile

import "codeberg.org/mutker/iswctl/internal/ec"

const (
	// NumTempThresholds is the number of temperature bytes in a curve table.
	NumTempThresholds = 6
	// NumDutyPoints is the number of duty bytes in a curve table.
	NumDutyPoints = 7

	// BatteryOffset is added to the charge threshold percentage before it is stored.
	BatteryOffset = 128
	BatteryMin    = 20
	BatteryMax    = 100
)

// Fan modes written to the fan mode register.
const (
	FanModeAuto     byte = 12
	FanModeBasic    byte = 76
	FanModeAdvanced byte = 140
)

// FanModeName returns the vendor name of a fan mode byte.
func FanModeName(v byte) string {
	switch v {
	case FanModeAuto:
		return "Auto"
	case FanModeBasic:
		return "Basic"
	case FanModeAdvanced:
		return "Advanced"
	}
	return "Unknown"
}

type Fan int

const (
	CPU Fan = iota
	GPU
)

func (f Fan) String() string {
	if f == GPU {
		return "gpu"
	}
	return "cpu"
}

// Fans lists every fan a profile describes.
var Fans = []Fan{CPU, GPU}

// Encoding names how a duty percentage is turned into a register byte.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingScaled   Encoding = "scaled"
	EncodingLookup   Encoding = "lookup"
)

// Write is one static register assignment.
type Write struct {
	Address ec.Address
	Value   byte
}

// Register is an optional address a profile may declare.
type Register struct {
	Address  ec.Address
	Declared bool
}

// FanTable locates one fan's curve table and live readings.
type FanTable struct {
	TempAddresses []ec.Address
	DutyAddresses []ec.Address
	RealtimeTemp  Register
	RealtimeDuty  Register
	RealtimeRPM   Register
}

// Registers are the single-byte controls of a board.
type Registers struct {
	FanMode         ec.Address
	CoolerBoost     Register
	USBBacklight    Register
	ChargeThreshold Register
}

// Levels are the values written for CoolerBoost and USB backlight settings.
type Levels struct {
	CoolerBoostOff byte
	CoolerBoostOn  byte
	USBOff         byte
	USBHalf        byte
	USBFull        byte
}

// LookupEntry maps every duty at or above Duty to Value.
type LookupEntry struct {
	Duty  int
	Value byte
}

// KeyValue is an uninterpreted entry kept for forward compatibility.
type KeyValue struct {
	Key   string
	Value string
}

// FanProfile is the validated register layout of one board.
type FanProfile struct {
	board     string
	comment   string
	writes    []Write
	encoding  Encoding
	verify    bool
	rng       ec.Range
	registers Registers
	levels    Levels
	fans      [2]FanTable
	scaleMin  int
	scaleMax  int
	lookup    []LookupEntry
	extra     []KeyValue
}

func (p *FanProfile) Board() string        { return p.board }
func (p *FanProfile) Comment() string      { return p.comment }
func (p *FanProfile) Encoding() Encoding   { return p.encoding }
func (p *FanProfile) VerifyWrites() bool   { return p.verify }
func (p *FanProfile) Range() ec.Range      { return p.rng }
func (p *FanProfile) Registers() Registers { return p.registers }
func (p *FanProfile) Levels() Levels       { return p.levels }

// DutyScale returns the byte range used by the scaled encoding.
func (p *FanProfile) DutyScale() (lo, hi int) { return p.scaleMin, p.scaleMax }

// Writes returns the static assignments in declaration order.
func (p *FanProfile) Writes() []Write {
	return append([]Write(nil), p.writes...)
}

// Value returns the last static value declared for addr.
func (p *FanProfile) Value(addr ec.Address) (byte, bool) {
	for i := len(p.writes) - 1; i >= 0; i-- {
		if p.writes[i].Address == addr {
			return p.writes[i].Value, true
		}
	}
	return 0, false
}

// Fan returns a copy of the curve table description of f.
func (p *FanProfile) Fan(f Fan) FanTable {
	t := p.fans[f]
	t.TempAddresses = append([]ec.Address(nil), t.TempAddresses...)
	t.DutyAddresses = append([]ec.Address(nil), t.DutyAddresses...)
	return t
}

// Lookup returns the lookup-table encoding, sorted by duty.
func (p *FanProfile) Lookup() []LookupEntry {
	return append([]LookupEntry(nil), p.lookup...)
}

// Extra returns keys the parser did not interpret.
func (p *FanProfile) Extra() []KeyValue {
	return append([]KeyValue(nil), p.extra...)
}
