package profile

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/errors"
	"gopkg.in/ini.v1"
)

// Distinguished keys. Keys beginning with 0x are static writes; anything
// else not listed here is kept in Extra.
const (
	keyComment         = "comment"
	keyEncoding        = "encoding"
	keyVerifyWrites    = "verify_writes"
	keyAddressRange    = "address_range"
	keyAddressProfile  = "address_profile"
	keyFanMode         = "fan_mode_address"
	keyCoolerBoost     = "cooler_boost_address"
	keyCoolerBoostOff  = "cooler_boost_off"
	keyCoolerBoostOn   = "cooler_boost_on"
	keyUSBBacklight    = "usb_backlight_address"
	keyUSBOff          = "usb_backlight_off"
	keyUSBHalf         = "usb_backlight_half"
	keyUSBFull         = "usb_backlight_full"
	keyChargeThreshold = "battery_charging_threshold_address"
	keyCPUTempBase     = "cpu_temp_base"
	keyCPUDutyBase     = "cpu_duty_base"
	keyGPUTempBase     = "gpu_temp_base"
	keyGPUDutyBase     = "gpu_duty_base"
	keyCPURealtimeTemp = "realtime_cpu_temp_address"
	keyCPURealtimeDuty = "realtime_cpu_fan_duty_address"
	keyCPURealtimeRPM  = "realtime_cpu_fan_rpm_address"
	keyGPURealtimeTemp = "realtime_gpu_temp_address"
	keyGPURealtimeDuty = "realtime_gpu_fan_duty_address"
	keyGPURealtimeRPM  = "realtime_gpu_fan_rpm_address"
	keyDutyScaleMin    = "duty_scale_min"
	keyDutyScaleMax    = "duty_scale_max"
	keyDutyLookup      = "duty_lookup"
	staticWritePrefix  = "0x"

	defaultCoolerOn = 128
	defaultUSBOff   = 128
	defaultUSBHalf  = 193
	defaultUSBFull  = 129
)

// Shared sections supply level values to every board that does not set its
// own. They are never boards.
const (
	SectionCoolerBoost  = "COOLER_BOOST"
	SectionUSBBacklight = "USB_BACKLIGHT"
)

var sharedSections = []string{SectionCoolerBoost, SectionUSBBacklight}

var knownKeys = map[string]bool{
	keyComment: true, keyEncoding: true, keyVerifyWrites: true,
	keyAddressRange: true, keyAddressProfile: true,
	keyFanMode: true, keyCoolerBoost: true, keyCoolerBoostOff: true, keyCoolerBoostOn: true,
	keyUSBBacklight: true, keyUSBOff: true, keyUSBHalf: true, keyUSBFull: true,
	keyChargeThreshold: true, keyCPUTempBase: true, keyCPUDutyBase: true,
	keyGPUTempBase: true, keyGPUDutyBase: true,
	keyCPURealtimeTemp: true, keyCPURealtimeDuty: true, keyCPURealtimeRPM: true,
	keyGPURealtimeTemp: true, keyGPURealtimeDuty: true, keyGPURealtimeRPM: true,
	keyDutyScaleMin: true, keyDutyScaleMax: true, keyDutyLookup: true,
}

var levelKeys = map[string]bool{
	keyCoolerBoostOff: true, keyCoolerBoostOn: true,
	keyUSBOff: true, keyUSBHalf: true, keyUSBFull: true,
}

// Repeated keys are kept as shadows so they can be rejected instead of
// silently overwriting each other.
var loadOptions = ini.LoadOptions{
	AllowShadows:               true,
	AllowDuplicateShadowValues: true,
	KeyValueDelimiters:         "=",
	SpaceBeforeInlineComment:   true,
}

// parseData is attached to ProfileParseError.
type parseData struct {
	Board string
	Key   string
	Value string
}

// Parse reads a profile database. A malformed section is reported through
// Database.Errors and skipped; the error return is reserved for sources that
// cannot be read at all.
func Parse(src io.Reader) (*Database, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrProfileParse, err)
	}

	db := &Database{profiles: make(map[string]*FanProfile)}
	sections := make(map[string]*ini.Section)
	seen := make(map[string]bool)
	var order []string

	for _, c := range splitSections(raw) {
		if c.name != ini.DefaultSection {
			if seen[c.name] {
				db.errs = append(db.errs, parseError(c.name, "", "", "duplicate board section"))
				continue
			}
			seen[c.name] = true
		}
		if c.unclosed {
			db.errs = append(db.errs, parseError(c.name, "", "", "unclosed section header"))
			continue
		}

		sec, err := loadSection(c)
		if err != nil {
			db.errs = append(db.errs, err)
			continue
		}
		if c.name == ini.DefaultSection {
			continue
		}
		sections[c.name] = sec
		order = append(order, c.name)
	}

	shared := db.sharedLayers(sections)
	for _, name := range order {
		if isShared(name) {
			continue
		}
		ls, err := layers(name, sections, shared)
		if err != nil {
			db.errs = append(db.errs, err)
			continue
		}
		p, err := parseSection(name, ls)
		if err != nil {
			db.errs = append(db.errs, err)
			continue
		}
		db.profiles[name] = p
		db.order = append(db.order, name)
	}

	return db, nil
}

func parseError(board, key, value, reason string) error {
	return errors.New().WithData(errors.ErrProfileParse, parseData{Board: board, Key: key, Value: value}).
		WithMessage(reason)
}

// chunk is the source text of one section, header line included.
type chunk struct {
	name     string
	unclosed bool
	body     []byte
}

// splitSections cuts src at header lines so each section loads on its own.
// Text before the first header is returned under ini's default section name.
func splitSections(src []byte) []chunk {
	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))

	var out []chunk
	cur := chunk{name: ini.DefaultSection}
	for _, line := range bytes.SplitAfter(src, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			cur.body = append(cur.body, line...)
			continue
		}

		out = append(out, cur)
		cur = chunk{body: append([]byte(nil), line...)}
		if end := bytes.LastIndexByte(trimmed, ']'); end > 0 {
			cur.name = string(trimmed[1:end])
		} else {
			cur.name = string(bytes.TrimSpace(trimmed[1:]))
			cur.unclosed = true
		}
	}
	return append(out, cur)
}

func loadSection(c chunk) (*ini.Section, error) {
	f, err := ini.LoadSources(loadOptions, c.body)
	if err != nil {
		return nil, parseError(c.name, "", "", err.Error())
	}
	sec, err := f.GetSection(c.name)
	if err != nil {
		return nil, parseError(c.name, "", "", err.Error())
	}
	for _, key := range sec.Keys() {
		if len(key.ValueWithShadows()) > 1 {
			return nil, parseError(c.name, key.Name(), key.String(), "key declared more than once")
		}
	}
	return sec, nil
}

func isShared(name string) bool {
	for _, s := range sharedSections {
		if s == name {
			return true
		}
	}
	return false
}

// layer is a section consulted for key lookups. supply limits which keys it
// may answer; nil means all of them.
type layer struct {
	sec    *ini.Section
	supply func(key string) bool
}

func (l layer) lookup(key string) (string, bool) {
	if (l.supply != nil && !l.supply(key)) || !l.sec.HasKey(key) {
		return "", false
	}
	return strings.TrimSpace(l.sec.Key(key).String()), true
}

func inheritedKey(key string) bool {
	return knownKeys[key] && key != keyComment && key != keyAddressProfile
}

func levelKey(key string) bool { return levelKeys[key] }

// layers returns the lookup order for board: its own section, each
// address_profile base in turn, then the shared level sections.
func layers(board string, sections map[string]*ini.Section, shared []layer) ([]layer, error) {
	sec := sections[board]
	out := []layer{{sec: sec}}
	visited := map[string]bool{board: true}
	for sec.HasKey(keyAddressProfile) {
		base := strings.TrimSpace(sec.Key(keyAddressProfile).String())
		if visited[base] {
			return nil, parseError(board, keyAddressProfile, base, "address_profile chain loops")
		}
		visited[base] = true

		next, ok := sections[base]
		if !ok {
			return nil, parseError(board, keyAddressProfile, base, "address_profile names no loaded section")
		}
		out = append(out, layer{sec: next, supply: inheritedKey})
		sec = next
	}
	return append(out, shared...), nil
}

// sharedLayers validates the shared level sections. A section with a bad
// level is reported once and not consulted.
func (db *Database) sharedLayers(sections map[string]*ini.Section) []layer {
	var out []layer
	for _, name := range sharedSections {
		sec, ok := sections[name]
		if !ok {
			continue
		}
		l := layer{sec: sec, supply: levelKey}
		sp := &sectionParser{board: name, layers: []layer{l}}
		sp.levels()
		if sp.err != nil {
			db.errs = append(db.errs, sp.err)
			continue
		}
		out = append(out, l)
	}
	return out
}

// sectionParser accumulates the first failure so field parsing reads linearly.
type sectionParser struct {
	board  string
	layers []layer
	rng    ec.Range
	err    error
}

func (sp *sectionParser) fail(key, value, reason string) {
	if sp.err == nil {
		sp.err = parseError(sp.board, key, value, reason)
	}
}

func (sp *sectionParser) value(key string) (string, bool) {
	for _, l := range sp.layers {
		if v, ok := l.lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

func (sp *sectionParser) address(key string) ec.Address {
	v, ok := sp.value(key)
	if !ok {
		sp.fail(key, "", "missing required key")
		return 0
	}
	return sp.parseAddress(key, v)
}

func (sp *sectionParser) register(key string) Register {
	v, ok := sp.value(key)
	if !ok {
		return Register{}
	}
	return Register{Address: sp.parseAddress(key, v), Declared: true}
}

func (sp *sectionParser) parseAddress(key, v string) ec.Address {
	n, err := parseHex(v)
	if err != nil {
		sp.fail(key, v, "address is not a hexadecimal number")
		return 0
	}
	a := ec.Address(n)
	if !sp.rng.Contains(a) {
		sp.fail(key, v, fmt.Sprintf("address outside %s", sp.rng))
	}
	return a
}

func (sp *sectionParser) byteValue(key string, def byte) byte {
	v, ok := sp.value(key)
	if !ok {
		return def
	}
	b, err := parseByte(v)
	if err != nil {
		sp.fail(key, v, "value is not a byte")
	}
	return b
}

func (sp *sectionParser) intValue(key string, def int) int {
	v, ok := sp.value(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		sp.fail(key, v, "value is not an integer")
	}
	return n
}

// table returns n consecutive addresses starting at the address named by key.
func (sp *sectionParser) table(key string, n int) []ec.Address {
	base := sp.address(key)
	out := make([]ec.Address, n)
	for i := range out {
		out[i] = base + ec.Address(i)
	}
	if last := out[n-1]; sp.err == nil && !sp.rng.Contains(last) {
		sp.fail(key, base.String(), fmt.Sprintf("table end %s outside %s", last, sp.rng))
	}
	return out
}

func (sp *sectionParser) levels() Levels {
	return Levels{
		CoolerBoostOff: sp.byteValue(keyCoolerBoostOff, 0),
		CoolerBoostOn:  sp.byteValue(keyCoolerBoostOn, defaultCoolerOn),
		USBOff:         sp.byteValue(keyUSBOff, defaultUSBOff),
		USBHalf:        sp.byteValue(keyUSBHalf, defaultUSBHalf),
		USBFull:        sp.byteValue(keyUSBFull, defaultUSBFull),
	}
}

// parseSection builds the profile for board. ls[0] is the board's own
// section; only it contributes static writes and Extra.
func parseSection(board string, ls []layer) (*FanProfile, error) {
	sp := &sectionParser{board: board, layers: ls, rng: ec.FullRange()}

	if v, ok := sp.value(keyAddressRange); ok {
		rng, err := parseRange(v)
		if err != nil {
			return nil, parseError(board, keyAddressRange, v, err.Error())
		}
		sp.rng = rng
	}

	p := &FanProfile{
		board:    board,
		encoding: EncodingIdentity,
		rng:      sp.rng,
	}

	p.comment, _ = sp.value(keyComment)
	if v, ok := sp.value(keyEncoding); ok && v != "" {
		p.encoding = Encoding(strings.ToLower(v))
	}
	if v, ok := sp.value(keyVerifyWrites); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			sp.fail(keyVerifyWrites, v, "value is not a boolean")
		}
		p.verify = b
	}

	p.registers = Registers{
		FanMode:         sp.address(keyFanMode),
		CoolerBoost:     sp.register(keyCoolerBoost),
		USBBacklight:    sp.register(keyUSBBacklight),
		ChargeThreshold: sp.register(keyChargeThreshold),
	}
	p.levels = sp.levels()

	p.fans[CPU] = FanTable{
		TempAddresses: sp.table(keyCPUTempBase, NumTempThresholds),
		DutyAddresses: sp.table(keyCPUDutyBase, NumDutyPoints),
		RealtimeTemp:  sp.register(keyCPURealtimeTemp),
		RealtimeDuty:  sp.register(keyCPURealtimeDuty),
		RealtimeRPM:   sp.register(keyCPURealtimeRPM),
	}
	p.fans[GPU] = FanTable{
		TempAddresses: sp.table(keyGPUTempBase, NumTempThresholds),
		DutyAddresses: sp.table(keyGPUDutyBase, NumDutyPoints),
		RealtimeTemp:  sp.register(keyGPURealtimeTemp),
		RealtimeDuty:  sp.register(keyGPURealtimeDuty),
		RealtimeRPM:   sp.register(keyGPURealtimeRPM),
	}

	p.scaleMin = sp.intValue(keyDutyScaleMin, 0)
	p.scaleMax = sp.intValue(keyDutyScaleMax, 100)
	if sp.err == nil && (p.scaleMin < 0 || p.scaleMax > 255 || p.scaleMin > p.scaleMax) {
		sp.fail(keyDutyScaleMax, strconv.Itoa(p.scaleMax), "duty scale must satisfy 0 <= min <= max <= 255")
	}

	if v, ok := sp.value(keyDutyLookup); ok {
		lookup, err := parseLookup(v)
		if err != nil {
			sp.fail(keyDutyLookup, v, err.Error())
		}
		p.lookup = lookup
	}

	written := make(map[ec.Address]bool)
	for _, key := range ls[0].sec.Keys() {
		name := key.Name()
		v := strings.TrimSpace(key.String())
		switch {
		case strings.HasPrefix(strings.ToLower(name), staticWritePrefix):
			n, err := parseHex(name)
			if err != nil {
				sp.fail(name, v, "static write address is not a hexadecimal number")
				continue
			}
			addr := ec.Address(n)
			if !sp.rng.Contains(addr) {
				sp.fail(name, v, fmt.Sprintf("address outside %s", sp.rng))
				continue
			}
			if written[addr] {
				sp.fail(name, v, "static write address declared more than once")
				continue
			}
			written[addr] = true
			b, err := parseByte(v)
			if err != nil {
				sp.fail(name, v, "value is not a byte")
				continue
			}
			p.writes = append(p.writes, Write{Address: addr, Value: b})
		case !knownKeys[name]:
			p.extra = append(p.extra, KeyValue{Key: name, Value: v})
		}
	}

	if sp.err != nil {
		return nil, sp.err
	}
	return p, nil
}

// ParseAddress reads a register address written in hexadecimal, with or
// without a 0x prefix.
func ParseAddress(s string) (ec.Address, error) {
	n, err := parseHex(s)
	if err != nil {
		code := errors.ErrValidation
		if errors.Is(err, strconv.ErrRange) {
			code = errors.ErrAddressOutOfRange
		}
		return 0, errors.New().WrapWithData(code, err, struct{ Address string }{s})
	}
	return ec.Address(n), nil
}

// ParseValue reads a register value written in decimal or 0x hexadecimal.
func ParseValue(s string) (byte, error) {
	v, err := parseByte(s)
	if err != nil {
		return 0, errors.New().WrapWithData(errors.ErrValidation, err, struct{ Value string }{s})
	}
	return v, nil
}

// parseHex accepts an optional 0x prefix.
func parseHex(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	if n >= ec.Size {
		return 0, strconv.ErrRange
	}
	return int(n), nil
}

// parseByte accepts decimal or 0x-prefixed hexadecimal.
func parseByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, err
	}
	return byte(n), nil
}

func parseRange(s string) (ec.Range, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return ec.Range{}, fmt.Errorf("range must be written as LOW-HIGH")
	}
	a, err := parseHex(lo)
	if err != nil {
		return ec.Range{}, fmt.Errorf("invalid range start: %w", err)
	}
	b, err := parseHex(hi)
	if err != nil {
		return ec.Range{}, fmt.Errorf("invalid range end: %w", err)
	}
	if a > b {
		return ec.Range{}, fmt.Errorf("range start after end")
	}
	return ec.Range{Min: ec.Address(a), Max: ec.Address(b)}, nil
}

// parseLookup reads "duty:value,duty:value" pairs.
func parseLookup(s string) ([]LookupEntry, error) {
	var out []LookupEntry
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		d, v, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("lookup entry %q is not duty:value", pair)
		}
		duty, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil || duty < 0 || duty > 100 {
			return nil, fmt.Errorf("lookup duty %q must be 0..100", d)
		}
		b, err := parseByte(v)
		if err != nil {
			return nil, fmt.Errorf("lookup value %q is not a byte", v)
		}
		out = append(out, LookupEntry{Duty: duty, Value: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duty < out[j].Duty })
	return out, nil
}
