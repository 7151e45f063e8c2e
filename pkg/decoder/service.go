// Decoder for DSMR P1 and IEC 62056-21 data blocks. Both are lines of
// OBIS identifiers followed by one or more "(value*unit)" groups.
package decoder

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	linePattern  = regexp.MustCompile(`^(?:(\d+)-(\d+):)?([0-9A-Z]+\.[0-9A-Z]+(?:\.[0-9A-Z]+)?)(?:\*\d+)?((?:\([^()]*\))+)$`)
	groupPattern = regexp.MustCompile(`\(([^()]*)\)`)
	crcPattern   = regexp.MustCompile(`^!([0-9A-Fa-f]{4})?$`)
)

type handler func(r *types.MeterReading, ch int, vals []value) bool

type OBIS struct {
	buf      bytes.Buffer
	parsed   bool
	status   Status
	reading  types.MeterReading
	crc      uint16
	hasCRC   bool
	errors   int
	handlers map[string]handler
	log      logrus.FieldLogger
}

func NewOBIS(log logrus.FieldLogger) *OBIS {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &OBIS{log: log}
	d.handlers = map[string]handler{
		"1.0.0":   setTimestamp,
		"0.2.8":   setString(func(r *types.MeterReading, s string) { r.P1Version = s }),
		"96.1.1":  setEquipmentID,
		"96.14.0": setTariff,
		"96.3.10": setInt(func(r *types.MeterReading, v int) { r.SwitchElectricity = v }),
		"96.13.0": setString(func(r *types.MeterReading, s string) { r.TextMessage = decodeHex(s) }),
		"96.7.21": setInt(func(r *types.MeterReading, v int) { r.PowerFailures = v }),
		"96.7.9":  setInt(func(r *types.MeterReading, v int) { r.LongPowerFailures = v }),

		"1.8.0": setKilo(func(r *types.MeterReading, v float64) { r.EnergyIn[types.TariffTotal] = v }),
		"1.8.1": setKilo(func(r *types.MeterReading, v float64) { r.EnergyIn[types.TariffOne] = v }),
		"1.8.2": setKilo(func(r *types.MeterReading, v float64) { r.EnergyIn[types.TariffTwo] = v }),
		"2.8.0": setKilo(func(r *types.MeterReading, v float64) { r.EnergyOut[types.TariffTotal] = v }),
		"2.8.1": setKilo(func(r *types.MeterReading, v float64) { r.EnergyOut[types.TariffOne] = v }),
		"2.8.2": setKilo(func(r *types.MeterReading, v float64) { r.EnergyOut[types.TariffTwo] = v }),

		"1.7.0":  setKilo(func(r *types.MeterReading, v float64) { r.PowerIn = v }),
		"2.7.0":  setKilo(func(r *types.MeterReading, v float64) { r.PowerOut = v }),
		"17.0.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerThreshold = v }),

		"21.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerInPhase[types.PhaseL1] = v }),
		"41.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerInPhase[types.PhaseL2] = v }),
		"61.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerInPhase[types.PhaseL3] = v }),
		"22.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerOutPhase[types.PhaseL1] = v }),
		"42.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerOutPhase[types.PhaseL2] = v }),
		"62.7.0": setKilo(func(r *types.MeterReading, v float64) { r.PowerOutPhase[types.PhaseL3] = v }),
		"32.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Voltage[types.PhaseL1] = v }),
		"52.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Voltage[types.PhaseL2] = v }),
		"72.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Voltage[types.PhaseL3] = v }),
		"31.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Current[types.PhaseL1] = v }),
		"51.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Current[types.PhaseL2] = v }),
		"71.7.0": setFloat(func(r *types.MeterReading, v float64) { r.Current[types.PhaseL3] = v }),

		"32.32.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSags[types.PhaseL1] = v }),
		"52.32.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSags[types.PhaseL2] = v }),
		"72.32.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSags[types.PhaseL3] = v }),
		"32.36.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSwells[types.PhaseL1] = v }),
		"52.36.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSwells[types.PhaseL2] = v }),
		"72.36.0": setInt(func(r *types.MeterReading, v int) { r.VoltageSwells[types.PhaseL3] = v }),

		"24.1.0": setDeviceType,
		"96.1.0": setDeviceID,
		"24.2.1": setDeviceCounter,
		"24.2.3": setDeviceCounter,
		"24.4.0": setDeviceValve,
	}
	d.Init()
	return d
}

func (d *OBIS) Init() {
	d.buf.Reset()
	d.parsed = false
	d.status = StatusIncomplete
	d.reading = types.MeterReading{}
	d.crc, d.hasCRC = 0, false
	d.errors = 0
}

func (d *OBIS) Feed(buf []byte, final bool) {
	d.buf.Write(buf)
	if final {
		d.parse()
	}
}

func (d *OBIS) Finish() Status {
	if !d.parsed {
		d.parse()
	}
	return d.status
}

func (d *OBIS) CRC() (uint16, bool)          { return d.crc, d.hasCRC }
func (d *OBIS) ParseErrors() int             { return d.errors }
func (d *OBIS) Reading() *types.MeterReading { return &d.reading }

func (d *OBIS) parse() {
	d.parsed = true
	recognized := 0
	ended := false
	// DSMR 2.2 gas meters put the counter on a line of its own
	pendingGas := 0

	for _, line := range strings.Split(d.buf.String(), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		switch {
		case line[0] == '/':
			d.reading.Header = line
			recognized++
			continue
		case line[0] == '!':
			if m := crcPattern.FindStringSubmatch(line); m != nil && m[1] != "" {
				crc, _ := strconv.ParseUint(m[1], 16, 16)
				d.crc, d.hasCRC = uint16(crc), true
			} else if m == nil {
				d.log.Debugf("Malformed telegram end %q", line)
				d.errors++
			}
			ended = true
		case line[0] == '(' && pendingGas > 0:
			vals := parseGroups(line)
			if len(vals) == 1 && vals[0].ok {
				dev := device(&d.reading, pendingGas)
				dev.Counter, dev.HasCounter = vals[0].num, true
				if dev.Unit == "" {
					dev.Unit = "m3"
				}
				recognized++
			} else {
				d.errors++
			}
			pendingGas = 0
			continue
		}
		if ended {
			break
		}

		pendingGas = 0
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			d.log.Debugf("Unparseable line %q", line)
			d.errors++
			continue
		}
		recognized++

		ch, _ := strconv.Atoi(m[2])
		id := m[3]
		vals := parseGroups(m[4])

		if id == "24.3.0" && ch >= 1 && ch <= types.MaxDevices {
			pendingGas = ch
			dev := device(&d.reading, ch)
			dev.Type = types.DeviceTypeGas
			if len(vals) > 0 {
				if ts, ok := parseTimestamp(vals[0].raw); ok {
					dev.Timestamp = ts
				}
			}
			if len(vals) > 5 {
				dev.Unit = vals[5].raw
			}
			continue
		}

		h, ok := d.handlers[id]
		if !ok {
			continue
		}
		if !h(&d.reading, ch, vals) {
			d.log.Debugf("Invalid value in %q", line)
			d.errors++
		}
	}

	switch {
	case recognized == 0:
		d.status = StatusError
	case !ended:
		d.status = StatusIncomplete
	default:
		d.reading.FixTotalEnergy()
		d.status = StatusComplete
	}
}

func parseGroups(s string) []value {
	groups := groupPattern.FindAllStringSubmatch(s, -1)
	vals := make([]value, 0, len(groups))
	for _, g := range groups {
		v := value{raw: g[1]}
		num, unit, _ := strings.Cut(g[1], "*")
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			v.num, v.unit, v.ok = f, unit, true
		}
		vals = append(vals, v)
	}
	return vals
}

// parseTimestamp reads YYMMDDhhmmssX, X being W (CET) or S (CEST).
func parseTimestamp(s string) (int64, bool) {
	if len(s) < 12 {
		return 0, false
	}
	offset := 3600
	if len(s) > 12 && s[12] == 'S' {
		offset = 7200
	}
	t, err := time.ParseInLocation("060102150405", s[:12], time.FixedZone("", offset))
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func decodeHex(s string) string {
	if decoded, err := hex.DecodeString(s); err == nil {
		return string(decoded)
	}
	return s
}

// device returns the M-bus slot for channel ch (1 based).
func device(r *types.MeterReading, ch int) *types.Device {
	if ch < 1 || ch > types.MaxDevices {
		return nil
	}
	if ch > r.DeviceCount {
		r.DeviceCount = ch
	}
	return &r.Devices[ch-1]
}

// W and Wh are scaled to kW and kWh.
func toKilo(v value) float64 {
	switch v.unit {
	case "W", "Wh":
		return v.num / 1000
	}
	return v.num
}

func setFloat(set func(*types.MeterReading, float64)) handler {
	return func(r *types.MeterReading, _ int, vals []value) bool {
		if len(vals) == 0 || !vals[0].ok {
			return false
		}
		set(r, vals[0].num)
		return true
	}
}

func setKilo(set func(*types.MeterReading, float64)) handler {
	return func(r *types.MeterReading, _ int, vals []value) bool {
		if len(vals) == 0 || !vals[0].ok {
			return false
		}
		set(r, toKilo(vals[0]))
		return true
	}
}

func setInt(set func(*types.MeterReading, int)) handler {
	return func(r *types.MeterReading, _ int, vals []value) bool {
		if len(vals) == 0 || !vals[0].ok {
			return false
		}
		set(r, int(vals[0].num))
		return true
	}
}

func setString(set func(*types.MeterReading, string)) handler {
	return func(r *types.MeterReading, _ int, vals []value) bool {
		if len(vals) == 0 {
			return false
		}
		set(r, vals[0].raw)
		return true
	}
}

func setTimestamp(r *types.MeterReading, ch int, vals []value) bool {
	if len(vals) == 0 {
		return false
	}
	ts, ok := parseTimestamp(vals[0].raw)
	if ok && ch == 0 {
		r.Timestamp = ts
	}
	return ok
}

// 0-0:96.1.1 is the electricity meter, on an M-bus channel it is the
// device serial some Belgian meters send.
func setEquipmentID(r *types.MeterReading, ch int, vals []value) bool {
	if len(vals) == 0 {
		return false
	}
	if ch > 0 {
		return setDeviceID(r, ch, vals)
	}
	r.EquipmentID = decodeHex(vals[0].raw)
	return true
}

func setTariff(r *types.MeterReading, _ int, vals []value) bool {
	if len(vals) == 0 || !vals[0].ok {
		return false
	}
	// "0001" and "0002"
	r.CurrentTariff = int(vals[0].num) % 10
	return true
}

func setDeviceType(r *types.MeterReading, ch int, vals []value) bool {
	dev := device(r, ch)
	if dev == nil || len(vals) == 0 || !vals[0].ok {
		return false
	}
	dev.Type = int(vals[0].num)
	return true
}

func setDeviceID(r *types.MeterReading, ch int, vals []value) bool {
	if ch == 0 && len(vals) > 0 {
		r.EquipmentID = decodeHex(vals[0].raw)
		return true
	}
	dev := device(r, ch)
	if dev == nil || len(vals) == 0 {
		return false
	}
	dev.ID = decodeHex(vals[0].raw)
	return true
}

func setDeviceCounter(r *types.MeterReading, ch int, vals []value) bool {
	dev := device(r, ch)
	if dev == nil || len(vals) < 2 || !vals[1].ok {
		return false
	}
	if ts, ok := parseTimestamp(vals[0].raw); ok {
		dev.Timestamp = ts
	}
	dev.Counter, dev.Unit, dev.HasCounter = vals[1].num, vals[1].unit, true
	if dev.Type == 0 && vals[1].unit == "m3" {
		dev.Type = types.DeviceTypeGas
	}
	return true
}

func setDeviceValve(r *types.MeterReading, ch int, vals []value) bool {
	dev := device(r, ch)
	if dev == nil || len(vals) == 0 || !vals[0].ok {
		return false
	}
	dev.ValvePos = int(vals[0].num)
	return true
}
