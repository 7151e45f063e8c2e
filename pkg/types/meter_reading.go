package types

// Tariff indexes per-tariff energy registers. Total is the
// tariff-independent counter, not an implicit slot 0 sum.
type Tariff uint8

const (
	TariffTotal Tariff = iota
	TariffOne
	TariffTwo
	TariffCount
)

type Phase uint8

const (
	PhaseL1 Phase = iota
	PhaseL2
	PhaseL3
	PhaseCount
)

// Up to 4 M-bus devices hang off a DSMR meter.
const MaxDevices = 4

type TariffValues [TariffCount]float64
type PhaseValues [PhaseCount]float64

type Device struct {
	Type       int     `json:"type"`
	ID         string  `json:"id"`
	Counter    float64 `json:"counter"`
	Unit       string  `json:"unit"`
	Timestamp  int64   `json:"timestamp"`
	ValvePos   int     `json:"valve_position"`
	HasCounter bool    `json:"-"`
}

type MeterReading struct {
	// Unix time of the telegram, 0 if the meter sent none
	Timestamp int64 `json:"timestamp"`

	Header      string `json:"header"`
	EquipmentID string `json:"equipment_id"`
	P1Version   string `json:"p1_version,omitempty"`

	CurrentTariff     int `json:"current_tariff"`
	SwitchElectricity int `json:"switch_electricity"`

	// Energy registers in kWh
	EnergyIn  TariffValues `json:"energy_in_kwh"`
	EnergyOut TariffValues `json:"energy_out_kwh"`

	// Instantaneous power in kW
	PowerIn        float64     `json:"power_in_kw"`
	PowerOut       float64     `json:"power_out_kw"`
	PowerThreshold float64     `json:"power_threshold_kw,omitempty"`
	PowerInPhase   PhaseValues `json:"power_in_phase_kw"`
	PowerOutPhase  PhaseValues `json:"power_out_phase_kw"`
	Voltage        PhaseValues `json:"voltage_v"`
	Current        PhaseValues `json:"current_a"`

	PowerFailures     int             `json:"power_failures"`
	LongPowerFailures int             `json:"long_power_failures"`
	VoltageSags       [PhaseCount]int `json:"voltage_sags"`
	VoltageSwells     [PhaseCount]int `json:"voltage_swells"`

	TextMessage string `json:"text_message,omitempty"`

	DeviceCount int                `json:"device_count"`
	Devices     [MaxDevices]Device `json:"devices"`
}

// FixTotalEnergy fills the total registers from the tariff registers for
// meters that only report per-tariff counters. Only applied when both
// totals are exactly zero.
func (r *MeterReading) FixTotalEnergy() {
	if r.EnergyIn[TariffTotal] != 0 || r.EnergyOut[TariffTotal] != 0 {
		return
	}
	r.EnergyIn[TariffTotal] = r.EnergyIn[TariffOne] + r.EnergyIn[TariffTwo]
	r.EnergyOut[TariffTotal] = r.EnergyOut[TariffOne] + r.EnergyOut[TariffTwo]
}

// Gas returns the first gas meter on the M-bus, if any.
func (r *MeterReading) Gas() (Device, bool) {
	for i := 0; i < r.DeviceCount && i < MaxDevices; i++ {
		if r.Devices[i].Type == DeviceTypeGas {
			return r.Devices[i], true
		}
	}
	return Device{}, false
}

// M-bus device type for gas meters
const DeviceTypeGas = 3
