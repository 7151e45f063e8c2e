// Packmsg publishes readings as a stream of PMSG records: a header that
// names the dataset, its devices and variables, followed by one DVALS
// record per device per reading. Every record is a CBOR array.
package packmsg

import (
	"bytes"
	"fmt"
	"math"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/fxamacker/cbor/v2"
)

const (
	DatasetName = "DSMR_P1"

	deviceElectricity uint8 = 1
	deviceGas         uint8 = 2
)

type variable struct {
	name string
	unit string
}

var (
	electricityVars = []variable{{"E_in", "Wh"}, {"E_out", "Wh"}, {"P_L1", "W"}}
	gasVars         = []variable{{"gas_in", "m^3"}}
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("packmsg: cbor options: %v", err))
	}
	return em
}()

type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) record(items ...any) {
	if e.err != nil {
		return
	}
	data, err := encMode.Marshal(items)
	if err != nil {
		e.err = err
		return
	}
	e.buf.Write(data)
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, fmt.Errorf("encode pmsg: %w", e.err)
	}
	return e.buf.Bytes(), nil
}

// Header describes the electricity meter and the first gas meter.
func Header(r *types.MeterReading) ([]byte, error) {
	gasID := ""
	if dev, ok := r.Gas(); ok {
		gasID = dev.ID
	}

	e := &encoder{}
	e.record("PMSG")
	e.record("SET", DatasetName)
	e.record("DEVS", map[uint8]map[string]string{
		deviceElectricity: {"id": r.EquipmentID},
		deviceGas:         {"id": gasID},
	})
	for _, v := range append(electricityVars, gasVars...) {
		e.record("VAR", v.name, map[string]string{"unit": v.unit})
	}
	e.record("DVARS", deviceElectricity, names(electricityVars))
	e.record("DVARS", deviceGas, names(gasVars))
	return e.bytes()
}

func names(vars []variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.name
	}
	return out
}

// Values encodes one reading. The gas record is only written when the
// counter differs from *lastGas, which is updated.
func Values(r *types.MeterReading, lastGas *float64) ([]byte, error) {
	eIn := math.Round((r.EnergyIn[types.TariffOne] + r.EnergyIn[types.TariffTwo]) * 1000)
	eOut := math.Round((r.EnergyOut[types.TariffOne] + r.EnergyOut[types.TariffTwo]) * 1000)
	pL1 := math.Round((r.PowerInPhase[types.PhaseL1] - r.PowerOutPhase[types.PhaseL1]) * 1000)

	e := &encoder{}
	e.record("DVALS", deviceElectricity, uint32(r.Timestamp), []any{uint32(eIn), uint32(eOut), int16(pL1)})

	if dev, ok := r.Gas(); ok && dev.HasCounter && dev.Counter != *lastGas {
		e.record("DVALS", deviceGas, uint32(dev.Timestamp), []any{float32(dev.Counter)})
		*lastGas = dev.Counter
	}
	return e.bytes()
}
