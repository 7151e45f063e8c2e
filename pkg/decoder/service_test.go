package decoder

import (
	"io"
	"testing"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const dsmr5 = "/ISK5\\2M550E-1012\r\n" +
	"\r\n" +
	"1-3:0.2.8(50)\r\n" +
	"0-0:1.0.0(190312154500W)\r\n" +
	"0-0:96.1.1(4530303433303036393938363730313137)\r\n" +
	"1-0:1.8.1(002815.672*kWh)\r\n" +
	"1-0:1.8.2(002468.113*kWh)\r\n" +
	"1-0:2.8.1(000000.000*kWh)\r\n" +
	"1-0:2.8.2(000011.012*kWh)\r\n" +
	"0-0:96.14.0(0002)\r\n" +
	"1-0:1.7.0(00.297*kW)\r\n" +
	"1-0:2.7.0(00.000*kW)\r\n" +
	"0-0:96.7.21(00012)\r\n" +
	"0-0:96.7.9(00004)\r\n" +
	"1-0:99.97.0(2)(0-0:96.7.19)(180101000001W)(2147483647*s)(180101000001W)(0000000240*s)\r\n" +
	"1-0:32.32.0(00003)\r\n" +
	"1-0:32.36.0(00001)\r\n" +
	"0-0:96.13.0()\r\n" +
	"1-0:32.7.0(230.1*V)\r\n" +
	"1-0:52.7.0(229.8*V)\r\n" +
	"1-0:72.7.0(231.0*V)\r\n" +
	"1-0:31.7.0(001*A)\r\n" +
	"1-0:21.7.0(00.297*kW)\r\n" +
	"1-0:22.7.0(00.000*kW)\r\n" +
	"0-1:24.1.0(003)\r\n" +
	"0-1:96.1.0(4730303339303031373030343630313137)\r\n" +
	"0-1:24.2.1(190312154007W)(01234.567*m3)\r\n" +
	"!E6E1\r\n"

func decode(t *testing.T, telegram string) *OBIS {
	t.Helper()
	d := NewOBIS(quietLog())
	d.Init()
	d.Feed([]byte(telegram), true)
	return d
}

func TestDecodeDSMR5(t *testing.T) {
	d := decode(t, dsmr5)
	require.Equal(t, StatusComplete, d.Finish())
	assert.Zero(t, d.ParseErrors())

	crc, ok := d.CRC()
	assert.True(t, ok)
	assert.Equal(t, uint16(0xE6E1), crc)

	r := d.Reading()
	assert.Equal(t, "/ISK5\\2M550E-1012", r.Header)
	assert.Equal(t, "50", r.P1Version)
	assert.Equal(t, "E0043006998670117", r.EquipmentID)
	assert.Equal(t, time.Date(2019, 3, 12, 14, 45, 0, 0, time.UTC).Unix(), r.Timestamp)
	assert.Equal(t, 2, r.CurrentTariff)

	assert.InDelta(t, 2815.672, r.EnergyIn[types.TariffOne], 1e-9)
	assert.InDelta(t, 2468.113, r.EnergyIn[types.TariffTwo], 1e-9)
	assert.InDelta(t, 11.012, r.EnergyOut[types.TariffTwo], 1e-9)
	// no totals in the telegram, derived from the tariffs
	assert.InDelta(t, 5283.785, r.EnergyIn[types.TariffTotal], 1e-9)
	assert.InDelta(t, 11.012, r.EnergyOut[types.TariffTotal], 1e-9)

	assert.InDelta(t, 0.297, r.PowerIn, 1e-9)
	assert.InDelta(t, 0.297, r.PowerInPhase[types.PhaseL1], 1e-9)
	assert.InDelta(t, 229.8, r.Voltage[types.PhaseL2], 1e-9)
	assert.InDelta(t, 1, r.Current[types.PhaseL1], 1e-9)
	assert.Equal(t, 12, r.PowerFailures)
	assert.Equal(t, 4, r.LongPowerFailures)
	assert.Equal(t, 3, r.VoltageSags[types.PhaseL1])
	assert.Equal(t, 1, r.VoltageSwells[types.PhaseL1])

	gas, ok := r.Gas()
	require.True(t, ok)
	assert.Equal(t, 1, r.DeviceCount)
	assert.Equal(t, "G0039001700460117", gas.ID)
	assert.InDelta(t, 1234.567, gas.Counter, 1e-9)
	assert.Equal(t, "m3", gas.Unit)
	assert.Equal(t, time.Date(2019, 3, 12, 14, 40, 7, 0, time.UTC).Unix(), gas.Timestamp)
}

func TestDecodeOldStyleGas(t *testing.T) {
	telegram := "/KFM5KAIFA-METER\r\n" +
		"\r\n" +
		"0-0:1.0.0(170708120000S)\r\n" +
		"1-0:1.8.0(000100.000*kWh)\r\n" +
		"1-0:1.8.1(000040.000*kWh)\r\n" +
		"1-0:1.8.2(000060.000*kWh)\r\n" +
		"1-0:1.7.0(0000450*W)\r\n" +
		"0-1:24.3.0(170708110000)(00)(60)(1)(0-1:24.2.1)(m3)\r\n" +
		"(00812.345)\r\n" +
		"!\r\n"

	d := decode(t, telegram)
	require.Equal(t, StatusComplete, d.Finish())
	assert.Zero(t, d.ParseErrors())

	_, ok := d.CRC()
	assert.False(t, ok)

	r := d.Reading()
	assert.Equal(t, time.Date(2017, 7, 8, 10, 0, 0, 0, time.UTC).Unix(), r.Timestamp)
	// total reported by the meter is kept
	assert.InDelta(t, 100.0, r.EnergyIn[types.TariffTotal], 1e-9)
	assert.InDelta(t, 0.45, r.PowerIn, 1e-9)

	gas, ok := r.Gas()
	require.True(t, ok)
	assert.InDelta(t, 812.345, gas.Counter, 1e-9)
	assert.Equal(t, "m3", gas.Unit)
}

func TestDecodeD0Block(t *testing.T) {
	block := "F.F(00)\r\n" +
		"0.0.0(12345678)\r\n" +
		"1.8.0(004567.8*kWh)\r\n" +
		"2.8.0(000012.3*kWh)\r\n" +
		"!\r\n"

	d := decode(t, block)
	require.Equal(t, StatusComplete, d.Finish())
	assert.Zero(t, d.ParseErrors())
	assert.Empty(t, d.Reading().Header)
	assert.InDelta(t, 4567.8, d.Reading().EnergyIn[types.TariffTotal], 1e-9)
	assert.InDelta(t, 12.3, d.Reading().EnergyOut[types.TariffTotal], 1e-9)
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name     string
		telegram string
		status   Status
		errors   int
	}{
		{"no end marker", "/ISK5\r\n\r\n1-0:1.8.1(000001.000*kWh)\r\n", StatusIncomplete, 0},
		{"garbage", "hello world\r\n", StatusError, 1},
		{"empty", "", StatusError, 0},
		{"bad value", "/ISK5\r\n\r\n1-0:1.8.1(abc*kWh)\r\n!\r\n", StatusComplete, 1},
		{"bad line", "/ISK5\r\n\r\nnot obis\r\n!\r\n", StatusComplete, 1},
		{"bad end", "/ISK5\r\n\r\n!ZZ\r\n", StatusComplete, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decode(t, tt.telegram)
			assert.Equal(t, tt.status, d.Finish())
			assert.Equal(t, tt.errors, d.ParseErrors())
		})
	}
}

func TestDecodeChunked(t *testing.T) {
	d := NewOBIS(quietLog())
	d.Init()
	d.Feed([]byte(dsmr5[:100]), false)
	d.Feed([]byte(dsmr5[100:]), false)
	assert.Equal(t, StatusComplete, d.Finish())
	assert.Equal(t, "/ISK5\\2M550E-1012", d.Reading().Header)

	// Init forgets the previous telegram
	d.Init()
	assert.Equal(t, StatusError, d.Finish())
	assert.Empty(t, d.Reading().Header)
}

func TestFixTotalEnergy(t *testing.T) {
	r := types.MeterReading{}
	r.EnergyIn[types.TariffOne] = 1
	r.EnergyIn[types.TariffTwo] = 2
	r.EnergyOut[types.TariffTotal] = 5
	r.FixTotalEnergy()
	assert.Zero(t, r.EnergyIn[types.TariffTotal])

	r.EnergyOut[types.TariffTotal] = 0
	r.FixTotalEnergy()
	assert.Equal(t, 3.0, r.EnergyIn[types.TariffTotal])
}
