package telegram

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/NotCoffee418/meter_telegram/pkg/checksum"
	"github.com/NotCoffee418/meter_telegram/pkg/d0"
	"github.com/NotCoffee418/meter_telegram/pkg/decoder"
	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
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

const oldStyle = "/KFM5KAIFA-METER\r\n" +
	"\r\n" +
	"1-0:1.8.1(000040.000*kWh)\r\n" +
	"1-0:1.8.2(000060.000*kWh)\r\n" +
	"!\r\n"

const newStyleBody = "/ISK5\\2M550E-1012\r\n" +
	"\r\n" +
	"0-0:1.0.0(190312154500W)\r\n" +
	"1-0:1.8.1(002815.672*kWh)\r\n" +
	"1-0:1.7.0(00.297*kW)\r\n" +
	"!"

func newStyle(body string) string {
	return body + fmt.Sprintf("%04X\r\n", checksum.CRC16([]byte(body)))
}

func captureFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openCapture(t *testing.T, content string, cfg Config) *Session {
	t.Helper()
	cfg.Path = captureFile(t, content)
	s, err := Open(cfg, decoder.NewOBIS(quietLog()), quietLog())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadCaptureFile(t *testing.T) {
	telegram := newStyle(newStyleBody)
	s := openCapture(t, "noise"+oldStyle+telegram, Config{})
	assert.False(t, s.IsTerminal())

	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, decoder.StatusComplete, res.Status)
	assert.Equal(t, len(oldStyle), res.Length)
	assert.Equal(t, uint16(0), res.CRC)
	assert.Equal(t, oldStyle, string(s.Telegram()))
	assert.InDelta(t, 100.0, res.Reading.EnergyIn[types.TariffTotal], 1e-9)

	res, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, len(telegram), res.Length)
	assert.Equal(t, checksum.CRC16([]byte(newStyleBody)), res.CRC)
	assert.InDelta(t, 0.297, res.Reading.PowerIn, 1e-9)
	assert.Equal(t, StateIdle, s.State())

	res, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoFrameFound, res.Outcome)
	assert.Zero(t, res.Length)
	assert.Empty(t, s.Telegram())
}

func TestReadCRCMismatch(t *testing.T) {
	telegram := []byte(newStyle(newStyleBody))
	// 2815 -> 2814
	i := bytes.Index(telegram, []byte("2815"))
	telegram[i+3] = '4'

	s := openCapture(t, string(telegram), Config{})
	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeCRCMismatch, res.Outcome)
	// still decoded, the caller decides what to trust
	assert.Equal(t, decoder.StatusComplete, res.Status)
	assert.InDelta(t, 2814.672, res.Reading.EnergyIn[types.TariffOne], 1e-9)
}

func TestReadBufferOverflow(t *testing.T) {
	s := openCapture(t, oldStyle, Config{BufferSize: 16})
	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeBufferOverflow, res.Outcome)
}

func TestReadDumpsParseErrors(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.txt")
	bad := "/ISK5\r\n\r\nthis is not obis\r\n!\r\n"

	s := openCapture(t, bad+oldStyle+bad, Config{DumpFile: dump})
	for range 3 {
		_, err := s.Read()
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, bad+bad, string(data))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "missing")}, decoder.NewOBIS(nil), quietLog())
	assert.ErrorIs(t, err, esmerrors.ErrIO)

	path := captureFile(t, oldStyle)
	_, err = Open(Config{Path: path, DumpFile: t.TempDir()}, decoder.NewOBIS(nil), quietLog())
	assert.ErrorIs(t, err, esmerrors.ErrIO)

	_, err = Open(Config{Path: path, Mode: "modbus"}, decoder.NewOBIS(nil), quietLog())
	assert.ErrorIs(t, err, esmerrors.ErrProtocolUnsupported)
}

func TestReadAfterClose(t *testing.T) {
	s := openCapture(t, oldStyle, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	res, err := s.Read()
	assert.ErrorIs(t, err, esmerrors.ErrNotOpen)
	assert.Equal(t, OutcomeIOError, res.Outcome)
}

// fakeLink is a terminal that answers writes with canned bytes.
type fakeLink struct {
	replies  map[string][]byte
	pending  bytes.Buffer
	baud     int
	bauds    []int
	terminal bool
	closed   bool
	flushes  int
	// Read returns this byte forever when set
	noise byte
}

func (l *fakeLink) Read(p []byte) (int, error) {
	if l.noise != 0 {
		for i := range p {
			p[i] = l.noise
		}
		return len(p), nil
	}
	if l.pending.Len() == 0 {
		return 0, nil
	}
	return l.pending.Read(p)
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if reply, ok := l.replies[string(p)]; ok {
		l.pending.Write(reply)
	}
	return len(p), nil
}

func (l *fakeLink) SetBaud(rate int) error {
	l.baud = rate
	l.bauds = append(l.bauds, rate)
	return nil
}

func (l *fakeLink) FlushInput() error { l.pending.Reset(); l.flushes++; return nil }
func (l *fakeLink) Drain() error      { return nil }
func (l *fakeLink) Baud() int         { return l.baud }
func (l *fakeLink) IsTerminal() bool  { return l.terminal }
func (l *fakeLink) Close() error      { l.closed = true; return nil }

func newFakeSession(t *testing.T, cfg Config, l *fakeLink) *Session {
	t.Helper()
	s, err := newSession(withDefaults(cfg), l, decoder.NewOBIS(quietLog()), quietLog())
	require.NoError(t, err)
	if s.engine != nil {
		s.engine = d0.NewEngine(l, d0.Options{AckDelay: 1}, quietLog())
	}
	return s
}

func TestBaudFallback(t *testing.T) {
	l := &fakeLink{terminal: true, baud: 115200}
	s := newFakeSession(t, Config{}, l)

	for range 3 {
		res, err := s.Read()
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoFrameFound, res.Outcome)
	}
	assert.Equal(t, []int{9600, 115200, 9600}, l.bauds)

	flushes := l.flushes
	require.NoError(t, s.Close())
	assert.True(t, l.closed)
	assert.Equal(t, flushes+1, l.flushes)
}

func TestBaudFallbackOnEndlessNoise(t *testing.T) {
	l := &fakeLink{terminal: true, baud: 115200, noise: 0x55}
	s := newFakeSession(t, Config{}, l)

	for range 2 {
		res, err := s.Read()
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoFrameFound, res.Outcome)
	}
	assert.Equal(t, []int{9600, 115200}, l.bauds)
}

func TestNegativeFailBudgetIsUnlimited(t *testing.T) {
	assert.Equal(t, DefaultBufferSize, withDefaults(Config{}).MaxFailBytes)
	assert.Equal(t, 64, withDefaults(Config{BufferSize: 64}).MaxFailBytes)
	assert.Zero(t, withDefaults(Config{MaxFailBytes: -1}).MaxFailBytes)
	assert.Equal(t, 10, withDefaults(Config{MaxFailBytes: 10}).MaxFailBytes)
}

const d0Block = "1.8.0(004567.8*kWh)\r\n2.8.0(000012.3*kWh)\r\n!\r\n"

func d0Reply(corrupt bool) []byte {
	framed := append([]byte{checksum.STX}, d0Block...)
	framed = append(framed, checksum.ETX)
	bcc, _ := checksum.BlockCheck(framed)
	if corrupt {
		bcc ^= 0xFF
	}
	return append(framed, bcc)
}

func d0Meter(reply []byte) *fakeLink {
	return &fakeLink{
		terminal: true,
		baud:     300,
		replies: map[string][]byte{
			"/?!\r\n":    []byte("/LGZ5ZMD3104107\r\n"),
			"\x06050\r\n": reply,
		},
	}
}

func TestReadD0(t *testing.T) {
	l := d0Meter(d0Reply(false))
	s := newFakeSession(t, Config{Mode: ModeD0}, l)

	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, d0.ModeC, res.Handshake.Mode)
	assert.Equal(t, 9600, res.Handshake.Baud)
	assert.Equal(t, d0Block, string(s.Telegram()))
	assert.Equal(t, decoder.StatusComplete, res.Status)
	assert.InDelta(t, 4567.8, res.Reading.EnergyIn[types.TariffTotal], 1e-9)
	assert.Equal(t, []int{300, 9600}, l.bauds)
}

func TestReadD0CaptureFileUntouched(t *testing.T) {
	capture := append([]byte("/LGZ5ZMD3104107\r\n"), d0Reply(false)...)
	path := captureFile(t, string(capture))

	s, err := Open(Config{Path: path, Mode: ModeD0}, decoder.NewOBIS(quietLog()), quietLog())
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, d0Block, string(s.Telegram()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, capture, data)
}

func TestReadD0BlockCheckFailed(t *testing.T) {
	l := d0Meter(d0Reply(true))
	s := newFakeSession(t, Config{Mode: ModeD0}, l)

	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeLRCMismatch, res.Outcome)
	assert.Equal(t, decoder.StatusComplete, res.Status)
	assert.InDelta(t, 12.3, res.Reading.EnergyOut[types.TariffTotal], 1e-9)
}

func TestReadD0NoAnswer(t *testing.T) {
	l := &fakeLink{terminal: true, baud: 300}
	s := newFakeSession(t, Config{Mode: ModeD0}, l)

	res, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoFrameFound, res.Outcome)
	assert.Equal(t, StateIdle, s.State())
}

func TestReadD0Unsupported(t *testing.T) {
	l := &fakeLink{
		terminal: true,
		replies:  map[string][]byte{"/?!\r\n": []byte("/ISK5\\2MT382\r\n")},
	}
	s := newFakeSession(t, Config{Mode: ModeD0}, l)

	res, err := s.Read()
	assert.ErrorIs(t, err, esmerrors.ErrProtocolUnsupported)
	assert.Equal(t, OutcomeIOError, res.Outcome)
	assert.Equal(t, StateFailed, s.State())

	_, err = s.Read()
	assert.ErrorIs(t, err, esmerrors.ErrNotOpen)
}
