package broadcast

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func reading(powerIn float64) *types.MeterReading {
	return &types.MeterReading{Timestamp: 1552401900, EquipmentID: "E0043006998670117", PowerIn: powerIn}
}

func TestLatest(t *testing.T) {
	hub := NewHub(quietLog())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	r := reading(0.297)
	hub.Publish(r)
	// later changes to the caller's reading are not visible
	r.PowerIn = 9

	resp, err = http.Get(srv.URL + "/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got types.MeterReading
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 0.297, got.PowerIn)
	assert.Equal(t, "E0043006998670117", got.EquipmentID)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(NewHub(quietLog()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func readReading(t *testing.T, c *websocket.Conn) *types.MeterReading {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	r := types.MeterReadingFromJsonBytes(data)
	require.NotNil(t, r)
	return r
}

func TestWebsocketPush(t *testing.T) {
	hub := NewHub(quietLog())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	hub.Publish(reading(1))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	// the latest reading arrives right after connecting
	assert.Equal(t, 1.0, readReading(t, c).PowerIn)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Publish(reading(2))
	assert.Equal(t, 2.0, readReading(t, c).PowerIn)

	c.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}
