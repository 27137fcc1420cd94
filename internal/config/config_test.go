package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.HTTP.Bind)
	assert.Equal(t, 80, c.HTTP.Port)
	assert.Equal(t, "/", c.UI.DefaultAsset)
	assert.Equal(t, "/cp", c.Captive.Page)
	assert.Equal(t, 4096, c.WebSocket.MaxMessageSize)
	assert.Equal(t, time.Second, c.Devices.PollInterval)
	assert.Equal(t, 3, c.Devices.InitAttempts)
	assert.Equal(t, 5, c.Devices.MaxPollFailures)
	assert.Equal(t, "sdcard", c.Devices.SDCard.Name)
	assert.Equal(t, "info", c.Logging.Level)
}

func TestLoadYAML(t *testing.T) {
	doc := `
http:
  port: 8080
websocket:
  ping_interval: 10s
captive:
  enabled: true
  ap_address: 192.168.4.1
devices:
  poll_interval: 250ms
  sdcard:
    enabled: true
    pin: 13
    active_low: true
    source: /dev/mmcblk1p1
  sensors:
    - name: boiler
      iio_device: 1
      channel: 3
logging:
  level: debug
  json: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, 10*time.Second, c.WebSocket.PingInterval)
	assert.True(t, c.Captive.Enabled)
	assert.Equal(t, "192.168.4.1", c.Captive.APAddress)
	assert.Equal(t, 250*time.Millisecond, c.Devices.PollInterval)
	assert.Equal(t, 13, c.Devices.SDCard.Pin)
	assert.True(t, c.Devices.SDCard.ActiveLow)
	require.Len(t, c.Devices.Sensors, 1)
	assert.Equal(t, 5, c.Devices.Sensors[0].Samples)
	assert.Equal(t, 1.0, c.Devices.Sensors[0].Scale)
	assert.Equal(t, 1, c.Devices.Sensors[0].IIODevice)
	assert.True(t, c.Logging.JSON)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
