package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, Default(), c)
			assert.Equal(t, 12*time.Second, c.ReconnectDelay())
		}, ""},

		{"full", `
link = "socket://192.168.1.20:3002"
transport {
	driver = "tarm"
	baud = 4800
}
protocol {
	handshake_interval_ms = 50
	handshake_attempts = 10
	poll_interval_ms = 20
	poll_attempts = 150
	drain_on_nack = true
}
device {
	chunk_size = 16
	cache_ms = 3000
}
http {
	listen = "127.0.0.1:8080"
}
log {
	level = "debug"
	format = "json"
}
`, func(t testing.TB, c *Config) {
			assert.Equal(t, "socket://192.168.1.20:3002", c.Link)
			assert.Equal(t, "tarm", c.Transport.Driver)
			assert.Equal(t, 50, c.Protocol.HandshakeIntervalMs)
			assert.Equal(t, 150, c.Protocol.PollAttempts)
			assert.True(t, c.Protocol.DrainOnNack)
			assert.Equal(t, 16, c.Device.ChunkSize)
			assert.Equal(t, 3000, c.Device.CacheMs)
			// untouched keys keep their default
			assert.Equal(t, 12000, c.Device.ReconnectDelayMs)
			assert.Equal(t, "127.0.0.1:8080", c.HTTP.Listen)
			assert.Equal(t, FormatJSON, c.Log.Format)
			assert.Len(t, c.SessionOptions(), 3)
			assert.Len(t, c.DeviceOptions(), 4)
		}, ""},

		{"partial", `protocol {
	poll_attempts = 30
}`, func(t testing.TB, c *Config) {
			assert.Equal(t, 30, c.Protocol.PollAttempts)
			assert.Equal(t, 10, c.Protocol.PollIntervalMs)
			assert.Equal(t, 100, c.Protocol.HandshakeIntervalMs)
		}, ""},

		{"syntax", `link`, nil, "config unmarshal"},
		{"syntax-block", `transport { driver = `, nil, "config unmarshal"},
		{"empty-value", `link = `, nil, "empty value for link not valid"},
		{"empty-nested", `transport {
	driver = # later
}`, nil, "empty value for driver not valid"},
		{"driver", `transport {
	driver = "usb"
}`, nil, `transport.driver="usb" not valid`},
		{"interval", `protocol {
	poll_interval_ms = 0
}`, nil, "protocol.poll_interval_ms=0 not valid"},
		{"attempts", `protocol {
	handshake_attempts = 100000
}`, nil, "protocol.handshake_attempts=100000 not valid"},
		{"chunk", `device {
	chunk_size = 0
}`, nil, "device.chunk_size=0 not valid"},
		{"level", `log {
	level = "loud"
}`, nil, `log.level="loud" not valid`},
		{"format", `log {
	format = "xml"
}`, nil, `log.format="xml" not valid`},
		{"link", `link = "mqtt://broker"`, nil, "not valid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Parse([]byte(c.input))
			if c.expectErr == "" {
				require.NoError(t, err, errors.ErrorStack(err))
				c.check(t, cfg)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vs2d.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`link = "/dev/ttyS1"`), 0o600))

	c, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", c.Link)

	_, err = Read(filepath.Join(dir, "missing.hcl"))
	require.True(t, errors.IsNotFound(err))
}

func TestApplyLog(t *testing.T) {
	t.Parallel()

	c := Default()
	l := log.New()
	require.NoError(t, c.ApplyLog(l, true))
	assert.Equal(t, log.InfoLevel, l.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, l.Formatter)

	require.NoError(t, c.ApplyLog(l, false))
	assert.IsType(t, &log.JSONFormatter{}, l.Formatter)

	c.Log.Level = "debug"
	c.Log.Format = FormatText
	require.NoError(t, c.ApplyLog(l, false))
	assert.Equal(t, log.DebugLevel, l.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, l.Formatter)

	c.Log.Level = "loud"
	assert.True(t, errors.IsNotValid(c.ApplyLog(l, false)))
}
