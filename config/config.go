// Package config reads the HCL configuration of vs2d and vs2cli.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/transport"
	"github.com/speters/vs2d/vs2"
)

// Log formats
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Link      string          `hcl:"link"`
	Transport TransportConfig `hcl:"transport"`
	Protocol  ProtocolConfig  `hcl:"protocol"`
	Device    DeviceConfig    `hcl:"device"`
	HTTP      struct {
		Listen string `hcl:"listen"`
	} `hcl:"http"`
	Log struct {
		Level  string `hcl:"level"`
		Format string `hcl:"format"`
	} `hcl:"log"`
}

type TransportConfig struct {
	Driver string `hcl:"driver"`
	Baud   int    `hcl:"baud"`
}

type ProtocolConfig struct {
	HandshakeIntervalMs int  `hcl:"handshake_interval_ms"`
	HandshakeAttempts   int  `hcl:"handshake_attempts"`
	PollIntervalMs      int  `hcl:"poll_interval_ms"`
	PollAttempts        int  `hcl:"poll_attempts"`
	DrainOnNack         bool `hcl:"drain_on_nack"`
}

type DeviceConfig struct {
	ChunkSize        int `hcl:"chunk_size"`
	CacheMs          int `hcl:"cache_ms"`
	ReconnectDelayMs int `hcl:"reconnect_delay_ms"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	c := &Config{Link: "/dev/ttyUSB0"}
	c.Transport = TransportConfig{Driver: transport.DriverBugst, Baud: transport.DefaultBaud}
	c.Protocol = ProtocolConfig{
		HandshakeIntervalMs: int(vs2.DefaultHandshakeInterval / time.Millisecond),
		HandshakeAttempts:   vs2.DefaultHandshakeAttempts,
		PollIntervalMs:      int(vs2.DefaultPollInterval / time.Millisecond),
		PollAttempts:        vs2.DefaultPollAttempts,
	}
	c.Device = DeviceConfig{ChunkSize: vs2.DefaultChunkSize, ReconnectDelayMs: 12000}
	c.HTTP.Listen = ":8000"
	c.Log.Level = "info"
	c.Log.Format = FormatAuto
	return c
}

// hcl drops a trailing "key =" silently, which would leave the default in place
var emptyAssign = regexp.MustCompile(`(?m)^[ \t]*([\w.-]+)[ \t]*=[ \t]*(#.*|//.*)?$`)

// Parse reads HCL on top of the defaults and validates the result
func Parse(b []byte) (*Config, error) {
	if m := emptyAssign.FindSubmatch(b); m != nil {
		return nil, errors.NotValidf("empty value for %s", m[1])
	}
	c := Default()
	if err := hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotatef(err, "config unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Read parses the file at path
func Read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("config file %s", path)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "config read %s", path)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, errors.Annotatef(err, "config %s", path)
	}
	return c, nil
}

func checkTiming(name string, ms, attempts int) error {
	d := time.Duration(ms) * time.Millisecond
	if d < vs2.MinInterval || d > vs2.MaxInterval {
		return errors.NotValidf("protocol.%s_interval_ms=%d", name, ms)
	}
	if attempts < vs2.MinAttempts || attempts > vs2.MaxAttempts {
		return errors.NotValidf("protocol.%s_attempts=%d", name, attempts)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Link == "" {
		return errors.NotValidf("empty link")
	}
	if _, err := transport.ParseLink(c.Link); err != nil {
		return errors.Trace(err)
	}
	switch c.Transport.Driver {
	case transport.DriverBugst, transport.DriverTarm:
	default:
		return errors.NotValidf("transport.driver=%q", c.Transport.Driver)
	}
	if c.Transport.Baud <= 0 {
		return errors.NotValidf("transport.baud=%d", c.Transport.Baud)
	}
	if err := checkTiming("handshake", c.Protocol.HandshakeIntervalMs, c.Protocol.HandshakeAttempts); err != nil {
		return err
	}
	if err := checkTiming("poll", c.Protocol.PollIntervalMs, c.Protocol.PollAttempts); err != nil {
		return err
	}
	if c.Device.ChunkSize < 1 || c.Device.ChunkSize > vs2.MaxDataLen {
		return errors.NotValidf("device.chunk_size=%d", c.Device.ChunkSize)
	}
	if c.Device.CacheMs < 0 {
		return errors.NotValidf("device.cache_ms=%d", c.Device.CacheMs)
	}
	if c.Device.ReconnectDelayMs < 0 {
		return errors.NotValidf("device.reconnect_delay_ms=%d", c.Device.ReconnectDelayMs)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NotValidf("log.level=%q", c.Log.Level)
	}
	switch c.Log.Format {
	case FormatAuto, FormatText, FormatJSON:
	default:
		return errors.NotValidf("log.format=%q", c.Log.Format)
	}
	return nil
}

// SessionOptions translates the protocol section
func (c *Config) SessionOptions() []vs2.Option {
	p := c.Protocol
	return []vs2.Option{
		vs2.WithHandshakeTiming(time.Duration(p.HandshakeIntervalMs)*time.Millisecond, p.HandshakeAttempts),
		vs2.WithExchangeTiming(time.Duration(p.PollIntervalMs)*time.Millisecond, p.PollAttempts),
		vs2.WithDrainOnNack(p.DrainOnNack),
	}
}

// DeviceOptions translates the transport, protocol and device sections
func (c *Config) DeviceOptions() []vs2.DeviceOption {
	return []vs2.DeviceOption{
		vs2.WithTransportConfig(transport.Config{Driver: c.Transport.Driver, Baud: c.Transport.Baud}),
		vs2.WithSessionOptions(c.SessionOptions()...),
		vs2.WithChunkSize(c.Device.ChunkSize),
		vs2.WithCacheDuration(time.Duration(c.Device.CacheMs) * time.Millisecond),
	}
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Device.ReconnectDelayMs) * time.Millisecond
}

// ApplyLog sets level and formatter of l. The auto format picks text on a
// terminal and JSON otherwise, e.g. under systemd.
func (c *Config) ApplyLog(l *log.Logger, terminal bool) error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return errors.NotValidf("log.level=%q", c.Log.Level)
	}
	l.SetLevel(level)
	format := c.Log.Format
	if format == FormatAuto {
		format = FormatJSON
		if terminal {
			format = FormatText
		}
	}
	if format == FormatJSON {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
