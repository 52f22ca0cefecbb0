// Package transport opens the byte channel to an Optolink adapter: a local serial
// device or a ser2net style TCP socket.
package transport

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Serial drivers
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// DefaultBaud is the fixed line speed of the optical head, 4800 8E2
const DefaultBaud = 4800

const tcpKeepAlive = 30 * time.Second

// Port is a non-blocking byte channel. ReadAvailable returns immediately with
// whatever arrived since the last call.
type Port interface {
	Write(b []byte) (int, error)
	ReadAvailable() ([]byte, error)
	ClearInput() error
	Close() error
}

// Config selects the serial driver; it is ignored for network links
type Config struct {
	Driver string
	Baud   int
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverBugst
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	return c
}

// Link is a parsed connection string
type Link struct {
	Network bool
	Address string // device path or host:port
}

// ParseLink accepts "/dev/ttyUSB0", "file:///dev/ttyUSB0", "socket://host:port" and "tcp://host:port"
func ParseLink(link string) (Link, error) {
	if strings.TrimSpace(link) == "" {
		return Link{}, errors.NotValidf("empty link")
	}
	u, err := url.Parse(link)
	if err != nil {
		return Link{}, errors.Annotatef(err, "transport: link %q", link)
	}
	switch u.Scheme {
	case "socket", "tcp":
		if u.Host == "" {
			return Link{}, errors.NotValidf("link %q without host", link)
		}
		return Link{Network: true, Address: u.Host}, nil
	case "file", "":
		if u.Path == "" {
			return Link{}, errors.NotValidf("link %q without device path", link)
		}
		return Link{Address: u.Path}, nil
	}
	return Link{}, errors.NotValidf("link %q, scheme %q", link, u.Scheme)
}

// Open connects to the Optolink adapter named by link
func Open(link string, cfg Config) (Port, error) {
	l, err := ParseLink(link)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if l.Network {
		return dialTCP(l.Address)
	}
	switch cfg.Driver {
	case DriverBugst:
		return openBugst(l.Address, cfg.Baud)
	case DriverTarm:
		return openTarm(l.Address, cfg.Baud)
	}
	return nil, errors.NotSupportedf("serial driver %q", cfg.Driver)
}

func dialTCP(addr string) (Port, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, errors.Annotatef(err, "transport: dial %s", addr)
	}
	if tc, ok := conn.(keepAliver); ok {
		setKeepAlive(addr, tc)
	}
	log.Debugf("transport: connected to %s", addr)
	return newPump("tcp://"+addr, conn, nil), nil
}

type keepAliver interface {
	SetKeepAlive(keepalive bool) error
	SetKeepAlivePeriod(d time.Duration) error
}

// setKeepAlive lets ser2net links survive idle periods; failing is not fatal
func setKeepAlive(addr string, c keepAliver) {
	if err := c.SetKeepAlive(true); err != nil {
		log.Debugf("transport: %s keepalive: %v", addr, err)
		return
	}
	if err := c.SetKeepAlivePeriod(tcpKeepAlive); err != nil {
		log.Debugf("transport: %s keepalive period: %v", addr, err)
	}
}
