package vs2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/transport"
)

// DefaultChunkSize is the longest block requested in a single read telegram
const DefaultChunkSize = 32

// ErrNotConnected is returned by a Device without an attached session
var ErrNotConnected = errors.New("vs2: device not connected")

// Device is the shared front end of one Optolink connection. Any number of goroutines
// may use it; their requests pass one at a time through the command loop that owns the Session.
type Device struct {
	link     string
	tcfg     transport.Config
	sessOpts []Option
	log      log.FieldLogger

	ChunkSize     int
	CacheDuration time.Duration // 0 disables the read cache

	mem *xsync.MapOf[Address, memCell]

	mu      sync.Mutex // guards the fields below
	sess    *Session
	cmdChan chan request
	quit    chan struct{}
	done    chan struct{}
	closed  bool

	cmdLock sync.Mutex // keeps chunked blocks together
}

type memCell struct {
	data byte
	at   time.Time
}

type request struct {
	ctx context.Context
	fn  func(ctx context.Context, s *Session) Result
	res chan Result
}

// DeviceOption configures a Device
type DeviceOption func(*Device)

// WithSessionOptions passes options to every session the device creates
func WithSessionOptions(opts ...Option) DeviceOption {
	return func(d *Device) { d.sessOpts = append(d.sessOpts, opts...) }
}

// WithTransportConfig selects serial driver and baud rate used by Connect
func WithTransportConfig(cfg transport.Config) DeviceOption {
	return func(d *Device) { d.tcfg = cfg }
}

func WithChunkSize(n int) DeviceOption {
	return func(d *Device) {
		if n > 0 && n <= MaxDataLen {
			d.ChunkSize = n
		}
	}
}

func WithCacheDuration(dur time.Duration) DeviceOption {
	return func(d *Device) { d.CacheDuration = dur }
}

func WithDeviceLogger(l log.FieldLogger) DeviceOption {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDevice is the factory method to create a new Device
func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{
		ChunkSize: DefaultChunkSize,
		log:       log.StandardLogger(),
		mem:       xsync.NewMapOf[Address, memCell](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens the link, performs the handshake and starts the command loop.
// link is a serial device path or socket://host:port.
func (d *Device) Connect(ctx context.Context, link string) error {
	t, err := transport.Open(link, d.tcfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.link = link
	d.mu.Unlock()
	return d.Attach(ctx, t)
}

// Attach does what Connect does on an already opened transport
func (d *Device) Attach(ctx context.Context, t Transport) error {
	opts := append([]Option{WithLogger(d.log)}, d.sessOpts...)
	s, err := NewSession(t, opts...)
	if err != nil {
		t.Close()
		return err
	}
	if err := s.Handshake(ctx); err != nil {
		s.Close()
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		s.Close()
		return ErrClosed
	}
	if d.sess != nil {
		d.stopLocked()
	}
	d.sess = s
	d.cmdChan = make(chan request)
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	d.mem.Clear()
	go d.loop(s, d.cmdChan, d.quit, d.done)
	d.log.Infof("vs2: device connected %s", d.link)
	return nil
}

// loop owns the session; it exits on quit or on the first transport failure
func (d *Device) loop(s *Session, cmds <-chan request, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case req := <-cmds:
			res := req.fn(req.ctx, s)
			req.res <- res
			if errors.Is(res.Err, ErrTransport) {
				d.log.WithError(res.Err).Warn("vs2: exiting command loop")
				return
			}
		}
	}
}

// stopLocked ends the command loop and closes the session, d.mu must be held
func (d *Device) stopLocked() {
	close(d.quit)
	<-d.done
	if err := d.sess.Close(); err != nil {
		d.log.WithError(err).Debug("vs2: close session")
	}
	d.sess = nil
}

// do hands fn to the command loop and waits for its result
func (d *Device) do(ctx context.Context, fn func(ctx context.Context, s *Session) Result) Result {
	d.mu.Lock()
	cmds, done, closed := d.cmdChan, d.done, d.closed
	d.mu.Unlock()
	if closed {
		return Result{Err: ErrClosed}
	}
	if cmds == nil {
		return Result{Err: ErrNotConnected}
	}

	req := request{ctx: ctx, fn: fn, res: make(chan Result, 1)}
	select {
	case cmds <- req:
	case <-done:
		return Result{Err: ErrNotConnected}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	return <-req.res
}

// Handshake re-runs the handshake on the current session, e.g. after repeated timeouts
func (d *Device) Handshake(ctx context.Context) error {
	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()
	return d.do(ctx, func(ctx context.Context, s *Session) Result {
		return Result{Err: s.Handshake(ctx)}
	}).Err
}

// State of the current session, StateUninitialized when not connected
// or once the command loop has exited on a transport failure
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return StateUninitialized
	}
	select {
	case <-d.done:
		return StateUninitialized
	default:
	}
	return d.sess.State()
}

// Stats of the current session
func (d *Device) Stats() StatsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return StatsSnapshot{}
	}
	return d.sess.Stats().Snapshot()
}

// Done is closed when the command loop of the current connection exits
func (d *Device) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return d.done
}

// Reconnect closes the current session and connects to the same link again
func (d *Device) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	link := d.link
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.sess != nil {
		d.stopLocked()
	}
	d.mu.Unlock()
	if link == "" {
		return fmt.Errorf("%w: no link to reconnect to", ErrNotConnected)
	}
	return d.Connect(ctx, link)
}

// Close stops the command loop and closes the session, sending EOT
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.sess != nil {
		d.stopLocked()
	}
	return nil
}
