package vs2

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Transport is the byte channel to the controller.
// ReadAvailable must not block: it returns whatever is buffered, possibly nothing.
type Transport interface {
	Write(b []byte) (int, error)
	ReadAvailable() ([]byte, error)
	ClearInput() error
	Close() error
}

// SessionStats counts exchanges by outcome.
type SessionStats struct {
	Handshakes      atomic.Uint64
	HandshakeFails  atomic.Uint64
	Exchanges       atomic.Uint64
	Timeouts        atomic.Uint64
	Nacks           atomic.Uint64
	FramingErrors   atomic.Uint64
	ChecksumErrors  atomic.Uint64
	RemoteErrors    atomic.Uint64
	TransportErrors atomic.Uint64
}

// StatsSnapshot is a copy of SessionStats at one point in time
type StatsSnapshot struct {
	Handshakes      uint64 `json:"handshakes"`
	HandshakeFails  uint64 `json:"handshake_fails"`
	Exchanges       uint64 `json:"exchanges"`
	Timeouts        uint64 `json:"timeouts"`
	Nacks           uint64 `json:"nacks"`
	FramingErrors   uint64 `json:"framing_errors"`
	ChecksumErrors  uint64 `json:"checksum_errors"`
	RemoteErrors    uint64 `json:"remote_errors"`
	TransportErrors uint64 `json:"transport_errors"`
}

func (st *SessionStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Handshakes:      st.Handshakes.Load(),
		HandshakeFails:  st.HandshakeFails.Load(),
		Exchanges:       st.Exchanges.Load(),
		Timeouts:        st.Timeouts.Load(),
		Nacks:           st.Nacks.Load(),
		FramingErrors:   st.FramingErrors.Load(),
		ChecksumErrors:  st.ChecksumErrors.Load(),
		RemoteErrors:    st.RemoteErrors.Load(),
		TransportErrors: st.TransportErrors.Load(),
	}
}

// Session speaks the VS2 protocol over a Transport it owns exclusively.
//
// A Session is strictly sequential: only one request may be outstanding, so
// its methods must not be called concurrently. Device serializes concurrent callers.
// State and Stats may be read from any goroutine.
type Session struct {
	t      Transport
	cfg    sessionConfig
	log    log.FieldLogger
	state  atomic.Uint32
	closed atomic.Bool
	stats  SessionStats
}

// NewSession creates a session in state Uninitialized; call Handshake before any datapoint operation
func NewSession(t Transport, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("vs2: transport is nil")
	}
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}
	return &Session{t: t, cfg: cfg, log: cfg.logger}, nil
}

// State returns the current session state
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(uint32(st)))
	if prev != st {
		s.log.Debugf("vs2: state changed: %v --> %v", prev, st)
	}
}

// Stats returns the exchange counters
func (s *Session) Stats() *SessionStats {
	return &s.stats
}

// Handshake resets the controller with EOT, waits for ENQ, switches it to VS2 with
// SYN NUL NUL and waits for ACK. Each stage polls up to the handshake attempt count.
// A failed stage leaves the session Faulted; calling Handshake again is the only way out.
func (s *Session) Handshake(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.stats.Handshakes.Add(1)
	s.setState(StateHandshaking)

	if err := s.handshakeStage(ctx, StageEnq, []byte{EOT}, ENQ); err != nil {
		s.fault(err)
		return err
	}
	if err := s.handshakeStage(ctx, StageStart, StartVS2, ACK); err != nil {
		s.fault(err)
		return err
	}

	s.setState(StateReady)
	s.log.Debug("vs2: handshake done")
	return nil
}

func (s *Session) fault(err error) {
	s.stats.HandshakeFails.Add(1)
	s.setState(StateFaulted)
	s.log.WithError(err).Warn("vs2: handshake failed")
}

func (s *Session) handshakeStage(ctx context.Context, stage HandshakeStage, send []byte, want byte) error {
	if err := s.t.ClearInput(); err != nil {
		return &HandshakeError{Stage: stage, Err: s.transportErr(err)}
	}
	if err := s.write(send); err != nil {
		return &HandshakeError{Stage: stage, Err: err}
	}

	for i := 0; i < s.cfg.handshakeAttempts; i++ {
		if err := s.cfg.clock.Sleep(ctx, s.cfg.handshakeInterval); err != nil {
			return err
		}
		b, err := s.t.ReadAvailable()
		if err != nil {
			return &HandshakeError{Stage: stage, Err: s.transportErr(err)}
		}
		if len(b) > 0 {
			s.log.WithFields(log.Fields{"stage": stage, "rx": FormatBytes(b)}).Debug("vs2: handshake rx")
		}
		if bytes.IndexByte(b, want) >= 0 {
			return nil
		}
	}
	return &HandshakeError{Stage: stage, Err: ErrTimeout}
}

// Read returns length bytes of the datapoint at addr
func (s *Session) Read(ctx context.Context, addr Address, length byte) ([]byte, error) {
	req, err := EncodeRead(addr, length)
	if err != nil {
		return nil, err
	}
	o, err := s.exchange(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	if err := o.Err(); err != nil {
		return nil, err
	}
	if len(o.Payload) < int(length) {
		return nil, fmt.Errorf("%w: got %d bytes at %v, requested %d", ErrShortPayload, len(o.Payload), addr, length)
	}
	return o.Payload[:length], nil
}

// Write stores data at addr
func (s *Session) Write(ctx context.Context, addr Address, data []byte) error {
	req, err := EncodeWrite(addr, data)
	if err != nil {
		return err
	}
	o, err := s.exchange(ctx, addr, req)
	if err != nil {
		return err
	}
	return o.Err()
}

// RemoteCall invokes procedure procID at addr and returns the data of the answer
func (s *Session) RemoteCall(ctx context.Context, addr Address, procID byte, args []byte) ([]byte, error) {
	req, err := EncodeRemoteCall(addr, procID, args)
	if err != nil {
		return nil, err
	}
	o, err := s.exchange(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	if err := o.Err(); err != nil {
		return nil, err
	}
	return o.Payload, nil
}

// exchange sends one request and polls the transport until the decoder classifies
// the answer or the attempt count is used up. It never retries.
func (s *Session) exchange(ctx context.Context, addr Address, req Telegram) (*Outcome, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if st := s.State(); st != StateReady {
		return nil, fmt.Errorf("%w (state %v)", ErrNotReady, st)
	}
	if err := s.t.ClearInput(); err != nil {
		return nil, s.transportErr(err)
	}
	l := s.log.WithField("addr", addr)
	l.WithField("tx", req.String()).Debug("vs2: request")
	if err := s.write(req); err != nil {
		return nil, err
	}
	s.stats.Exchanges.Add(1)

	var d Decoder
	for i := 0; i < s.cfg.pollAttempts; i++ {
		if err := s.cfg.clock.Sleep(ctx, s.cfg.pollInterval); err != nil {
			return nil, err
		}
		b, err := s.t.ReadAvailable()
		if err != nil {
			return nil, s.transportErr(err)
		}
		if o, ok := d.Feed(b); ok {
			s.count(o)
			l.WithFields(log.Fields{"rx": o.Telegram.String(), "outcome": o.Kind}).Debug("vs2: response")
			if o.Kind == OutcomeNack && s.cfg.drainOnNack {
				s.drain(ctx)
			}
			return o, nil
		}
	}

	o := &Outcome{Kind: OutcomeTimeout, Telegram: d.Buffered()}
	s.count(o)
	l.WithFields(log.Fields{"rx": o.Telegram.String(), "attempts": s.cfg.pollAttempts}).Debug("vs2: response timeout")
	return o, nil
}

// drain discards what arrives within one poll interval
func (s *Session) drain(ctx context.Context) {
	if err := s.cfg.clock.Sleep(ctx, s.cfg.pollInterval); err != nil {
		return
	}
	if b, err := s.t.ReadAvailable(); err == nil && len(b) > 0 {
		s.log.WithField("rx", FormatBytes(b)).Debug("vs2: drained after NAK")
	}
}

func (s *Session) count(o *Outcome) {
	switch o.Kind {
	case OutcomeTimeout:
		s.stats.Timeouts.Add(1)
	case OutcomeNack:
		s.stats.Nacks.Add(1)
	case OutcomeFramingError:
		s.stats.FramingErrors.Add(1)
	case OutcomeChecksumError:
		s.stats.ChecksumErrors.Add(1)
	case OutcomeDeviceError:
		s.stats.RemoteErrors.Add(1)
	}
}

func (s *Session) write(b []byte) error {
	n, err := s.t.Write(b)
	if err != nil {
		return s.transportErr(err)
	}
	if n != len(b) {
		return s.transportErr(fmt.Errorf("short write, %d of %d bytes", n, len(b)))
	}
	return nil
}

func (s *Session) transportErr(err error) error {
	s.stats.TransportErrors.Add(1)
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Close sends EOT, which re-arms the controller for the next handshake, then closes the transport.
// Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if _, err := s.t.Write([]byte{EOT}); err != nil {
		s.log.WithError(err).Warn("vs2: could not send EOT on close")
	}
	s.setState(StateUninitialized)
	return s.t.Close()
}
