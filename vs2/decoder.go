package vs2

import "fmt"

// Phase of the response decoder
type Phase byte

const (
	PhaseAwaitAck Phase = iota
	PhaseAwaitStx
	PhaseAwaitBody
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitAck:
		return "AwaitAck"
	case PhaseAwaitStx:
		return "AwaitStx"
	case PhaseAwaitBody:
		return "AwaitBody"
	case PhaseDone:
		return "Done"
	}
	return fmt.Sprintf("Phase(%d)", byte(p))
}

// OutcomeKind classifies a completed exchange
type OutcomeKind byte

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeDeviceError
	OutcomeNack
	OutcomeFramingError
	OutcomeChecksumError
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeDeviceError:
		return "DeviceError"
	case OutcomeNack:
		return "Nack"
	case OutcomeFramingError:
		return "FramingError"
	case OutcomeChecksumError:
		return "ChecksumError"
	case OutcomeTimeout:
		return "Timeout"
	}
	return fmt.Sprintf("OutcomeKind(%d)", byte(k))
}

// Outcome is the result of exactly one exchange
type Outcome struct {
	Kind    OutcomeKind
	Payload []byte
	// Telegram holds the response as classified, truncated to its framed length
	Telegram Telegram
}

// Err maps the outcome to the error returned to callers, nil on success
func (o *Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeDeviceError:
		return &RemoteError{Payload: o.Payload}
	case OutcomeNack:
		return ErrNack
	case OutcomeFramingError:
		return fmt.Errorf("%w: received [%s]", ErrFraming, FormatBytes(o.Telegram))
	case OutcomeChecksumError:
		e := &ChecksumError{Payload: o.Payload}
		if n := len(o.Telegram); n > 0 {
			e.Received = o.Telegram[n-1]
			e.Computed = Checksum(o.Telegram)
		}
		return e
	}
	return ErrTimeout
}

// DecoderState is the complete state of the response decoder.
// It is a value: Step never modifies the state it was given.
type DecoderState struct {
	Phase Phase
	Buf   []byte
}

// Step consumes newly received bytes and returns the next state together with
// the outcome, or nil while the response is still incomplete.
// Transitions depend on buffer content only; timing is the caller's business.
func Step(s DecoderState, in []byte) (DecoderState, *Outcome) {
	if s.Phase == PhaseDone {
		return s, nil
	}

	buf := make([]byte, 0, len(s.Buf)+len(in))
	buf = append(buf, s.Buf...)
	buf = append(buf, in...)
	s.Buf = buf

	if s.Phase == PhaseAwaitAck {
		if len(buf) == 0 {
			return s, nil
		}
		switch buf[0] {
		case NAK:
			s.Phase = PhaseDone
			return s, &Outcome{Kind: OutcomeNack, Telegram: Telegram(buf[:1])}
		case ACK:
			s.Phase = PhaseAwaitStx
		default:
			// no resync on a later ACK, the exchange times out
			return s, nil
		}
	}

	if s.Phase == PhaseAwaitStx {
		if len(buf) <= 2 {
			return s, nil
		}
		if buf[1] != STX {
			s.Phase = PhaseDone
			return s, &Outcome{Kind: OutcomeFramingError, Telegram: Telegram(buf)}
		}
		s.Phase = PhaseAwaitBody
	}

	// PhaseAwaitBody: ACK + STX + Len + dlen bytes, the last of them being the checksum
	dlen := int(buf[2])
	if len(buf) < dlen+4 {
		return s, nil
	}
	buf = buf[:dlen+4]
	s.Buf = buf
	s.Phase = PhaseDone

	var payload []byte
	if dlen+3 > responseDataPos {
		payload = append([]byte(nil), buf[responseDataPos:dlen+3]...)
	}
	o := &Outcome{Kind: OutcomeSuccess, Payload: payload, Telegram: Telegram(buf)}
	switch {
	case buf[dlen+3] != Checksum(buf):
		o.Kind = OutcomeChecksumError
	case FunctionCode(buf[3]).IsError():
		o.Kind = OutcomeDeviceError
	}
	return s, o
}

// Decoder accumulates the bytes of one exchange, see Step
type Decoder struct {
	state DecoderState
}

// Feed appends newly available bytes, returning the outcome once the exchange is classified
func (d *Decoder) Feed(in []byte) (*Outcome, bool) {
	var o *Outcome
	d.state, o = Step(d.state, in)
	return o, o != nil
}

// Reset discards all buffered bytes, no bytes are carried over into the next exchange
func (d *Decoder) Reset() {
	d.state = DecoderState{}
}

// Phase returns the current phase
func (d *Decoder) Phase() Phase { return d.state.Phase }

// Buffered returns the bytes accumulated so far
func (d *Decoder) Buffered() []byte { return d.state.Buf }
