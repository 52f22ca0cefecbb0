package vs2

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by datapoint operations before a successful handshake,
	// or after a failed one.
	ErrNotReady = errors.New("vs2: session not ready, handshake required")

	// ErrClosed is returned by operations on a closed session or device.
	ErrClosed = errors.New("vs2: closed")

	// ErrHandshakeFailed matches every *HandshakeError.
	ErrHandshakeFailed = errors.New("vs2: handshake failed")

	// ErrNack indicates the device answered a request with NAK.
	ErrNack = errors.New("vs2: device answered NAK")

	// ErrFraming indicates the byte following the ACK was not STX.
	ErrFraming = errors.New("vs2: telegram start byte missing")

	// ErrChecksum matches every *ChecksumError.
	ErrChecksum = errors.New("vs2: checksum mismatch")

	// ErrRemote matches every *RemoteError.
	ErrRemote = errors.New("vs2: device reported an error")

	// ErrTimeout indicates no complete answer arrived within the polling window.
	ErrTimeout = errors.New("vs2: timeout")

	// ErrInvalidLength indicates a data block that does not fit into a telegram.
	ErrInvalidLength = errors.New("vs2: invalid length")

	// ErrShortPayload indicates a read answer carrying less data than requested.
	ErrShortPayload = errors.New("vs2: answer shorter than requested")

	// ErrTransport wraps failures of the underlying byte channel.
	ErrTransport = errors.New("vs2: transport failure")
)

// HandshakeStage names the step of the handshake that timed out
type HandshakeStage int

const (
	// StageEnq waits for ENQ after EOT was sent
	StageEnq HandshakeStage = iota
	// StageStart waits for ACK after StartVS2 was sent
	StageStart
)

func (s HandshakeStage) String() string {
	if s == StageEnq {
		return "Enq"
	}
	return "Start"
}

// HandshakeError reports the handshake stage that did not get its answer in time
type HandshakeError struct {
	Stage HandshakeStage
	Err   error // ErrTimeout, or the transport error that aborted the stage
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("vs2: handshake failed at stage %v: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeFailed
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// RemoteError is returned when the device received the request but rejected it,
// e.g. for an invalid address. Retrying the same request is unlikely to help.
type RemoteError struct {
	Payload []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("vs2: device reported an error, payload [%s]", FormatBytes(e.Payload))
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// ChecksumError carries the extracted payload for diagnostics
type ChecksumError struct {
	Received byte
	Computed byte
	Payload  []byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("vs2: checksum mismatch, received 0x%02X, computed 0x%02X", e.Received, e.Computed)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}
