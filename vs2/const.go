package vs2

import (
	"fmt"
	"strconv"
	"strings"
)

// Constants for Optolink communication in the VS2 (aka P300) protocol
const (
	NUL byte = 0x00 // Used as part of StartVS2
	EOT byte = 0x04 // End of transmission - resets the controller to KW mode, it answers with ENQ
	ENQ byte = 0x05 // "ping" in KW mode
	ACK byte = 0x06 // Acknowledge in VS2
	NAK byte = 0x15 // Negative acknowledge in VS2
	SYN byte = 0x16 // Start of sync sequence SYN NUL NUL, switches from KW to VS2
	STX byte = 0x41 // Start of telegram, ASCII "A"
)

// StartVS2 is sent after ENQ to switch the controller into VS2 mode
var StartVS2 = []byte{SYN, NUL, NUL}

// Telegram layout offsets
const (
	requestHeaderLen = 7 // STX, Len, MsgType, Func, AddrHi, AddrLo, BlockLen
	responseDataPos  = 8 // ACK, STX, Len, MsgType, Func, AddrHi, AddrLo, BlockLen
	payloadLenBase   = 5 // MsgType, Func, AddrHi, AddrLo, BlockLen
	// MaxDataLen is the longest data block a single telegram can carry, PayloadLen must fit a byte.
	MaxDataLen = 0xff - payloadLenBase
)

// FunctionCode selects the operation of a telegram
type FunctionCode byte

const (
	FuncRead       FunctionCode = 0x01
	FuncWrite      FunctionCode = 0x02
	FuncRemoteCall FunctionCode = 0x07
)

// IsError reports a function or message type byte the device uses to signal an error
func (f FunctionCode) IsError() bool {
	return f&0x0f == 0x03
}

func (f FunctionCode) String() string {
	switch f & 0x1f {
	case FuncRead:
		return "Read"
	case FuncWrite:
		return "Write"
	case FuncRemoteCall:
		return "RemoteCall"
	}
	return fmt.Sprintf("FunctionCode(0x%02X)", byte(f))
}

// MsgType is the third byte of a telegram
type MsgType byte

const (
	MsgRequest  MsgType = 0x00
	MsgResponse MsgType = 0x01
	MsgError    MsgType = 0x03
)

// Address of a virtual datapoint or procedure, big-endian on the wire
type Address uint16

func (a Address) hi() byte { return byte(a >> 8) }
func (a Address) lo() byte { return byte(a) }

func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"0x%04X\"", uint16(a))), nil
}

// ParseAddress accepts "0x00f8", "00F8" or "248"
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	base := 16
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	case len(s) != 4:
		base = 10
	}
	i, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("vs2: can't parse address %q: %w", s, err)
	}
	return Address(i), nil
}

// State is the connection state of a Session
type State byte

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateFaulted // Only a new handshake leaves this state
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateFaulted:
		return "Faulted"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
