package vs2

import (
	"fmt"
)

// Telegram is one complete framed request or response
type Telegram []byte

func (t Telegram) String() string {
	return FormatBytes(t)
}

// EncodeRead builds a request reading length bytes at addr
func EncodeRead(addr Address, length byte) (Telegram, error) {
	return encode(FuncRead, addr, length, nil)
}

// EncodeWrite builds a request writing data to addr
func EncodeWrite(addr Address, data []byte) (Telegram, error) {
	if len(data) > MaxDataLen {
		return nil, fmt.Errorf("%w: %d data bytes, at most %d fit a telegram", ErrInvalidLength, len(data), MaxDataLen)
	}
	return encode(FuncWrite, addr, byte(len(data)), data)
}

// EncodeRemoteCall builds a request invoking procedure procID at addr.
// The procedure id is the first data byte, followed by args.
func EncodeRemoteCall(addr Address, procID byte, args []byte) (Telegram, error) {
	if len(args)+1 > MaxDataLen {
		return nil, fmt.Errorf("%w: %d argument bytes, at most %d fit a telegram", ErrInvalidLength, len(args), MaxDataLen-1)
	}
	data := make([]byte, 0, len(args)+1)
	data = append(data, procID)
	data = append(data, args...)
	return encode(FuncRemoteCall, addr, byte(len(data)), data)
}

func encode(fc FunctionCode, addr Address, blockLen byte, data []byte) (Telegram, error) {
	b := make(Telegram, 0, requestHeaderLen+len(data)+1)
	b = append(b, STX, byte(payloadLenBase+len(data)), byte(MsgRequest), byte(fc), addr.hi(), addr.lo(), blockLen)
	b = append(b, data...)
	b = append(b, Checksum(b))
	return b, nil
}
