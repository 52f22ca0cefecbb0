package vs2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func readResponse(addr Address, data []byte) Telegram {
	return EncodeResponse(MsgResponse, FuncRead, addr, byte(len(data)), data)
}

func TestStep_ReadResponse(t *testing.T) {
	require := require.New(t)

	data := []byte{0x20, 0x92, 0x01, 0x0c, 0x00, 0x00, 0x01, 0x5a}
	resp := readResponse(0x00F8, data)
	require.Equal(byte(0x0D), resp[2])

	var s DecoderState
	s, o := Step(s, resp)
	require.NotNil(o)
	require.Equal(PhaseDone, s.Phase)
	require.Equal(OutcomeSuccess, o.Kind)
	require.Equal(data, o.Payload)
	require.Equal(resp, o.Telegram)
	require.NoError(o.Err())
}

func TestStep_Pure(t *testing.T) {
	require := require.New(t)

	resp := readResponse(0x00F8, []byte{1, 2})
	s0 := DecoderState{}
	s1, o := Step(s0, resp[:3])
	require.Nil(o)
	require.Empty(s0.Buf)
	require.Equal(PhaseAwaitBody, s1.Phase)

	// feeding the same state twice gives the same result
	a, oa := Step(s1, resp[3:])
	b, ob := Step(s1, resp[3:])
	require.Equal(a, b)
	require.Equal(oa, ob)
	require.Len(s1.Buf, 3)
}

func TestStep_Fragmented(t *testing.T) {
	require := require.New(t)

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	resp := readResponse(0x5525, data)

	// every split into single bytes and every two-part split yields the same outcome
	var d Decoder
	for i, b := range resp {
		o, done := d.Feed([]byte{b})
		if i < len(resp)-1 {
			require.False(done, "byte %d", i)
			continue
		}
		require.True(done)
		require.Equal(OutcomeSuccess, o.Kind)
		require.Equal(data, o.Payload)
	}

	for split := 0; split <= len(resp); split++ {
		d.Reset()
		o, done := d.Feed(resp[:split])
		if !done {
			o, done = d.Feed(resp[split:])
		}
		require.True(done, "split %d", split)
		require.Equal(OutcomeSuccess, o.Kind, "split %d", split)
		require.Equal(data, o.Payload, "split %d", split)
	}
}

func TestStep_RoundTrip(t *testing.T) {
	require := require.New(t)

	for n := 0; n <= MaxDataLen; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*7 + n)
		}
		resp := readResponse(Address(n), data)
		_, o := Step(DecoderState{}, resp)
		require.NotNil(o, "n=%d", n)
		require.Equal(OutcomeSuccess, o.Kind, "n=%d", n)
		if n == 0 {
			require.Empty(o.Payload)
		} else {
			require.Equal(data, o.Payload, "n=%d", n)
		}
	}
}

func TestStep_ChecksumError(t *testing.T) {
	require := require.New(t)

	data := []byte{0x11, 0x22, 0x33}
	resp := readResponse(0x0800, data)
	for bit := 0; bit < 8; bit++ {
		bad := append(Telegram(nil), resp...)
		bad[len(bad)-1] ^= 1 << bit
		_, o := Step(DecoderState{}, bad)
		require.NotNil(o)
		require.Equal(OutcomeChecksumError, o.Kind, "bit %d", bit)
		require.Equal(data, o.Payload)

		err := o.Err()
		require.ErrorIs(err, ErrChecksum)
		var ce *ChecksumError
		require.ErrorAs(err, &ce)
		require.Equal(bad[len(bad)-1], ce.Received)
		require.Equal(resp[len(resp)-1], ce.Computed)
	}
}

func TestStep_DeviceError(t *testing.T) {
	require := require.New(t)

	resp := EncodeResponse(MsgError, FuncRead, 0x00F8, 2, nil)
	_, o := Step(DecoderState{}, resp)
	require.NotNil(o)
	require.Equal(OutcomeDeviceError, o.Kind)
	require.ErrorIs(o.Err(), ErrRemote)

	// any message type with low nibble 3
	resp = EncodeResponse(MsgType(0x83), FuncRead, 0x00F8, 1, []byte{0x05})
	_, o = Step(DecoderState{}, resp)
	require.Equal(OutcomeDeviceError, o.Kind)
	var re *RemoteError
	require.ErrorAs(o.Err(), &re)
	require.Equal([]byte{0x05}, re.Payload)
}

func TestStep_Nack(t *testing.T) {
	require := require.New(t)

	s, o := Step(DecoderState{}, []byte{NAK, 0x41, 0x05})
	require.NotNil(o)
	require.Equal(OutcomeNack, o.Kind)
	require.Equal(PhaseDone, s.Phase)
	require.ErrorIs(o.Err(), ErrNack)

	// a finished decoder ignores further input
	s2, o2 := Step(s, []byte{ACK})
	require.Nil(o2)
	require.Equal(s, s2)
}

func TestStep_Framing(t *testing.T) {
	require := require.New(t)

	_, o := Step(DecoderState{}, []byte{ACK, 0x42, 0x05})
	require.NotNil(o)
	require.Equal(OutcomeFramingError, o.Kind)
	require.ErrorIs(o.Err(), ErrFraming)

	// ACK and one byte are not enough to decide
	s, o := Step(DecoderState{}, []byte{ACK, 0x42})
	require.Nil(o)
	require.Equal(PhaseAwaitStx, s.Phase)
}

func TestStep_Noise(t *testing.T) {
	require := require.New(t)

	data := []byte{0x01}
	resp := readResponse(0x2323, data)

	// a leading byte other than ACK or NAK is kept and never resolves
	s, o := Step(DecoderState{}, []byte{0x00, 0xff, 0x05})
	require.Nil(o)
	require.Equal([]byte{0x00, 0xff, 0x05}, s.Buf)
	require.Equal(PhaseAwaitAck, s.Phase)

	s, o = Step(s, resp)
	require.Nil(o)
	require.Equal(PhaseAwaitAck, s.Phase)
	require.Len(s.Buf, 3+len(resp))

	// bytes after the framed response are discarded
	_, o = Step(DecoderState{}, append(append(Telegram(nil), resp...), 0xaa, 0xbb))
	require.Equal(OutcomeSuccess, o.Kind)
	require.Equal(resp, o.Telegram)
}

func TestStep_Incomplete(t *testing.T) {
	require := require.New(t)

	resp := readResponse(0x00F8, make([]byte, 8))
	s, o := Step(DecoderState{}, resp[:len(resp)-1])
	require.Nil(o)
	require.Equal(PhaseAwaitBody, s.Phase)
	require.Len(s.Buf, len(resp)-1)

	o = &Outcome{Kind: OutcomeTimeout, Telegram: s.Buf}
	require.ErrorIs(o.Err(), ErrTimeout)
}
