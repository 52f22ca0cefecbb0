package vs2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cmd is a raw request for the command loop
type Cmd struct {
	Func    FunctionCode
	Address Address
	Length  byte   // bytes to read
	ProcID  byte   // remote procedure, FuncRemoteCall only
	Args    []byte // data to write or procedure arguments
}

// Result is the answer to a Cmd
type Result struct {
	Body []byte
	Err  error
}

func exec(ctx context.Context, s *Session, cmd Cmd) Result {
	switch cmd.Func {
	case FuncRead:
		b, err := s.Read(ctx, cmd.Address, cmd.Length)
		return Result{Body: b, Err: err}
	case FuncWrite:
		return Result{Err: s.Write(ctx, cmd.Address, cmd.Args)}
	case FuncRemoteCall:
		b, err := s.RemoteCall(ctx, cmd.Address, cmd.ProcID, cmd.Args)
		return Result{Body: b, Err: err}
	}
	return Result{Err: fmt.Errorf("vs2: unsupported function %v", cmd.Func)}
}

// RawCmd performs a single exchange, bypassing chunking and the cache
func (d *Device) RawCmd(ctx context.Context, cmd Cmd) Result {
	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()
	return d.rawCmd(ctx, cmd)
}

func (d *Device) rawCmd(ctx context.Context, cmd Cmd) Result {
	return d.do(ctx, func(ctx context.Context, s *Session) Result {
		return exec(ctx, s, cmd)
	})
}

func (d *Device) getCache(addr Address, n int, now time.Time) []byte {
	if d.CacheDuration <= 0 {
		return nil
	}
	c := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		cell, ok := d.mem.Load(addr + Address(i))
		if !ok || now.Sub(cell.at) >= d.CacheDuration {
			return nil
		}
		c = append(c, cell.data)
	}
	return c
}

func (d *Device) putCache(addr Address, b []byte, at time.Time) {
	for i, v := range b {
		d.mem.Store(addr+Address(i), memCell{data: v, at: at})
	}
}

func (d *Device) dropCache(addr Address, n int) {
	for i := 0; i < n; i++ {
		d.mem.Delete(addr + Address(i))
	}
}

// ReadBlock reads length bytes at addr. Blocks longer than ChunkSize are read
// in consecutive exchanges. Cached bytes younger than CacheDuration are served without I/O.
func (d *Device) ReadBlock(ctx context.Context, addr Address, length int) ([]byte, error) {
	if length <= 0 || int(addr)+length > 1<<16 {
		return nil, fmt.Errorf("%w: read of %d bytes at %v", ErrInvalidLength, length, addr)
	}

	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	now := time.Now()
	if c := d.getCache(addr, length, now); c != nil {
		d.log.Debugf("vs2: cache hit at %v, body [%s]", addr, FormatBytes(c))
		return c, nil
	}

	body := make([]byte, 0, length)
	a := addr
	for remainder := length; remainder > 0; remainder -= d.ChunkSize {
		n := remainder
		if n > d.ChunkSize {
			n = d.ChunkSize
		}
		res := d.rawCmd(ctx, Cmd{Func: FuncRead, Address: a, Length: byte(n)})
		if res.Err != nil {
			return nil, res.Err
		}
		if d.CacheDuration > 0 {
			d.putCache(a, res.Body, now)
		}
		body = append(body, res.Body...)
		a += Address(n)
	}
	return body, nil
}

// WriteBlock writes data at addr, in chunks of ChunkSize, and updates the cache
func (d *Device) WriteBlock(ctx context.Context, addr Address, data []byte) error {
	if len(data) == 0 || int(addr)+len(data) > 1<<16 {
		return fmt.Errorf("%w: write of %d bytes at %v", ErrInvalidLength, len(data), addr)
	}

	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	a := addr
	for off := 0; off < len(data); off += d.ChunkSize {
		end := off + d.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		res := d.rawCmd(ctx, Cmd{Func: FuncWrite, Address: a, Args: chunk})
		if res.Err != nil {
			// the device may or may not have stored the chunk
			d.dropCache(a, len(chunk))
			return res.Err
		}
		if d.CacheDuration > 0 {
			d.putCache(a, chunk, time.Now())
		}
		a += Address(len(chunk))
	}
	return nil
}

// RemoteCall invokes procedure procID at addr
func (d *Device) RemoteCall(ctx context.Context, addr Address, procID byte, args []byte) ([]byte, error) {
	res := d.RawCmd(ctx, Cmd{Func: FuncRemoteCall, Address: addr, ProcID: procID, Args: args})
	return res.Body, res.Err
}

// SysDeviceIdentAddress holds the 8 byte system identification of every VS2 controller
const SysDeviceIdentAddress Address = 0x00F8

// DeviceIdent is the raw system identification, the first two bytes are the device id
type DeviceIdent [8]byte

// ID returns the device id, e.g. 0x2092
func (id DeviceIdent) ID() uint16 {
	return uint16(id[0])<<8 | uint16(id[1])
}

func (id DeviceIdent) String() string {
	return FormatBytes(id[:])
}

func (id DeviceIdent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID  string `json:"id"`
		Raw string `json:"raw"`
	}{fmt.Sprintf("0x%04X", id.ID()), id.String()})
}

// SysDeviceIdent reads the system identification
func (d *Device) SysDeviceIdent(ctx context.Context) (DeviceIdent, error) {
	var id DeviceIdent
	b, err := d.ReadBlock(ctx, SysDeviceIdentAddress, len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}
