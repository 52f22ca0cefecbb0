package vs2

// Public API to easy create VS2 stubs to test your code.
import (
	"context"
	"sync"
	"testing"
	"time"
)

// MockR pairs an expected request with the reply chunks the mock makes readable.
// Each chunk is returned by one ReadAvailable call, so replies can arrive fragmented.
type MockR struct {
	Request string // hex, empty matches any request
	Reply   []string
}

// MockTransport is an in-memory Transport. Writes are recorded; replies come from
// the expectation queue first, then from OnWrite.
type MockTransport struct {
	mu       sync.Mutex
	t        testing.TB
	writes   [][]byte
	expect   []MockR
	pending  [][]byte
	clears   int
	closed   bool
	readErr  error
	writeErr error

	// OnWrite produces reply chunks for requests not covered by Expect
	OnWrite func(req []byte) [][]byte
}

func NewMockTransport(t testing.TB) *MockTransport {
	return &MockTransport{t: t}
}

// Expect appends scripted exchanges
func (m *MockTransport) Expect(rs ...MockR) {
	m.mu.Lock()
	m.expect = append(m.expect, rs...)
	m.mu.Unlock()
}

// Push makes chunks readable without a preceding write, e.g. line noise
func (m *MockTransport) Push(chunks ...[]byte) {
	m.mu.Lock()
	m.pending = append(m.pending, chunks...)
	m.mu.Unlock()
}

// FailRead makes every following ReadAvailable return err, nil restores normal operation
func (m *MockTransport) FailRead(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// FailWrite makes every following Write return err, nil restores normal operation
func (m *MockTransport) FailWrite(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *MockTransport) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	req := append([]byte(nil), b...)
	m.writes = append(m.writes, req)

	if len(m.expect) > 0 {
		r := m.expect[0]
		m.expect = m.expect[1:]
		if r.Request != "" {
			if want := MustParseHex(r.Request); string(want) != string(req) {
				m.t.Errorf("vs2 mock: request=[%s] expected=[%s]", FormatBytes(req), FormatBytes(want))
			}
		}
		for _, s := range r.Reply {
			m.pending = append(m.pending, MustParseHex(s))
		}
		return len(b), nil
	}
	if m.OnWrite != nil {
		m.pending = append(m.pending, m.OnWrite(req)...)
	}
	return len(b), nil
}

func (m *MockTransport) ReadAvailable() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.pending) == 0 {
		return nil, nil
	}
	b := m.pending[0]
	m.pending = m.pending[1:]
	return b, nil
}

func (m *MockTransport) ClearInput() error {
	m.mu.Lock()
	m.pending = nil
	m.clears++
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Writes returns all recorded writes in order
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// Clears returns the number of ClearInput calls
func (m *MockTransport) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ExpectDone fails the test if scripted exchanges are left
func (m *MockTransport) ExpectDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.expect) != 0 {
		m.t.Errorf("vs2 mock: %d expected exchanges not performed, next=%v", len(m.expect), m.expect[0])
	}
}

// MustParseHex is ParseHexBytes for literals, it panics on malformed input
func MustParseHex(s string) []byte {
	b, err := ParseHexBytes(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FakeClock returns immediately and counts the sleeps
type FakeClock struct {
	mu     sync.Mutex
	sleeps int
	total  time.Duration
	// AfterSleep runs after each sleep with the running count
	AfterSleep func(n int)
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps++
	c.total += d
	n := c.sleeps
	fn := c.AfterSleep
	c.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return nil
}

func (c *FakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

func (c *FakeClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *FakeClock) Reset() {
	c.mu.Lock()
	c.sleeps, c.total = 0, 0
	c.mu.Unlock()
}

// EncodeResponse builds an ACK-led answer the way a controller sends it
func EncodeResponse(mt MsgType, fc FunctionCode, addr Address, blockLen byte, data []byte) Telegram {
	b := make(Telegram, 0, responseDataPos+len(data)+1)
	b = append(b, ACK, STX, byte(payloadLenBase+len(data)), byte(mt), byte(fc), addr.hi(), addr.lo(), blockLen)
	b = append(b, data...)
	return append(b, Checksum(b))
}

// MockController simulates a heating controller behind the optical link.
// Use its Respond method as MockTransport.OnWrite.
type MockController struct {
	mu     sync.Mutex
	mem    map[Address]byte
	procs  map[Address]func(procID byte, args []byte) ([]byte, bool)
	denied map[Address]bool
	nacks  int
	mute   bool
	vs2    bool
}

func NewMockController() *MockController {
	return &MockController{
		mem:    make(map[Address]byte),
		procs:  make(map[Address]func(byte, []byte) ([]byte, bool)),
		denied: make(map[Address]bool),
	}
}

// Set stores data in the simulated memory starting at addr
func (c *MockController) Set(addr Address, data []byte) {
	c.mu.Lock()
	for i, b := range data {
		c.mem[addr+Address(i)] = b
	}
	c.mu.Unlock()
}

// Get returns n bytes of simulated memory starting at addr
func (c *MockController) Get(addr Address, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(addr, n)
}

func (c *MockController) get(addr Address, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = c.mem[addr+Address(i)]
	}
	return b
}

// Deny makes requests touching addr fail with an error response
func (c *MockController) Deny(addr Address) {
	c.mu.Lock()
	c.denied[addr] = true
	c.mu.Unlock()
}

// HandleProc installs a remote procedure at addr; returning false answers with an error
func (c *MockController) HandleProc(addr Address, fn func(procID byte, args []byte) ([]byte, bool)) {
	c.mu.Lock()
	c.procs[addr] = fn
	c.mu.Unlock()
}

// NackNext makes the next n requests answer NAK
func (c *MockController) NackNext(n int) {
	c.mu.Lock()
	c.nacks = n
	c.mu.Unlock()
}

// Mute stops all answers, as an unplugged optical head would
func (c *MockController) Mute(mute bool) {
	c.mu.Lock()
	c.mute = mute
	c.mu.Unlock()
}

func (c *MockController) deniedRange(addr Address, n int) bool {
	for i := 0; i < n || i == 0; i++ {
		if c.denied[addr+Address(i)] {
			return true
		}
	}
	return false
}

// Respond returns the reply chunks to request req
func (c *MockController) Respond(req []byte) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mute || len(req) == 0 {
		return nil
	}

	switch {
	case len(req) == 1 && req[0] == EOT:
		c.vs2 = false
		return [][]byte{{ENQ}}
	case string(req) == string(StartVS2):
		c.vs2 = true
		return [][]byte{{ACK}}
	}
	if !c.vs2 || len(req) < requestHeaderLen+1 || req[0] != STX {
		return nil
	}
	if c.nacks > 0 {
		c.nacks--
		return [][]byte{{NAK}}
	}
	if req[len(req)-1] != Checksum(req) {
		return [][]byte{{NAK}}
	}

	fc := FunctionCode(req[3])
	addr := Address(req[4])<<8 | Address(req[5])
	blockLen := req[6]
	data := req[requestHeaderLen : len(req)-1]
	var resp Telegram
	switch fc {
	case FuncRead:
		if c.deniedRange(addr, int(blockLen)) {
			resp = EncodeResponse(MsgError, fc, addr, blockLen, nil)
		} else {
			resp = EncodeResponse(MsgResponse, fc, addr, blockLen, c.get(addr, int(blockLen)))
		}
	case FuncWrite:
		if c.deniedRange(addr, len(data)) {
			resp = EncodeResponse(MsgError, fc, addr, blockLen, nil)
			break
		}
		for i, b := range data {
			c.mem[addr+Address(i)] = b
		}
		resp = EncodeResponse(MsgResponse, fc, addr, blockLen, nil)
	case FuncRemoteCall:
		fn := c.procs[addr]
		if fn == nil || len(data) == 0 {
			resp = EncodeResponse(MsgError, fc, addr, blockLen, nil)
			break
		}
		out, ok := fn(data[0], data[1:])
		if !ok {
			resp = EncodeResponse(MsgError, fc, addr, blockLen, nil)
			break
		}
		resp = EncodeResponse(MsgResponse, fc, addr, byte(len(out)), out)
	default:
		resp = EncodeResponse(MsgError, fc, addr, blockLen, nil)
	}
	// the optical link delivers the answer in two parts
	split := len(resp) / 2
	return [][]byte{resp[:split], resp[split:]}
}

// NewMockSession returns a handshaken session on a MockTransport driven by a
// MockController, using a FakeClock.
func NewMockSession(t testing.TB, opts ...Option) (*Session, *MockTransport, *MockController) {
	mt := NewMockTransport(t)
	ctrl := NewMockController()
	mt.OnWrite = ctrl.Respond
	opts = append([]Option{WithClock(&FakeClock{})}, opts...)
	s, err := NewSession(mt, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Handshake(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, mt, ctrl
}
