package transport

import (
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// closeWait bounds how long Close waits for the reader goroutine. A blocking
// serial read may only return with the next byte on the line.
var closeWait = time.Second

// pumpPort turns a blocking reader into a Port: a goroutine reads continuously
// and accumulates bytes until ReadAvailable collects them.
type pumpPort struct {
	name  string
	rwc   io.ReadWriteCloser
	flush func() error

	mu     sync.Mutex
	buf    []byte
	err    error
	closed bool
	done   chan struct{}
}

func newPump(name string, rwc io.ReadWriteCloser, flush func() error) *pumpPort {
	p := &pumpPort{
		name:  name,
		rwc:   rwc,
		flush: flush,
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pumpPort) run() {
	defer close(p.done)
	b := make([]byte, 256)
	for {
		n, err := p.rwc.Read(b)
		p.mu.Lock()
		if n > 0 {
			p.buf = append(p.buf, b[:n]...)
		}
		if err != nil {
			if !p.closed {
				p.err = err
			}
			p.mu.Unlock()
			log.Debugf("transport: %s reader stopped: %v", p.name, err)
			return
		}
		p.mu.Unlock()
	}
}

func (p *pumpPort) Write(b []byte) (int, error) {
	n, err := p.rwc.Write(b)
	log.Debugf("transport: %s write '% X', n=%d, err=%v", p.name, b, n, err)
	if err != nil {
		return n, errors.Annotatef(err, "transport: %s write", p.name)
	}
	return n, nil
}

// ReadAvailable returns buffered bytes first; a reader error is reported once the buffer is empty
func (p *pumpPort) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) > 0 {
		b := p.buf
		p.buf = nil
		log.Debugf("transport: %s read '% X'", p.name, b)
		return b, nil
	}
	if p.closed {
		return nil, errors.Errorf("transport: %s closed", p.name)
	}
	if p.err != nil {
		return nil, errors.Annotatef(p.err, "transport: %s read", p.name)
	}
	return nil, nil
}

func (p *pumpPort) ClearInput() error {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
	if p.flush != nil {
		return errors.Trace(p.flush())
	}
	return nil
}

func (p *pumpPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := errors.Trace(p.rwc.Close())
	select {
	case <-p.done:
	case <-time.After(closeWait):
		log.Warnf("transport: %s reader still blocked %v after close", p.name, closeWait)
	}
	return err
}
