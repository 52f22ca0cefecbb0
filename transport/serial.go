package transport

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// bugstPort polls the device with a zero read timeout, no reader goroutine needed
type bugstPort struct {
	name string
	port serial.Port
	buf  []byte
}

func openBugst(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Annotatef(err, "transport: open %s", path)
	}
	if err := port.SetReadTimeout(0); err != nil {
		port.Close()
		return nil, errors.Annotatef(err, "transport: %s set read timeout", path)
	}
	log.Debugf("transport: opened %s at %d baud 8E2 (bugst)", path, baud)
	return &bugstPort{name: path, port: port, buf: make([]byte, 256)}, nil
}

func (p *bugstPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	log.Debugf("transport: %s write '% X', n=%d, err=%v", p.name, b, n, err)
	if err != nil {
		return n, errors.Annotatef(err, "transport: %s write", p.name)
	}
	return n, nil
}

func (p *bugstPort) ReadAvailable() ([]byte, error) {
	var out []byte
	for {
		n, err := p.port.Read(p.buf)
		if n > 0 {
			out = append(out, p.buf[:n]...)
		}
		if err != nil {
			return out, errors.Annotatef(err, "transport: %s read", p.name)
		}
		if n < len(p.buf) {
			break
		}
	}
	if len(out) > 0 {
		log.Debugf("transport: %s read '% X'", p.name, out)
	}
	return out, nil
}

func (p *bugstPort) ClearInput() error {
	return errors.Trace(p.port.ResetInputBuffer())
}

func (p *bugstPort) Close() error {
	return errors.Trace(p.port.Close())
}

func openTarm(path string, baud int) (Port, error) {
	port, err := tarm.OpenPort(&tarm.Config{
		Name:     path,
		Baud:     baud,
		Size:     8,
		Parity:   tarm.ParityEven,
		StopBits: tarm.Stop2,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "transport: open %s", path)
	}
	log.Debugf("transport: opened %s at %d baud 8E2 (tarm)", path, baud)
	return newPump(path, port, port.Flush), nil
}
