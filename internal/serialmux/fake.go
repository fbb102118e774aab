package serialmux

import (
	"errors"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// FakePort is a scriptable SerialPorter for tests in this and other
// packages. Replies queued with Reply are served to Read; everything written
// is kept for Written.
type FakePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending strings.Builder
	written strings.Builder
	readErr error
	closed  bool

	// WriteErr, when set, fails every Write.
	WriteErr error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
}

var _ SerialPorter = (*FakePort)(nil)

func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Reply queues lines for Read, each terminated with "\n" as given.
func (p *FakePort) Reply(lines ...string) {
	p.mu.Lock()
	for _, l := range lines {
		p.pending.WriteString(l)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FailReads makes Read return err once queued replies are drained.
func (p *FakePort) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Written returns every line written so far, terminators removed.
func (p *FakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := strings.TrimSuffix(p.written.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending.Len() == 0 && p.readErr == nil && !p.closed {
		p.cond.Wait()
	}
	if p.pending.Len() > 0 {
		rest := p.pending.String()
		n := copy(b, rest)
		p.pending.Reset()
		p.pending.WriteString(rest[n:])
		return n, nil
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	return 0, io.EOF
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("fake port closed")
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	n := len(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	p.written.Write(b[:n])
	return n, nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// OpenCall records one FakePortFactory.Open.
type OpenCall struct {
	Path string
	Mode *serial.Mode
}

// FakePortFactory hands out Port, or fails with Err.
type FakePortFactory struct {
	Port   SerialPorter
	Err    error
	Opened []OpenCall
}

func (f *FakePortFactory) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	f.Opened = append(f.Opened, OpenCall{Path: path, Mode: mode})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}
