package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// boardVerbs are the commands the board firmware understands.
var boardVerbs = map[string]bool{
	"STEER": true, "PAN": true, "TILT": true,
	"FWD": true, "BWD": true, "STOP": true,
}

// SimulatedBoard stands in for the motor board on a bench without hardware.
// Each complete command line written to it queues "OK <command>" for a known
// verb or "ERR unknown command" otherwise.
type SimulatedBoard struct {
	mu      sync.Mutex
	cond    *sync.Cond
	partial bytes.Buffer
	replies bytes.Buffer
	closed  bool
}

var _ SerialPorter = (*SimulatedBoard)(nil)

func NewSimulatedBoard() *SimulatedBoard {
	b := &SimulatedBoard{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write accepts partial lines; a reply is queued once the newline arrives.
func (b *SimulatedBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("simulated board closed")
	}
	b.partial.Write(p)
	for {
		line, err := b.partial.ReadString('\n')
		if err != nil {
			// put the incomplete tail back
			rest := []byte(line)
			b.partial.Reset()
			b.partial.Write(rest)
			break
		}
		b.replies.WriteString(simulatedReply(strings.TrimSpace(line)))
	}
	b.cond.Broadcast()
	return len(p), nil
}

// Read blocks until a reply is queued or the board is closed.
func (b *SimulatedBoard) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.replies.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return 0, io.EOF
	}
	return b.replies.Read(p)
}

func (b *SimulatedBoard) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func simulatedReply(command string) string {
	verb, _, _ := strings.Cut(command, " ")
	if !boardVerbs[verb] {
		return "ERR unknown command\n"
	}
	return "OK " + command + "\n"
}

// NewSimulatedSerialMux returns a link to a SimulatedBoard.
func NewSimulatedSerialMux() *SerialMux[*SimulatedBoard] {
	return NewSerialMux(NewSimulatedBoard())
}
