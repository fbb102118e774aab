// Package serialmux carries line commands to the motor and servo board and
// fans the board's replies out to any number of subscribers.
//
// The board speaks a newline-terminated ASCII protocol. Commands are a verb
// and an optional integer ("STEER -15", "FWD 30", "STOP"); replies are
// "OK <command>", "ERR <reason>" or a periodic "BATT <volts>".
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
)

// MaxCommandLen is the longest command line the board accepts, excluding
// the terminator.
const MaxCommandLen = 64

var (
	ErrWriteFailed    = errors.New("short write to motor board")
	ErrInvalidCommand = errors.New("invalid board command")
	ErrClosed         = errors.New("motor board link closed")
)

// InitCommands is the sequence Initialize sends: motors off, servos centred.
var InitCommands = []string{"STOP", "STEER 0", "PAN 0", "TILT 0"}

// SerialMuxInterface is what the rest of the robot needs from a board link.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of reply lines. The channel is
	// closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand frames and writes one command line.
	SendCommand(string) error
	// Monitor reads replies until ctx is done, the port reaches EOF or the
	// link is closed.
	Monitor(context.Context) error
	Close() error

	// Initialize puts the board into a known safe state.
	Initialize() error

	// AttachAdminRoutes mounts the board console under /debug/ on mux.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux is the board link over any SerialPorter.
type SerialMux[T SerialPorter] struct {
	port    T
	writeMu sync.Mutex
	replies hub
	log     logrus.FieldLogger
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux creates a SerialMux backed by port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, log: monitoring.Component("serial")}
}

// SetLogger replaces the link's logger.
func (s *SerialMux[T]) SetLogger(l logrus.FieldLogger) { s.log = l }

// FrameCommand validates command and returns the line written for it.
// A trailing CR or LF is tolerated; anything that would put more than one
// line on the wire is not.
func FrameCommand(command string) (string, error) {
	command = strings.TrimRight(command, "\r\n")
	switch {
	case strings.TrimSpace(command) == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidCommand)
	case len(command) > MaxCommandLen:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidCommand, MaxCommandLen)
	case strings.ContainsAny(command, "\r\n"):
		return "", fmt.Errorf("%w: %q spans more than one line", ErrInvalidCommand, command)
	}
	return command + "\n", nil
}

func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.replies.subscribe() }

func (s *SerialMux[T]) Unsubscribe(id string) { s.replies.unsubscribe(id) }

// Initialize stops the motors and centres every servo.
func (s *SerialMux[T]) Initialize() error {
	for _, command := range InitCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("initialize motor board: %w", err)
		}
	}
	return nil
}

// SendCommand writes command as a single line. Writes are serialised so
// concurrent callers never interleave on the wire.
func (s *SerialMux[T]) SendCommand(command string) error {
	line, err := FrameCommand(command)
	if err != nil {
		return err
	}
	if s.replies.isClosed() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(line), err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads reply lines and publishes them. CRLF endings are accepted
// and blank lines skipped. A reply is dropped for any subscriber whose
// buffer is full.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the ctx select below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			line := strings.TrimRight(scan.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if s.replies.isClosed() {
					return nil
				}
				select {
				case err := <-readErr:
					return err
				default:
					return ctx.Err()
				}
			}
			if skipped := s.replies.publish(line); skipped > 0 {
				s.log.WithFields(logrus.Fields{"reply": line, "skipped": skipped}).Debug("slow subscribers missed a board reply")
			}
		}
	}
}

// Close ends every subscription and closes the port. Later calls are no-ops.
func (s *SerialMux[T]) Close() error {
	if !s.replies.close() {
		return nil
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}
