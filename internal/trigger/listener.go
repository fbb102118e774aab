package trigger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
)

const (
	// DefaultBufferSize is the largest trigger payload read in one go.
	DefaultBufferSize = 1024

	// RecordQueueSize is how many trigger events may wait for the
	// recorder before new ones are dropped.
	RecordQueueSize = 64

	readPollInterval = 100 * time.Millisecond
	maxTrackedPeers  = 256
	recordTimeout    = 2 * time.Second
)

// ErrListenerStarted is returned by a second call to Start.
var ErrListenerStarted = errors.New("trigger listener already started")

// Handler applies decoded trigger commands. *Supervisor implements it.
type Handler interface {
	Handle(cmd Command) Outcome
	Shutdown() error
}

// Event is one received trigger datagram and what it caused.
type Event struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Payload string    `json:"payload"`
	Command Command   `json:"command"`
	Outcome Outcome   `json:"outcome"`
}

// EventRecorder persists trigger events. It is called from its own
// goroutine, never the receive loop. Errors are logged and otherwise ignored.
type EventRecorder interface {
	RecordTrigger(ctx context.Context, ev Event) error
}

// ListenerConfig contains configuration options for the trigger listener.
type ListenerConfig struct {
	Address    string
	BufferSize int
	// Rate and Burst limit datagrams per sender. A zero Rate disables
	// limiting.
	Rate  rate.Limit
	Burst int

	Handler  Handler
	Recorder EventRecorder
	Factory  UDPSocketFactory
	Logger   logrus.FieldLogger
}

// Listener receives trigger datagrams and hands them to its Handler one at
// a time, in arrival order, on the receive goroutine. Nothing is sent back.
// A Listener is started once.
type Listener struct {
	address  string
	bufSize  int
	limit    rate.Limit
	burst    int
	handler  Handler
	recorder EventRecorder
	factory  UDPSocketFactory
	log      logrus.FieldLogger

	// events is owned by the goroutine running Start.
	events chan Event

	mu       sync.Mutex
	peers    map[string]*rate.Limiter
	local    net.Addr
	ready    chan struct{}
	started  bool
	received int
	dropped  int
}

// NewListener creates a trigger listener with the provided configuration.
func NewListener(cfg ListenerConfig) *Listener {
	l := &Listener{
		address:  cfg.Address,
		bufSize:  cfg.BufferSize,
		limit:    cfg.Rate,
		burst:    cfg.Burst,
		handler:  cfg.Handler,
		recorder: cfg.Recorder,
		factory:  cfg.Factory,
		log:      cfg.Logger,
		peers:    make(map[string]*rate.Limiter),
		ready:    make(chan struct{}),
	}
	if l.bufSize <= 0 {
		l.bufSize = DefaultBufferSize
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	if l.factory == nil {
		l.factory = RealUDPSocketFactory{}
	}
	if l.log == nil {
		l.log = monitoring.Component("trigger")
	}
	return l
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

// Received returns how many datagrams have been read.
func (l *Listener) Received() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.received
}

// Dropped returns how many events were not recorded because the recorder
// fell behind.
func (l *Listener) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Start binds the socket and processes datagrams until ctx is cancelled.
// Before returning it shuts the handler down, so a running loop never
// outlives the listener, and then flushes queued events to the recorder.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrListenerStarted
	}
	l.started = true
	l.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.recorder != nil {
		l.events = make(chan Event, RecordQueueSize)
		var recording sync.WaitGroup
		recording.Add(1)
		go func() {
			defer recording.Done()
			l.recordEvents(context.WithoutCancel(ctx), l.events)
		}()
		defer func() {
			close(l.events)
			recording.Wait()
		}()
	}

	defer func() {
		if err := l.handler.Shutdown(); err != nil {
			l.log.WithError(err).Error("stopping detection on listener shutdown")
		}
	}()

	l.mu.Lock()
	l.local = conn.LocalAddr()
	l.mu.Unlock()
	close(l.ready)
	l.log.WithField("buffer", l.bufSize).Infof("Trigger listener started on %s", conn.LocalAddr())

	buffer := make([]byte, l.bufSize)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("Trigger listener stopping due to context cancellation")
			return nil
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(readPollInterval))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return fmt.Errorf("trigger socket closed: %w", err)
				}
				l.log.WithError(err).Warn("UDP read error")
				continue
			}
			l.handlePacket(buffer[:n], from)
		}
	}
}

func (l *Listener) handlePacket(payload []byte, from *net.UDPAddr) {
	l.mu.Lock()
	l.received++
	l.mu.Unlock()

	ev := Event{
		At:      time.Now(),
		Source:  from.String(),
		Payload: string(payload),
		Command: ParseCommand(payload),
	}
	log := l.log.WithFields(logrus.Fields{"source": ev.Source, "command": ev.Command})

	if !l.allow(from) {
		ev.Outcome = OutcomeRateLimited
		log.Warn("trigger dropped: sender over rate limit")
	} else {
		log.Debug("trigger received")
		ev.Outcome = l.handler.Handle(ev.Command)
	}

	if l.events == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		log.Warn("journal: trigger queue full, event not recorded")
	}
}

// recordEvents writes queued events until events is closed. Each write is
// bounded by recordTimeout.
func (l *Listener) recordEvents(ctx context.Context, events <-chan Event) {
	for ev := range events {
		rctx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := l.recorder.RecordTrigger(rctx, ev)
		cancel()
		if err != nil {
			l.log.WithError(err).WithField("source", ev.Source).Warn("journal: could not record trigger")
		}
	}
}

func (l *Listener) allow(from *net.UDPAddr) bool {
	if l.limit == 0 || from == nil {
		return true
	}
	key := from.IP.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.peers[key]
	if !ok {
		if len(l.peers) >= maxTrackedPeers {
			l.peers = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.peers[key] = lim
	}
	return lim.Allow()
}
