package serialmux

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ReplyAck     = "ack"
	ReplyError   = "error"
	ReplyBattery = "battery"
	ReplyUnknown = "unknown"
)

// ClassifyReply returns the kind of a line sent back by the motor board.
func ClassifyReply(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK" || strings.HasPrefix(line, "OK "):
		return ReplyAck
	case line == "ERR" || strings.HasPrefix(line, "ERR "):
		return ReplyError
	case strings.HasPrefix(line, "BATT "):
		return ReplyBattery
	default:
		return ReplyUnknown
	}
}

// BoardStatus is a point-in-time copy of BoardState.
type BoardStatus struct {
	Acks           int       `json:"acks"`
	Errors         int       `json:"errors"`
	LastError      string    `json:"last_error,omitempty"`
	BatteryVolts   float64   `json:"battery_volts,omitempty"`
	LastReplyAt    time.Time `json:"last_reply_at,omitempty"`
	UnknownReplies int       `json:"unknown_replies"`
}

// BoardState accumulates what the motor board has reported.
type BoardState struct {
	mu     sync.Mutex
	status BoardStatus
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewBoardState returns an empty state that logs through log.
func NewBoardState(log logrus.FieldLogger) *BoardState {
	return &BoardState{now: time.Now, log: log}
}

// HandleReply folds one reply line into the state.
func (b *BoardState) HandleReply(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.LastReplyAt = b.now()
	switch ClassifyReply(line) {
	case ReplyAck:
		b.status.Acks++
	case ReplyError:
		b.status.Errors++
		b.status.LastError = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "ERR"))
		b.log.WithField("reply", line).Warn("motor board reported an error")
	case ReplyBattery:
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "BATT ")), 64)
		if err != nil {
			b.status.UnknownReplies++
			return
		}
		b.status.BatteryVolts = v
	default:
		b.status.UnknownReplies++
		b.log.WithField("reply", line).Debug("unrecognised motor board reply")
	}
}

// Status returns a copy of the current state.
func (b *BoardState) Status() BoardStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Watch subscribes to mux and folds every line into the state until ctx is
// done or the mux closes the subscription.
func (b *BoardState) Watch(ctx context.Context, mux SerialMuxInterface) {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			b.HandleReply(line)
		}
	}
}
