package serialmux

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in when no motor board is attached. Commands are
// validated and counted, then dropped; no replies ever arrive.
type DisabledSerialMux struct {
	replies hub
	sent    atomic.Int64
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)

func NewDisabledSerialMux() *DisabledSerialMux { return &DisabledSerialMux{} }

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.replies.subscribe() }

func (d *DisabledSerialMux) Unsubscribe(id string) { d.replies.unsubscribe(id) }

func (d *DisabledSerialMux) SendCommand(command string) error {
	if _, err := FrameCommand(command); err != nil {
		return err
	}
	if d.replies.isClosed() {
		return ErrClosed
	}
	d.sent.Add(1)
	return nil
}

// Sent is how many commands were accepted and dropped.
func (d *DisabledSerialMux) Sent() int64 { return d.sent.Load() }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.replies.close()
	return nil
}

func (d *DisabledSerialMux) Initialize() error {
	for _, command := range InitCommands {
		if err := d.SendCommand(command); err != nil {
			return err
		}
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
	tsweb.Debugger(mux).KVFunc("Motor board", func() any {
		return fmt.Sprintf("disabled, %d commands dropped", d.Sent())
	})
}
