package trigger

import (
	"context"
	"fmt"
	"net"
)

// Send writes cmd as a single datagram to addr. There is no reply to wait
// for; a nil error only means the datagram left this host.
func Send(ctx context.Context, addr string, cmd Command) error {
	payload := cmd.Payload()
	if payload == nil {
		return fmt.Errorf("cannot send %s trigger", cmd)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send %s to %s: %w", cmd, addr, err)
	}
	return nil
}
