// Command trigger starts or stops the detection loop on a robot.
//
//	trigger -addr picar.local:6000 start
//	trigger -addr picar.local:6000 -status http://picar.local:8080 stop
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/picar.autonav/internal/httputil"
	"github.com/banshee-data/picar.autonav/internal/trigger"
)

var (
	addr      = flag.String("addr", "127.0.0.1:6000", "Robot trigger address")
	statusURL = flag.String("status", "", "Robot admin URL; when set, wait for the run state to change")
	timeout   = flag.Duration("timeout", 5*time.Second, "How long to wait for the send and the state change")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] start|stop\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := httputil.NewStandardClient(&http.Client{Timeout: time.Second})
	if err := run(ctx, os.Stdout, client, *addr, *statusURL, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type robotStatus struct {
	State  string `json:"state"`
	Starts int    `json:"starts"`
}

// run sends cmdName to addr and, when statusURL is set, polls the admin API
// until the robot reports the state the command asks for.
func run(ctx context.Context, out io.Writer, client httputil.HTTPClient, addr, statusURL, cmdName string) error {
	cmd, err := trigger.CommandFromName(cmdName)
	if err != nil {
		return err
	}
	if err := trigger.Send(ctx, addr, cmd); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s to %s\n", cmd, addr)
	if statusURL == "" {
		return nil
	}

	want := trigger.Stopped.String()
	if cmd == trigger.Start {
		want = trigger.Running.String()
	}
	return waitForState(ctx, out, client, statusURL+"/api/status", want, 100*time.Millisecond)
}

func waitForState(ctx context.Context, out io.Writer, client httputil.HTTPClient, url, want string, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last robotStatus
	for {
		err := httputil.GetJSON(ctx, client, url, &last)
		if err == nil && last.State == want {
			fmt.Fprintf(out, "robot is %s (loops started: %d)\n", last.State, last.Starts)
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("robot did not report %s: %w", want, err)
			}
			return fmt.Errorf("robot did not report %s, still %s", want, last.State)
		case <-ticker.C:
		}
	}
}
