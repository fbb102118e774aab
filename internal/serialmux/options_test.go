package serialmux

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Mode(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		want    serial.Mode
		wantErr bool
	}{
		{name: "defaults", opts: PortOptions{}, want: *DefaultMode()},
		{
			name: "explicit 7E2",
			opts: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"},
			want: serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits},
		},
		{
			name: "parity alias",
			opts: PortOptions{Parity: " o "},
			want: serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.OddParity, StopBits: serial.OneStopBit},
		},
		{name: "bad data bits", opts: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", opts: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", opts: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Mode()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Mode() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Mode() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("Mode() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestOpenSerialMux(t *testing.T) {
	port := NewFakePort()
	factory := &FakePortFactory{Port: port}

	mux, err := OpenSerialMux(factory, "/dev/ttyAMA0", PortOptions{BaudRate: 57600})
	if err != nil {
		t.Fatalf("OpenSerialMux() error = %v", err)
	}
	if len(factory.Opened) != 1 {
		t.Fatalf("Open calls = %d", len(factory.Opened))
	}
	call := factory.Opened[0]
	if call.Path != "/dev/ttyAMA0" || call.Mode.BaudRate != 57600 {
		t.Errorf("Open(%q, %+v)", call.Path, call.Mode)
	}
	if err := mux.SendCommand("STOP"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := port.Written(); len(got) != 1 || got[0] != "STOP" {
		t.Errorf("written = %q", got)
	}
}

func TestOpenSerialMux_Errors(t *testing.T) {
	openErr := errors.New("permission denied")
	_, err := OpenSerialMux(&FakePortFactory{Err: openErr}, "/dev/ttyAMA0", PortOptions{})
	if !errors.Is(err, openErr) {
		t.Errorf("open error = %v, want wrapped %v", err, openErr)
	}

	factory := &FakePortFactory{Port: NewFakePort()}
	if _, err := OpenSerialMux(factory, "/dev/ttyAMA0", PortOptions{Parity: "X"}); err == nil {
		t.Error("invalid options were accepted")
	}
	if len(factory.Opened) != 0 {
		t.Error("port opened despite invalid options")
	}
}

func TestNewRealSerialMux_MissingDevice(t *testing.T) {
	if _, err := NewRealSerialMux("/dev/picar-no-such-board", PortOptions{}); err == nil {
		t.Error("opening a missing device succeeded")
	}
}
