package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the motor board's factory line speed.
const DefaultBaudRate = 115200

// PortOptions are the line settings for the board's serial port. Zero values
// take the board defaults, 115200 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
}

// DefaultMode is the board's line setting.
func DefaultMode() *serial.Mode {
	return &serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
}

// Mode validates the options and converts them for go.bug.st/serial.
func (o PortOptions) Mode() (*serial.Mode, error) {
	mode := DefaultMode()
	if o.BaudRate > 0 {
		mode.BaudRate = o.BaudRate
	}

	switch o.DataBits {
	case 0:
	case 5, 6, 7, 8:
		mode.DataBits = o.DataBits
	default:
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}

	switch o.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	if p := strings.ToUpper(strings.TrimSpace(o.Parity)); p != "" {
		parity, ok := parities[p]
		if !ok {
			return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
		}
		mode.Parity = parity
	}
	return mode, nil
}
