package actuator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
)

// Commander sends one line to the motor board. serialmux.SerialMuxInterface
// satisfies it.
type Commander interface {
	SendCommand(string) error
}

// SerialDriver translates actuator calls into motor board command lines.
type SerialDriver struct {
	cmd    Commander
	limits Limits
	log    logrus.FieldLogger
}

var _ Actuator = (*SerialDriver)(nil)

// NewSerialDriver returns a driver writing to cmd.
func NewSerialDriver(cmd Commander, limits Limits) *SerialDriver {
	return &SerialDriver{cmd: cmd, limits: limits, log: monitoring.Component("actuator")}
}

// SetLogger replaces the driver's logger.
func (d *SerialDriver) SetLogger(l logrus.FieldLogger) { d.log = l }

func (d *SerialDriver) send(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if err := d.cmd.SendCommand(line); err != nil {
		d.log.WithError(err).WithField("command", line).Warn("motor board command failed")
	}
}

func (d *SerialDriver) SetSteeringAngle(deg int) { d.send("STEER %d", d.limits.Steering(deg)) }
func (d *SerialDriver) SetPanAngle(deg int)      { d.send("PAN %d", d.limits.Pan(deg)) }
func (d *SerialDriver) SetTiltAngle(deg int)     { d.send("TILT %d", d.limits.Tilt(deg)) }
func (d *SerialDriver) Forward(power int)        { d.send("FWD %d", d.limits.Power(power)) }
func (d *SerialDriver) Backward(power int)       { d.send("BWD %d", d.limits.Power(power)) }
func (d *SerialDriver) Stop()                    { d.send("STOP") }
