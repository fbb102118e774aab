// Package actuator drives the robot's steering, camera gimbal and wheels.
package actuator

// Actuator accepts movement commands. Every method is fire-and-forget:
// implementations report failures through their own logging and never block
// the caller waiting for the hardware.
type Actuator interface {
	SetSteeringAngle(deg int)
	SetPanAngle(deg int)
	SetTiltAngle(deg int)
	Forward(power int)
	Backward(power int)
	Stop()
}

// Limits bounds the values sent to the hardware.
type Limits struct {
	SteeringMin, SteeringMax int
	PanMin, PanMax           int
	TiltMin, TiltMax         int
	PowerMax                 int
}

// DefaultLimits matches the servo travel of the PiCar-X chassis.
func DefaultLimits() Limits {
	return Limits{
		SteeringMin: -30, SteeringMax: 30,
		PanMin: -90, PanMax: 90,
		TiltMin: -35, TiltMax: 65,
		PowerMax: 100,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (l Limits) Steering(deg int) int { return clamp(deg, l.SteeringMin, l.SteeringMax) }
func (l Limits) Pan(deg int) int      { return clamp(deg, l.PanMin, l.PanMax) }
func (l Limits) Tilt(deg int) int     { return clamp(deg, l.TiltMin, l.TiltMax) }
func (l Limits) Power(p int) int      { return clamp(p, 0, l.PowerMax) }
