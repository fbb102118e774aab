package main

import (
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/camera"
	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/serialmux"
	"github.com/banshee-data/picar.autonav/internal/vision"
)

// Serial modes accepted by -serial.
const (
	serialReal     = "real"
	serialSim      = "sim"
	serialDisabled = "disabled"
)

// Sensor kinds accepted by -sensor.
const (
	sensorCamera   = "camera"
	sensorRedis    = "redis"
	sensorScripted = "scripted"
)

// envOr returns the environment value for key, or def when it is unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// loadSettings resolves the tuning file at path, or the built-in defaults
// when path is empty. A non-empty listen overrides the configured address.
func loadSettings(path, listen string) (config.Settings, error) {
	cfg := config.DefaultDriveConfig()
	if path != "" {
		loaded, err := config.LoadDriveConfig(path)
		if err != nil {
			return config.Settings{}, err
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.ListenAddress = &listen
	}
	return cfg.Resolve()
}

// openSerial opens the motor board link for mode.
func openSerial(mode, port string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	switch mode {
	case serialReal:
		if port == "" {
			return nil, fmt.Errorf("serial port is required")
		}
		m, err := serialmux.NewRealSerialMux(port, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	case serialSim:
		return serialmux.NewSimulatedSerialMux(), nil
	case serialDisabled:
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return nil, fmt.Errorf("unknown serial mode %q", mode)
	}
}

// newActuator drives the board through mux, or records commands only when
// there is no board to talk to.
func newActuator(mode string, dryRun bool, mux serialmux.SerialMuxInterface) actuator.Actuator {
	if dryRun || mode == serialDisabled {
		return &actuator.Recorder{}
	}
	return actuator.NewSerialDriver(mux, actuator.DefaultLimits())
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

type sensorOptions struct {
	Kind        string
	Camera      string
	Weights     string
	ModelConfig string
	Labels      string
	MinConf     float64
	RedisAddr   string
	RedisKey    string
}

// buildSensor returns the sensor for opts and a closer for anything that
// outlives a single run.
func buildSensor(opts sensorOptions, settings config.Settings) (vision.Sensor, io.Closer, error) {
	switch opts.Kind {
	case sensorCamera:
		det, err := camera.NewDNNDetector(camera.DNNOptions{
			Weights:       opts.Weights,
			Config:        opts.ModelConfig,
			Names:         opts.Labels,
			MinConfidence: float32(opts.MinConf),
		})
		if err != nil {
			return nil, nil, err
		}
		return camera.NewSensor(camera.NewVideoCamera(opts.Camera), det), det, nil
	case sensorRedis:
		if opts.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis address is required")
		}
		return vision.NewRedisSensor(vision.RedisOptions{
			Addr:   opts.RedisAddr,
			Key:    opts.RedisKey,
			MaxAge: settings.FrameMaxAge,
		}), noopCloser{}, nil
	case sensorScripted:
		return vision.NewScripted(640, 480), noopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sensor %q", opts.Kind)
	}
}
