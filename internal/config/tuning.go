package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultConfigPath is the path to the canonical drive defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/drive.defaults.json"

// Scan modes understood by the navigation package.
const (
	ScanModePan   = "pan"
	ScanModeSweep = "sweep"
)

// DriveConfig represents the root configuration for the drive loop and the
// trigger listener. Every field is optional; the Get* accessors fall back to
// the defaults the robot was originally tuned with.
type DriveConfig struct {
	// Trigger listener
	ListenAddress *string  `json:"listen_address,omitempty"`
	BufferSize    *int     `json:"buffer_size,omitempty"`
	TriggerRate   *float64 `json:"trigger_rate,omitempty"` // datagrams per second per sender
	TriggerBurst  *int     `json:"trigger_burst,omitempty"`
	JoinTimeout   *string  `json:"join_timeout,omitempty"` // duration string like "10s"

	// Obstacle evaluation and recovery escalation
	Power                 *int     `json:"power,omitempty"`
	ObstacleAreaThreshold *float64 `json:"obstacle_area_threshold,omitempty"`
	NoDetectionThreshold  *int     `json:"no_detection_threshold,omitempty"`
	BackupThreshold       *int     `json:"backup_threshold,omitempty"`
	RecoverySteering      *int     `json:"recovery_steering,omitempty"`

	// Active scanning
	ScanMode       *string `json:"scan_mode,omitempty"`
	PanMax         *int    `json:"pan_max,omitempty"`
	PanStep        *int    `json:"pan_step,omitempty"`
	TiltAngle      *int    `json:"tilt_angle,omitempty"`
	SweepStepDelay *string `json:"sweep_step_delay,omitempty"`

	// Cycle timing
	StopSettle   *string `json:"stop_settle,omitempty"`
	StopPause    *string `json:"stop_pause,omitempty"`
	ForwardHold  *string `json:"forward_hold,omitempty"`
	RecoveryHold *string `json:"recovery_hold,omitempty"`
	BackwardHold *string `json:"backward_hold,omitempty"`
	CycleDelay   *string `json:"cycle_delay,omitempty"`

	// Remote detection feed
	FrameMaxAge *string `json:"frame_max_age,omitempty"`
}

// Settings is the fully resolved configuration handed to the runtime
// components. It carries no optional fields.
type Settings struct {
	ListenAddress string        `validate:"required,hostname_port"`
	BufferSize    int           `validate:"gte=16,lte=65536"`
	TriggerRate   float64       `validate:"gt=0"`
	TriggerBurst  int           `validate:"gte=1"`
	JoinTimeout   time.Duration `validate:"gte=0"`

	Power                 int     `validate:"gte=0,lte=100"`
	ObstacleAreaThreshold float64 `validate:"gt=0,lte=1"`
	NoDetectionThreshold  int     `validate:"gte=1"`
	BackupThreshold       int     `validate:"gte=1"`
	RecoverySteering      int     `validate:"gte=0,lte=45"`

	ScanMode       string        `validate:"oneof=pan sweep"`
	PanMax         int           `validate:"gte=0,lte=90"`
	PanStep        int           `validate:"gte=0,lte=90"`
	TiltAngle      int           `validate:"gte=-35,lte=65"`
	SweepStepDelay time.Duration `validate:"gte=0"`

	StopSettle   time.Duration `validate:"gte=0"`
	StopPause    time.Duration `validate:"gte=0"`
	ForwardHold  time.Duration `validate:"gte=0"`
	RecoveryHold time.Duration `validate:"gte=0"`
	BackwardHold time.Duration `validate:"gte=0"`
	CycleDelay   time.Duration `validate:"gte=0"`

	FrameMaxAge time.Duration `validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyDriveConfig returns a DriveConfig with all fields set to nil.
// Use LoadDriveConfig to load actual values from the defaults file.
func EmptyDriveConfig() *DriveConfig {
	return &DriveConfig{}
}

// DefaultDriveConfig returns a DriveConfig with every field populated with
// its default value.
func DefaultDriveConfig() *DriveConfig {
	return &DriveConfig{
		ListenAddress:         ptrString("0.0.0.0:6000"),
		BufferSize:            ptrInt(1024),
		TriggerRate:           ptrFloat64(5),
		TriggerBurst:          ptrInt(5),
		JoinTimeout:           ptrString("10s"),
		Power:                 ptrInt(30),
		ObstacleAreaThreshold: ptrFloat64(0.25),
		NoDetectionThreshold:  ptrInt(3),
		BackupThreshold:       ptrInt(3),
		RecoverySteering:      ptrInt(30),
		ScanMode:              ptrString(ScanModePan),
		PanMax:                ptrInt(30),
		PanStep:               ptrInt(5),
		TiltAngle:             ptrInt(0),
		SweepStepDelay:        ptrString("10ms"),
		StopSettle:            ptrString("200ms"),
		StopPause:             ptrString("500ms"),
		ForwardHold:           ptrString("500ms"),
		RecoveryHold:          ptrString("1.5s"),
		BackwardHold:          ptrString("3s"),
		CycleDelay:            ptrString("100ms"),
		FrameMaxAge:           ptrString("1s"),
	}
}

// LoadDriveConfig loads a DriveConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadDriveConfig(path string) (*DriveConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDriveConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DriveConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadDriveConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the values that are set are usable. Unset fields are
// always valid because they resolve to defaults.
func (c *DriveConfig) Validate() error {
	if c.ObstacleAreaThreshold != nil {
		if *c.ObstacleAreaThreshold <= 0 || *c.ObstacleAreaThreshold > 1 {
			return fmt.Errorf("obstacle_area_threshold must be in (0, 1], got %f", *c.ObstacleAreaThreshold)
		}
	}
	if c.BackupThreshold != nil && *c.BackupThreshold < 1 {
		return fmt.Errorf("backup_threshold must be at least 1, got %d", *c.BackupThreshold)
	}
	if c.NoDetectionThreshold != nil && *c.NoDetectionThreshold < 1 {
		return fmt.Errorf("no_detection_threshold must be at least 1, got %d", *c.NoDetectionThreshold)
	}
	if c.ScanMode != nil && *c.ScanMode != ScanModePan && *c.ScanMode != ScanModeSweep {
		return fmt.Errorf("scan_mode must be %q or %q, got %q", ScanModePan, ScanModeSweep, *c.ScanMode)
	}

	durations := map[string]*string{
		"join_timeout":     c.JoinTimeout,
		"sweep_step_delay": c.SweepStepDelay,
		"stop_settle":      c.StopSettle,
		"stop_pause":       c.StopPause,
		"forward_hold":     c.ForwardHold,
		"recovery_hold":    c.RecoveryHold,
		"backward_hold":    c.BackwardHold,
		"cycle_delay":      c.CycleDelay,
		"frame_max_age":    c.FrameMaxAge,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, *v)
		}
	}

	return nil
}

// Resolve applies defaults to every unset field and validates the result.
func (c *DriveConfig) Resolve() (Settings, error) {
	s := Settings{
		ListenAddress:         c.GetListenAddress(),
		BufferSize:            c.GetBufferSize(),
		TriggerRate:           c.GetTriggerRate(),
		TriggerBurst:          c.GetTriggerBurst(),
		JoinTimeout:           c.GetJoinTimeout(),
		Power:                 c.GetPower(),
		ObstacleAreaThreshold: c.GetObstacleAreaThreshold(),
		NoDetectionThreshold:  c.GetNoDetectionThreshold(),
		BackupThreshold:       c.GetBackupThreshold(),
		RecoverySteering:      c.GetRecoverySteering(),
		ScanMode:              c.GetScanMode(),
		PanMax:                c.GetPanMax(),
		PanStep:               c.GetPanStep(),
		TiltAngle:             c.GetTiltAngle(),
		SweepStepDelay:        c.GetSweepStepDelay(),
		StopSettle:            c.GetStopSettle(),
		StopPause:             c.GetStopPause(),
		ForwardHold:           c.GetForwardHold(),
		RecoveryHold:          c.GetRecoveryHold(),
		BackwardHold:          c.GetBackwardHold(),
		CycleDelay:            c.GetCycleDelay(),
		FrameMaxAge:           c.GetFrameMaxAge(),
	}
	if err := validate.Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// DefaultSettings resolves DefaultDriveConfig. It cannot fail.
func DefaultSettings() Settings {
	s, err := DefaultDriveConfig().Resolve()
	if err != nil {
		panic(err)
	}
	return s
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetListenAddress returns the listen_address value or the default.
func (c *DriveConfig) GetListenAddress() string {
	if c.ListenAddress == nil || *c.ListenAddress == "" {
		return "0.0.0.0:6000"
	}
	return *c.ListenAddress
}

// GetBufferSize returns the buffer_size value or the default.
func (c *DriveConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 1024
	}
	return *c.BufferSize
}

// GetTriggerRate returns the trigger_rate value or the default.
func (c *DriveConfig) GetTriggerRate() float64 {
	if c.TriggerRate == nil {
		return 5
	}
	return *c.TriggerRate
}

// GetTriggerBurst returns the trigger_burst value or the default.
func (c *DriveConfig) GetTriggerBurst() int {
	if c.TriggerBurst == nil {
		return 5
	}
	return *c.TriggerBurst
}

// GetJoinTimeout returns the join_timeout value or the default.
func (c *DriveConfig) GetJoinTimeout() time.Duration {
	return durationOr(c.JoinTimeout, 10*time.Second)
}

// GetPower returns the power value or the default.
func (c *DriveConfig) GetPower() int {
	if c.Power == nil {
		return 30
	}
	return *c.Power
}

// GetObstacleAreaThreshold returns the obstacle_area_threshold value or the default.
func (c *DriveConfig) GetObstacleAreaThreshold() float64 {
	if c.ObstacleAreaThreshold == nil {
		return 0.25
	}
	return *c.ObstacleAreaThreshold
}

// GetNoDetectionThreshold returns the no_detection_threshold value or the default.
func (c *DriveConfig) GetNoDetectionThreshold() int {
	if c.NoDetectionThreshold == nil {
		return 3
	}
	return *c.NoDetectionThreshold
}

// GetBackupThreshold returns the backup_threshold value or the default.
func (c *DriveConfig) GetBackupThreshold() int {
	if c.BackupThreshold == nil {
		return 3
	}
	return *c.BackupThreshold
}

// GetRecoverySteering returns the recovery_steering value or the default.
func (c *DriveConfig) GetRecoverySteering() int {
	if c.RecoverySteering == nil {
		return 30
	}
	return *c.RecoverySteering
}

// GetScanMode returns the scan_mode value or the default.
func (c *DriveConfig) GetScanMode() string {
	if c.ScanMode == nil || *c.ScanMode == "" {
		return ScanModePan
	}
	return *c.ScanMode
}

// GetPanMax returns the pan_max value or the default.
func (c *DriveConfig) GetPanMax() int {
	if c.PanMax == nil {
		return 30
	}
	return *c.PanMax
}

// GetPanStep returns the pan_step value or the default.
func (c *DriveConfig) GetPanStep() int {
	if c.PanStep == nil {
		return 5
	}
	return *c.PanStep
}

// GetTiltAngle returns the tilt_angle value or the default.
func (c *DriveConfig) GetTiltAngle() int {
	if c.TiltAngle == nil {
		return 0
	}
	return *c.TiltAngle
}

// GetSweepStepDelay returns the sweep_step_delay value or the default.
func (c *DriveConfig) GetSweepStepDelay() time.Duration {
	return durationOr(c.SweepStepDelay, 10*time.Millisecond)
}

// GetStopSettle returns the stop_settle value or the default.
func (c *DriveConfig) GetStopSettle() time.Duration {
	return durationOr(c.StopSettle, 200*time.Millisecond)
}

// GetStopPause returns the stop_pause value or the default.
func (c *DriveConfig) GetStopPause() time.Duration {
	return durationOr(c.StopPause, 500*time.Millisecond)
}

// GetForwardHold returns the forward_hold value or the default.
func (c *DriveConfig) GetForwardHold() time.Duration {
	return durationOr(c.ForwardHold, 500*time.Millisecond)
}

// GetRecoveryHold returns the recovery_hold value or the default.
func (c *DriveConfig) GetRecoveryHold() time.Duration {
	return durationOr(c.RecoveryHold, 1500*time.Millisecond)
}

// GetBackwardHold returns the backward_hold value or the default.
func (c *DriveConfig) GetBackwardHold() time.Duration {
	return durationOr(c.BackwardHold, 3*time.Second)
}

// GetCycleDelay returns the cycle_delay value or the default.
func (c *DriveConfig) GetCycleDelay() time.Duration {
	return durationOr(c.CycleDelay, 100*time.Millisecond)
}

// GetFrameMaxAge returns the frame_max_age value or the default.
func (c *DriveConfig) GetFrameMaxAge() time.Duration {
	return durationOr(c.FrameMaxAge, time.Second)
}
