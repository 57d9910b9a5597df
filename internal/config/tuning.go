package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/osprey-dynamics/sightline/internal/guidance"
	"github.com/osprey-dynamics/sightline/internal/serialmux"
)

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Guidance params
	Kp     *float64 `json:"kp,omitempty"`
	Ki     *float64 `json:"ki,omitempty"`
	Kd     *float64 `json:"kd,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"`
	CmdMax *float64 `json:"cmd_max,omitempty"`

	// Tracking params
	MinScore         *float64 `json:"min_score,omitempty"`
	EnablePrediction *bool    `json:"enable_prediction,omitempty"`
	ImageWidth       *int     `json:"image_width,omitempty"`
	ImageHeight      *int     `json:"image_height,omitempty"`

	// Fusion params
	FusionAlpha *float64 `json:"fusion_alpha,omitempty"`

	// Serial buses
	ServoPort        *string                `json:"servo_port,omitempty"`
	ServoPortOptions *serialmux.PortOptions `json:"servo_port_options,omitempty"`
	GpsPort          *string                `json:"gps_port,omitempty"`
	GpsPortOptions   *serialmux.PortOptions `json:"gps_port_options,omitempty"`

	// Telemetry params
	TelemetryInterval *string `json:"telemetry_interval,omitempty"` // duration string like "16ms"

	// Storage params
	DBPath *string `json:"db_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the JSON file retain their default values, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Alpha != nil {
		if *c.Alpha <= 0 || *c.Alpha > 1 {
			return fmt.Errorf("alpha must be in (0, 1], got %f", *c.Alpha)
		}
	}

	if c.FusionAlpha != nil {
		if *c.FusionAlpha < 0 || *c.FusionAlpha > 1 {
			return fmt.Errorf("fusion_alpha must be between 0 and 1, got %f", *c.FusionAlpha)
		}
	}

	if c.CmdMax != nil && *c.CmdMax <= 0 {
		return fmt.Errorf("cmd_max must be positive, got %f", *c.CmdMax)
	}

	if c.MinScore != nil {
		if *c.MinScore < 0 || *c.MinScore > 1 {
			return fmt.Errorf("min_score must be between 0 and 1, got %f", *c.MinScore)
		}
	}

	if c.ImageWidth != nil && *c.ImageWidth <= 0 {
		return fmt.Errorf("image_width must be positive, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight <= 0 {
		return fmt.Errorf("image_height must be positive, got %d", *c.ImageHeight)
	}

	if c.TelemetryInterval != nil && *c.TelemetryInterval != "" {
		if _, err := time.ParseDuration(*c.TelemetryInterval); err != nil {
			return fmt.Errorf("invalid telemetry_interval '%s': %w", *c.TelemetryInterval, err)
		}
	}

	if c.ServoPortOptions != nil {
		if _, err := c.ServoPortOptions.Normalize(); err != nil {
			return fmt.Errorf("invalid servo_port_options: %w", err)
		}
	}
	if c.GpsPortOptions != nil {
		if _, err := c.GpsPortOptions.Normalize(); err != nil {
			return fmt.Errorf("invalid gps_port_options: %w", err)
		}
	}

	return nil
}

// Merge copies every field set in o over the receiver, leaving fields o
// omits untouched. Used for partial runtime updates.
func (c *TuningConfig) Merge(o *TuningConfig) {
	if o.Kp != nil {
		c.Kp = o.Kp
	}
	if o.Ki != nil {
		c.Ki = o.Ki
	}
	if o.Kd != nil {
		c.Kd = o.Kd
	}
	if o.Alpha != nil {
		c.Alpha = o.Alpha
	}
	if o.CmdMax != nil {
		c.CmdMax = o.CmdMax
	}
	if o.MinScore != nil {
		c.MinScore = o.MinScore
	}
	if o.EnablePrediction != nil {
		c.EnablePrediction = o.EnablePrediction
	}
	if o.ImageWidth != nil {
		c.ImageWidth = o.ImageWidth
	}
	if o.ImageHeight != nil {
		c.ImageHeight = o.ImageHeight
	}
	if o.FusionAlpha != nil {
		c.FusionAlpha = o.FusionAlpha
	}
	if o.ServoPort != nil {
		c.ServoPort = o.ServoPort
	}
	if o.ServoPortOptions != nil {
		c.ServoPortOptions = o.ServoPortOptions
	}
	if o.GpsPort != nil {
		c.GpsPort = o.GpsPort
	}
	if o.GpsPortOptions != nil {
		c.GpsPortOptions = o.GpsPortOptions
	}
	if o.TelemetryInterval != nil {
		c.TelemetryInterval = o.TelemetryInterval
	}
	if o.DBPath != nil {
		c.DBPath = o.DBPath
	}
}

// GetKp returns the kp value or the default.
func (c *TuningConfig) GetKp() float64 {
	if c.Kp == nil {
		return guidance.DefaultKp
	}
	return *c.Kp
}

// GetKi returns the ki value or the default.
func (c *TuningConfig) GetKi() float64 {
	if c.Ki == nil {
		return guidance.DefaultKi
	}
	return *c.Ki
}

// GetKd returns the kd value or the default.
func (c *TuningConfig) GetKd() float64 {
	if c.Kd == nil {
		return guidance.DefaultKd
	}
	return *c.Kd
}

// GetAlpha returns the alpha value or the default.
func (c *TuningConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return guidance.DefaultAlpha
	}
	return *c.Alpha
}

// GetCmdMax returns the cmd_max value or the default.
func (c *TuningConfig) GetCmdMax() float64 {
	if c.CmdMax == nil {
		return guidance.DefaultCmdMax
	}
	return *c.CmdMax
}

// GuidanceConfig assembles a guidance configuration from the tuning values.
func (c *TuningConfig) GuidanceConfig() guidance.Config {
	pid := guidance.PIDConfig{
		Kp:        c.GetKp(),
		Ki:        c.GetKi(),
		Kd:        c.GetKd(),
		OutputMin: -c.GetCmdMax(),
		OutputMax: c.GetCmdMax(),
		Alpha:     c.GetAlpha(),
	}
	return guidance.Config{
		Yaw:    pid,
		Pitch:  pid,
		Alpha:  c.GetAlpha(),
		CmdMax: c.GetCmdMax(),
	}
}

// GetMinScore returns the min_score value or the default.
func (c *TuningConfig) GetMinScore() float64 {
	if c.MinScore == nil {
		return 0.4
	}
	return *c.MinScore
}

// GetEnablePrediction returns the enable_prediction value or the default.
func (c *TuningConfig) GetEnablePrediction() bool {
	if c.EnablePrediction == nil {
		return false // default: coasting disabled
	}
	return *c.EnablePrediction
}

// GetImageWidth returns the image_width value or the default.
func (c *TuningConfig) GetImageWidth() int {
	if c.ImageWidth == nil {
		return 1280
	}
	return *c.ImageWidth
}

// GetImageHeight returns the image_height value or the default.
func (c *TuningConfig) GetImageHeight() int {
	if c.ImageHeight == nil {
		return 720
	}
	return *c.ImageHeight
}

// GetFusionAlpha returns the fusion_alpha value or the default.
func (c *TuningConfig) GetFusionAlpha() float64 {
	if c.FusionAlpha == nil {
		return 0.98
	}
	return *c.FusionAlpha
}

// GetServoPort returns the servo_port value or the default.
func (c *TuningConfig) GetServoPort() string {
	if c.ServoPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.ServoPort
}

// GetServoPortOptions returns the servo port options or the defaults.
func (c *TuningConfig) GetServoPortOptions() serialmux.PortOptions {
	if c.ServoPortOptions == nil {
		return serialmux.PortOptions{BaudRate: 115200}
	}
	return *c.ServoPortOptions
}

// GetGpsPort returns the gps_port value or the default.
func (c *TuningConfig) GetGpsPort() string {
	if c.GpsPort == nil {
		return "/dev/ttyUSB1"
	}
	return *c.GpsPort
}

// GetGpsPortOptions returns the gps port options or the defaults.
func (c *TuningConfig) GetGpsPortOptions() serialmux.PortOptions {
	if c.GpsPortOptions == nil {
		return serialmux.PortOptions{BaudRate: 115200}
	}
	return *c.GpsPortOptions
}

// GetTelemetryInterval parses and returns the telemetry interval.
func (c *TuningConfig) GetTelemetryInterval() time.Duration {
	if c.TelemetryInterval == nil || *c.TelemetryInterval == "" {
		return 16 * time.Millisecond // ~60Hz default
	}
	d, err := time.ParseDuration(*c.TelemetryInterval)
	if err != nil {
		return 16 * time.Millisecond // default on parse error
	}
	return d
}

// GetDBPath returns the db_path value or the default.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "sightline.db"
	}
	return *c.DBPath
}
