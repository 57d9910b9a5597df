package guidance

import (
	"github.com/osprey-dynamics/sightline/internal/filter"
	"github.com/osprey-dynamics/sightline/internal/monitoring"
)

// ServoCount is the number of gimbal actuators in the X configuration.
const ServoCount = 4

// Default loop tuning, matched to the flight-proven values.
const (
	DefaultKp     = 0.5
	DefaultKi     = 0.0
	DefaultKd     = 0.1
	DefaultAlpha  = 0.6
	DefaultCmdMax = 25.0
)

// Config holds the guidance loop tuning.
type Config struct {
	// Yaw and Pitch configure the two axis controllers.
	Yaw   PIDConfig
	Pitch PIDConfig

	// Alpha low-passes the raw pixel error before it reaches the PIDs.
	// This is a separate, cascaded stage from each PID's output filter.
	Alpha float64

	// CmdMax bounds the mixed servo commands to [-CmdMax, CmdMax]
	// degrees.
	CmdMax float64
}

// DefaultConfig returns the default guidance tuning.
func DefaultConfig() Config {
	pid := PIDConfig{
		Kp:        DefaultKp,
		Ki:        DefaultKi,
		Kd:        DefaultKd,
		OutputMin: -DefaultCmdMax,
		OutputMax: DefaultCmdMax,
		Alpha:     DefaultAlpha,
	}
	return Config{
		Yaw:    pid,
		Pitch:  pid,
		Alpha:  DefaultAlpha,
		CmdMax: DefaultCmdMax,
	}
}

// Controller runs the two-axis PID loop and mixes the commands into four
// servo angles. Updates are ignored until Start is called.
//
// Not safe for concurrent use; callers serialise access.
type Controller struct {
	cfg Config

	yaw   *PID
	pitch *PID

	filteredErrX float64
	filteredErrY float64

	pitchCmd float64
	yawCmd   float64

	servoAngles [ServoCount]float64

	tracking bool
}

// NewController returns a stopped controller with the given tuning.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:   cfg,
		yaw:   NewPID(cfg.Yaw),
		pitch: NewPID(cfg.Pitch),
	}
}

// SetConfig installs new tuning without disturbing the loop state, so
// gains can change mid-engagement.
func (c *Controller) SetConfig(cfg Config) {
	c.cfg = cfg
	c.yaw.SetConfig(cfg.Yaw)
	c.pitch.SetConfig(cfg.Pitch)
	monitoring.Logf("guidance: retuned")
}

// Start activates the loop, resetting both PIDs and the error filters.
func (c *Controller) Start() {
	c.tracking = true
	c.filteredErrX = 0
	c.filteredErrY = 0
	c.yaw.Reset()
	c.pitch.Reset()
	monitoring.Logf("guidance: started")
}

// Stop deactivates the loop and zeroes the commands and servo angles.
func (c *Controller) Stop() {
	c.tracking = false
	c.pitchCmd = 0
	c.yawCmd = 0
	c.servoAngles = [ServoCount]float64{}
	monitoring.Logf("guidance: stopped")
}

// Active reports whether the loop is running.
func (c *Controller) Active() bool { return c.tracking }

// MixX converts pitch/yaw commands into the four X-configuration servo
// angles before clamping. The anti-symmetric pairs satisfy s0+s2 = 0 and
// s1+s3 = 0.
func MixX(pitch, yaw float64) [ServoCount]float64 {
	return [ServoCount]float64{
		pitch + yaw,
		pitch - yaw,
		-pitch - yaw,
		-pitch + yaw,
	}
}

// Update advances the loop with a raw pixel error over dt seconds. The
// error is low-passed, fed through the axis PIDs (pitch sign-inverted:
// target below centre tilts the gimbal up), mixed into servo angles and
// clamped. A no-op unless the loop has been started.
func (c *Controller) Update(errorX, errorY, dt float64) {
	if !c.tracking {
		return
	}

	a := c.cfg.Alpha
	c.filteredErrX = a*errorX + (1-a)*c.filteredErrX
	c.filteredErrY = a*errorY + (1-a)*c.filteredErrY

	c.yawCmd = c.yaw.Update(c.filteredErrX, dt)
	c.pitchCmd = -c.pitch.Update(c.filteredErrY, dt)

	mixed := MixX(c.pitchCmd, c.yawCmd)
	for i, v := range mixed {
		c.servoAngles[i] = filter.Clamp(v, -c.cfg.CmdMax, c.cfg.CmdMax)
	}
}

// Commands returns the current pitch and yaw commands in degrees.
func (c *Controller) Commands() (pitch, yaw float64) {
	return c.pitchCmd, c.yawCmd
}

// ServoAngles returns the four mixed, clamped servo angles in degrees.
func (c *Controller) ServoAngles() [ServoCount]float64 {
	return c.servoAngles
}

// FilteredError returns the current low-passed pixel error.
func (c *Controller) FilteredError() (x, y float64) {
	return c.filteredErrX, c.filteredErrY
}
