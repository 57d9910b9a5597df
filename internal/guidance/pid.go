// Package guidance closes the optical loop: two PID controllers turn the
// filtered pixel error into pitch/yaw commands, and a fixed X-mixing stage
// spreads those across the four gimbal servos.
package guidance

import "github.com/osprey-dynamics/sightline/internal/filter"

// defaultDt substitutes for non-positive frame intervals (30 fps).
const defaultDt = 0.033

// PIDConfig holds the gains and limits for one axis controller.
type PIDConfig struct {
	Kp float64
	Ki float64
	Kd float64

	// OutputMin/Max clamp the filtered controller output. The integral
	// accumulator is clamped to ±OutputMax/2 before Ki is applied
	// (anti-windup).
	OutputMin float64
	OutputMax float64

	// Alpha is the low-pass coefficient applied to the summed output
	// against the controller's own previous filtered output.
	Alpha float64
}

// PID is a single-axis controller with anti-windup and an output low-pass.
// Not safe for concurrent use.
type PID struct {
	cfg         PIDConfig
	integralMax float64

	integral   float64
	prevError  float64
	prevOutput float64
}

// NewPID returns a controller with the given configuration.
func NewPID(cfg PIDConfig) *PID {
	return &PID{
		cfg:         cfg,
		integralMax: cfg.OutputMax * 0.5,
	}
}

// Update advances the controller by one step of measured error over dt
// seconds and returns the filtered, clamped output. Non-positive dt falls
// back to the default frame interval.
func (p *PID) Update(err, dt float64) float64 {
	if dt <= 0 {
		dt = defaultDt
	}

	pTerm := p.cfg.Kp * err

	// The raw accumulator is clamped before the gain is applied.
	p.integral = filter.Clamp(p.integral+err*dt, -p.integralMax, p.integralMax)
	iTerm := p.cfg.Ki * p.integral

	dTerm := p.cfg.Kd * (err - p.prevError) / dt
	p.prevError = err

	// Low-pass against the previous filtered output, then clamp. This is
	// the controller's own smoothing stage, separate from any filtering
	// of the error signal upstream.
	out := pTerm + iTerm + dTerm
	out = p.cfg.Alpha*out + (1-p.cfg.Alpha)*p.prevOutput
	p.prevOutput = out

	return filter.Clamp(out, p.cfg.OutputMin, p.cfg.OutputMax)
}

// SetConfig installs new gains and limits, keeping the loop state. The
// accumulator is re-clamped to the new anti-windup bound.
func (p *PID) SetConfig(cfg PIDConfig) {
	p.cfg = cfg
	p.integralMax = cfg.OutputMax * 0.5
	p.integral = filter.Clamp(p.integral, -p.integralMax, p.integralMax)
}

// Reset zeroes the accumulator and memory terms, keeping the gains.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.prevOutput = 0
}
