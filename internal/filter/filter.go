// Package filter provides the smoothing primitives shared across the
// pipeline: IIR low-pass stages, a windowed moving average, a
// complementary blend, deadzone and clamping helpers. Each filter is a
// small owned struct; none are safe for concurrent use.
package filter

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Deadzone holds last while v stays within dz of it, suppressing jitter
// around a settled value.
func Deadzone(v, dz, last float64) float64 {
	if v > last-dz && v < last+dz {
		return last
	}
	return v
}

// LowPass is a first-order IIR filter y = alpha*x + (1-alpha)*y. The
// first sample initialises the output directly.
type LowPass struct {
	Alpha float64

	y      float64
	primed bool
}

// Update feeds one sample and returns the filtered value.
func (f *LowPass) Update(x float64) float64 {
	if !f.primed {
		f.y = x
		f.primed = true
		return f.y
	}
	f.y = f.Alpha*x + (1-f.Alpha)*f.y
	return f.y
}

// Value returns the current output without advancing the filter.
func (f *LowPass) Value() float64 { return f.y }

// Reset discards the state, keeping the coefficient.
func (f *LowPass) Reset() {
	f.y = 0
	f.primed = false
}

// VecLowPass low-passes a 3-channel vector, one IIR stage per channel.
type VecLowPass struct {
	x, y, z LowPass
}

// NewVecLowPass returns a vector filter with the same alpha on all
// channels.
func NewVecLowPass(alpha float64) *VecLowPass {
	return &VecLowPass{
		x: LowPass{Alpha: alpha},
		y: LowPass{Alpha: alpha},
		z: LowPass{Alpha: alpha},
	}
}

// Update feeds one vector sample and returns the filtered vector.
func (f *VecLowPass) Update(x, y, z float64) (fx, fy, fz float64) {
	return f.x.Update(x), f.y.Update(y), f.z.Update(z)
}

// Reset discards the state of all three channels.
func (f *VecLowPass) Reset() {
	f.x.Reset()
	f.y.Reset()
	f.z.Reset()
}

// maxWindow bounds the moving-average ring buffer.
const maxWindow = 64

// MovingAverage is a windowed mean over the last Window samples.
type MovingAverage struct {
	buf   [maxWindow]float64
	size  int
	count int
	head  int
	sum   float64
}

// NewMovingAverage returns an average over a window of n samples,
// capped at 64.
func NewMovingAverage(n int) *MovingAverage {
	if n < 1 {
		n = 1
	}
	if n > maxWindow {
		n = maxWindow
	}
	return &MovingAverage{size: n}
}

// Update feeds one sample and returns the mean of the window so far.
func (m *MovingAverage) Update(x float64) float64 {
	if m.count == m.size {
		m.sum -= m.buf[m.head]
	} else {
		m.count++
	}
	m.buf[m.head] = x
	m.sum += x
	m.head = (m.head + 1) % m.size
	return m.sum / float64(m.count)
}

// Reset empties the window.
func (m *MovingAverage) Reset() {
	m.count = 0
	m.head = 0
	m.sum = 0
}

// Complementary blends a fast signal against a slow reference:
// y = alpha*fast + (1-alpha)*slow. The first sample adopts the slow
// reference outright.
type Complementary struct {
	Alpha float64

	y      float64
	primed bool
}

// Update feeds one fast/slow pair and returns the blended value.
func (c *Complementary) Update(fast, slow float64) float64 {
	if !c.primed {
		c.y = slow
		c.primed = true
		return c.y
	}
	c.y = c.Alpha*fast + (1-c.Alpha)*slow
	return c.y
}

// Reset discards the state, keeping the coefficient.
func (c *Complementary) Reset() {
	c.y = 0
	c.primed = false
}
