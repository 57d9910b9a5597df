package gimbal

import "math"

// minInnovationDeterminant is the threshold below which the innovation
// covariance is treated as singular and the update becomes a no-op.
const minInnovationDeterminant = 1e-10

// autoInitProcessNoise and autoInitMeasurementNoise are used when Update is
// called on an uninitialised filter.
const (
	autoInitProcessNoise     = 300.0
	autoInitMeasurementNoise = 1.0
)

// Kalman is a constant-velocity filter over pixel coordinates with state
// [x, y, vx, vy]. The state transition adds velocity to position each step;
// the measurement observes position only. Process noise is applied
// isotropically to the covariance diagonal, a deliberate simplification.
//
// Not safe for concurrent use; callers serialise access.
type Kalman struct {
	// state is [x, y, vx, vy].
	state [4]float64

	// P is the 4x4 covariance, row-major.
	P [16]float64

	processNoise     float64
	measurementNoise float64
	initialized      bool
}

// NewKalman returns an uninitialised filter. Predict returns (0, 0) and
// Update auto-initialises until Init is called.
func NewKalman() *Kalman {
	return &Kalman{}
}

// Init sets the state to (x, y) with zero velocity and a deliberately loose
// initial covariance so early updates trust measurements.
func (k *Kalman) Init(x, y, processNoise, measurementNoise float64) {
	k.state = [4]float64{x, y, 0, 0}
	k.processNoise = processNoise
	k.measurementNoise = measurementNoise

	k.P = [16]float64{}
	k.P[0*4+0] = 100.0
	k.P[1*4+1] = 100.0
	k.P[2*4+2] = 10.0
	k.P[3*4+3] = 10.0

	k.initialized = true
}

// Initialized reports whether the filter holds a valid state.
func (k *Kalman) Initialized() bool { return k.initialized }

// Predict advances the state one step under the constant-velocity model and
// returns the predicted position. Returns (0, 0) when uninitialised.
func (k *Kalman) Predict() (x, y float64) {
	if !k.initialized {
		return 0, 0
	}

	// State prediction: x' = F*x. F adds velocity to position.
	k.state[0] += k.state[2]
	k.state[1] += k.state[3]

	// Covariance prediction: P' = F*P*F^T + Q*I.
	// F*P: rows 0,1 gain the matching velocity row.
	P := k.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + P[2*4+j]
		FP[1*4+j] = P[1*4+j] + P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	// (F*P)*F^T: columns 0,1 gain the matching velocity column.
	for i := 0; i < 4; i++ {
		k.P[i*4+0] = FP[i*4+0] + FP[i*4+2]
		k.P[i*4+1] = FP[i*4+1] + FP[i*4+3]
		k.P[i*4+2] = FP[i*4+2]
		k.P[i*4+3] = FP[i*4+3]
	}
	for i := 0; i < 4; i++ {
		k.P[i*4+i] += k.processNoise
	}

	return k.state[0], k.state[1]
}

// Update corrects the state with a position measurement. A singular
// innovation covariance leaves the state unchanged rather than producing
// NaN. When called on an uninitialised filter it initialises at the
// measurement instead of failing.
func (k *Kalman) Update(mx, my float64) {
	if !k.initialized {
		k.Init(mx, my, autoInitProcessNoise, autoInitMeasurementNoise)
		return
	}

	innovX := mx - k.state[0]
	innovY := my - k.state[1]

	// Innovation covariance S = H*P*H^T + R is the position block of P
	// plus isotropic measurement noise.
	s00 := k.P[0*4+0] + k.measurementNoise
	s01 := k.P[0*4+1]
	s10 := k.P[1*4+0]
	s11 := k.P[1*4+1] + k.measurementNoise

	det := s00*s11 - s01*s10
	if math.Abs(det) < minInnovationDeterminant {
		return
	}

	invS00 := s11 / det
	invS01 := -s01 / det
	invS10 := -s10 / det
	invS11 := s00 / det

	// Kalman gain K = P*H^T*S^-1, a 4x2 matrix. P*H^T is just the first
	// two columns of P.
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = k.P[i*4+0]*invS00 + k.P[i*4+1]*invS10
		K[i*2+1] = k.P[i*4+0]*invS01 + k.P[i*4+1]*invS11
	}

	oldX := k.state[0]
	oldY := k.state[1]

	for i := 0; i < 4; i++ {
		k.state[i] += K[i*2+0]*innovX + K[i*2+1]*innovY
	}

	// Velocity is additionally blended 0.5/0.5 against the positional
	// delta, a second smoothing stage on top of the gain update. Matched
	// to the field-tuned behaviour; do not fold into the canonical update.
	dx := k.state[0] - oldX
	dy := k.state[1] - oldY
	k.state[2] = k.state[2]*0.5 + dx*0.5
	k.state[3] = k.state[3]*0.5 + dy*0.5

	// Covariance update: P = (I - K*H)*P. K*H only populates the first
	// two columns. The result is not force-symmetrized; numerical drift
	// is accepted here.
	var IKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var v float64
			if i == j {
				v = 1
			}
			if j < 2 {
				v -= K[i*2+j]
			}
			IKH[i*4+j] = v
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for m := 0; m < 4; m++ {
				sum += IKH[i*4+m] * k.P[m*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	k.P = newP
}

// State returns the current position and velocity estimate.
func (k *Kalman) State() (x, y, vx, vy float64) {
	return k.state[0], k.state[1], k.state[2], k.state[3]
}

// PredictFuture extrapolates the position the given number of steps ahead
// without touching the filter state or covariance.
func (k *Kalman) PredictFuture(steps int) (x, y float64) {
	if !k.initialized {
		return 0, 0
	}
	return k.state[0] + k.state[2]*float64(steps),
		k.state[1] + k.state[3]*float64(steps)
}

// Uncertainty returns sqrt(P00^2 + P11^2). The tracker's prediction gates
// are tuned against this exact combination, not the trace or determinant.
func (k *Kalman) Uncertainty() float64 {
	return math.Sqrt(k.P[0*4+0]*k.P[0*4+0] + k.P[1*4+1]*k.P[1*4+1])
}

// Reset clears the filter back to uninitialised.
func (k *Kalman) Reset() {
	k.state = [4]float64{}
	k.P = [16]float64{}
	k.initialized = false
}
