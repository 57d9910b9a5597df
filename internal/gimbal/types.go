// Package gimbal implements the optical targeting core: a constant-velocity
// Kalman estimator, a multi-criteria target discriminator, and the object
// tracking state machine that selects one target among per-frame detection
// clutter and follows it through drop-outs.
//
// All types in this package are synchronous call/return state machines with
// no internal locking; multi-goroutine hosts serialise access externally
// (see Session).
package gimbal

// Detection is one candidate rectangle from the external detector,
// identified by its centre and size in pixels. Detections are transient
// per-frame values; nothing here retains ownership of them.
type Detection struct {
	CenterX int
	CenterY int
	W       int
	H       int
}

// Mode is the lifecycle state of a tracking session.
type Mode string

const (
	// ModeOff is the initial and terminal state.
	ModeOff Mode = "off"
	// ModeSearch is reserved for autonomous target acquisition and is
	// currently unused.
	ModeSearch Mode = "search"
	// ModeTrack means a target is locked and being followed.
	ModeTrack Mode = "track"
	// ModeLost means the target could not be re-acquired.
	ModeLost Mode = "lost"
)

// TargetScore carries the per-criterion sub-scores and weighted total for
// one evaluated candidate. Scores are recomputed on every evaluation; only
// the position history behind the stability score persists across calls.
type TargetScore struct {
	Detection Detection

	Size       float64
	Aspect     float64
	Position   float64
	Stability  float64
	Motion     float64
	Confidence float64

	Total float64
}

// TrackResult is the tracker's per-frame output: the selected (or
// predicted) target rectangle and the confidence of the match.
type TrackResult struct {
	X, Y, W, H int
	Confidence float64
	// Predicted is set when the rectangle came from the Kalman
	// extrapolation rather than a matched detection.
	Predicted bool
}
