package gimbal

import (
	"math"

	"github.com/osprey-dynamics/sightline/internal/filter"
	"github.com/osprey-dynamics/sightline/internal/monitoring"
)

const (
	// defaultImageWidth/Height are the assumed frame dimensions until the
	// host reports the real ones.
	defaultImageWidth  = 1280
	defaultImageHeight = 720

	// minGatingRadius floors the association gate so small frames do not
	// over-tighten it.
	minGatingRadius = 500.0

	// predictionUncertaintyLimit gates coasting on prediction: above this
	// Kalman uncertainty the extrapolated point is not trusted.
	predictionUncertaintyLimit = 200.0

	// predictedConfidence is reported when the output is the Kalman
	// extrapolation substituted for a missing detection.
	predictedConfidence = 0.5

	// coastConfidence is reported when coasting after an unmatched frame.
	coastConfidence = 0.3

	// trackConfidenceFloor is the lower clamp on per-match confidence.
	trackConfidenceFloor = 0.3
)

// Motion-history bookkeeping for the ambient multi-object list.
const (
	maxMotionObjects = 100
	maxMotionHistory = 100
	maxMotionMisses  = 6
)

// ObjectState is one observed position of a motion-history object.
type ObjectState struct {
	X, Y, W, H int
	// Open is set while the object was seen in the current frame.
	Open bool
	// Misses counts consecutive frames without a match.
	Misses int
}

// MotionObject accumulates the frame-to-frame history of one moving
// candidate, independent of the locked target.
type MotionObject struct {
	ID      int
	Current ObjectState
	History []ObjectState
}

// Tracker owns the tracking state machine. It consults the Kalman
// estimator for prediction, gates candidate detections by distance from
// the predicted point, and falls back to inertial prediction when the
// detector drops out.
//
// Not safe for concurrent use; Session serialises access in the daemon.
type Tracker struct {
	mode             Mode
	enablePrediction bool

	imageWidth  int
	imageHeight int

	// Last confirmed target. lastX < 0 means no prior point.
	lastX, lastY, lastW, lastH int

	predictedX, predictedY int
	confidence             float64

	kalman        *Kalman
	discriminator *Discriminator

	objects      []*MotionObject
	nextObjectID int
}

// NewTracker returns a tracker in the off state with prediction disabled.
func NewTracker() *Tracker {
	t := &Tracker{
		kalman:        NewKalman(),
		discriminator: NewDiscriminator(),
	}
	t.Init()
	return t
}

// Init returns the tracker to its initial state: mode off, object list
// cleared, discriminator re-initialised. The prediction flag is also
// cleared (disabled is the default).
func (t *Tracker) Init() {
	t.mode = ModeOff
	t.enablePrediction = false
	t.imageWidth = defaultImageWidth
	t.imageHeight = defaultImageHeight
	t.lastX, t.lastY = -1, -1
	t.lastW, t.lastH = 0, 0
	t.predictedX, t.predictedY = 0, 0
	t.confidence = 0
	t.objects = nil
	t.nextObjectID = 1
	t.discriminator = NewDiscriminator()
}

// SetImageSize records the frame dimensions used for gating and scoring.
func (t *Tracker) SetImageSize(width, height int) {
	t.imageWidth = width
	t.imageHeight = height
}

// EnablePrediction toggles coasting on Kalman extrapolation during
// detector drop-outs. Disabled by default.
func (t *Tracker) EnablePrediction(enable bool) {
	t.enablePrediction = enable
}

// StartTracking locks onto the given rectangle: records it as the last
// confirmed target, enters track mode with full confidence, and seeds the
// Kalman filter at its centre.
func (t *Tracker) StartTracking(x, y, w, h int) {
	t.lastX, t.lastY = x, y
	t.lastW, t.lastH = w, h
	t.mode = ModeTrack
	t.confidence = 1.0

	t.kalman.Init(float64(x), float64(y), autoInitProcessNoise, autoInitMeasurementNoise)
	monitoring.Logf("tracker: started tracking (%d,%d) size %dx%d", x, y, w, h)
}

// gatingRadius is the maximum distance at which a detection is accepted as
// the same physical target as the predicted point.
func (t *Tracker) gatingRadius() float64 {
	r := math.Max(float64(t.imageWidth/2), float64(t.imageHeight/2))
	return math.Max(r, minGatingRadius)
}

// Update advances the tracker one frame. It returns the selected target
// and true on success, or a zero result and false when the target is not
// found this frame. Valid only in track mode with a prior confirmed point.
func (t *Tracker) Update(detections []Detection) (TrackResult, bool) {
	if t.mode != ModeTrack {
		return TrackResult{}, false
	}
	if t.lastX < 0 || t.lastY < 0 {
		return TrackResult{}, false
	}

	// 1. Kalman prediction for this frame.
	predX, predY := t.kalman.Predict()
	t.predictedX = int(predX)
	t.predictedY = int(predY)

	// 2. Detector drop-out: coast on the prediction while uncertainty
	// stays bounded, adopting the predicted point as the new last-known
	// position. The chain is self-reinforcing but bounded by the
	// uncertainty gate.
	if len(detections) == 0 {
		if !t.enablePrediction {
			return TrackResult{}, false
		}
		if t.kalman.Uncertainty() < predictionUncertaintyLimit {
			t.lastX = t.predictedX
			t.lastY = t.predictedY
			t.confidence = predictedConfidence
			return TrackResult{
				X: t.predictedX, Y: t.predictedY,
				W: t.lastW, H: t.lastH,
				Confidence: predictedConfidence,
				Predicted:  true,
			}, true
		}
		return TrackResult{}, false
	}

	// 3. Nearest detection to the prediction within the gating radius;
	// when none gates in, fall back to the globally closest detection
	// rather than rejecting on distance alone.
	radius := t.gatingRadius()
	bestIdx := -1
	bestDist := radius
	for i, det := range detections {
		d := math.Hypot(float64(det.CenterX-t.predictedX), float64(det.CenterY-t.predictedY))
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		bestDist = math.MaxFloat64
		for i, det := range detections {
			d := math.Hypot(float64(det.CenterX-t.predictedX), float64(det.CenterY-t.predictedY))
			if d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
	}

	// 4. Matched: correct the filter and report either the raw detection
	// or the filtered position depending on the prediction flag. Width
	// and height always come from the raw detection.
	if bestIdx >= 0 {
		det := detections[bestIdx]
		t.kalman.Update(float64(det.CenterX), float64(det.CenterY))

		t.lastX, t.lastY = det.CenterX, det.CenterY
		t.lastW, t.lastH = det.W, det.H

		outX, outY := det.CenterX, det.CenterY
		if t.enablePrediction {
			fx, fy, _, _ := t.kalman.State()
			outX, outY = int(fx), int(fy)
		}

		t.confidence = filter.Clamp(1.0-bestDist/radius, trackConfidenceFloor, 1.0)
		return TrackResult{
			X: outX, Y: outY,
			W: det.W, H: det.H,
			Confidence: t.confidence,
		}, true
	}

	// 5. Unmatched with detections present is unreachable given the
	// global fallback above, but the lost handling is kept for the
	// prediction-disabled path.
	if !t.enablePrediction {
		t.mode = ModeLost
		return TrackResult{}, false
	}
	if t.lastX >= 0 {
		t.lastX = t.predictedX
		t.lastY = t.predictedY
		t.confidence = coastConfidence
		return TrackResult{
			X: t.predictedX, Y: t.predictedY,
			W: t.lastW, H: t.lastH,
			Confidence: coastConfidence,
			Predicted:  true,
		}, true
	}
	t.mode = ModeLost
	t.kalman.Reset()
	return TrackResult{}, false
}

// ProcessDetections folds a detection batch into the ambient multi-object
// motion history, independent of the locked target. Candidates match an
// existing object when they fall within a 1/16th-frame window of its last
// observed position; objects unseen for more than maxMotionMisses frames
// are dropped.
func (t *Tracker) ProcessDetections(detections []Detection) {
	searchX := t.imageWidth / 16
	searchY := t.imageHeight / 16

	for _, det := range detections {
		if det.W <= 2 || det.H <= 2 {
			continue
		}
		if det.CenterX <= 5 || det.CenterX >= t.imageWidth ||
			det.CenterY <= 5 || det.CenterY >= t.imageHeight {
			continue
		}

		matched := false
		for _, obj := range t.objects {
			if len(obj.History) == 0 {
				continue
			}
			last := obj.History[len(obj.History)-1]
			if det.CenterX >= last.X-searchX && det.CenterX <= last.X+searchX &&
				det.CenterY >= last.Y-searchY && det.CenterY <= last.Y+searchY {
				matched = true
				state := ObjectState{
					X: det.CenterX, Y: det.CenterY,
					W: det.W, H: det.H,
					Open: true,
				}
				if len(obj.History) >= maxMotionHistory {
					copy(obj.History, obj.History[1:])
					obj.History = obj.History[:maxMotionHistory-1]
				}
				obj.History = append(obj.History, state)
				obj.Current = state
				break
			}
		}

		if !matched && len(t.objects) < maxMotionObjects {
			state := ObjectState{
				X: det.CenterX, Y: det.CenterY,
				W: det.W, H: det.H,
				Open: true,
			}
			obj := &MotionObject{
				ID:      t.nextObjectID,
				Current: state,
				History: []ObjectState{state},
			}
			t.nextObjectID++
			t.objects = append(t.objects, obj)
		}
	}

	// Age out objects that stopped matching.
	kept := t.objects[:0]
	for _, obj := range t.objects {
		if len(obj.History) == 0 {
			continue
		}
		last := &obj.History[len(obj.History)-1]
		if last.Open {
			last.Open = false
		} else {
			last.Misses++
			if last.Misses > maxMotionMisses {
				continue
			}
		}
		kept = append(kept, obj)
	}
	t.objects = kept
}

// AllObjects returns the motion-history objects that are live or only
// recently lost.
func (t *Tracker) AllObjects() []*MotionObject {
	out := make([]*MotionObject, 0, len(t.objects))
	for _, obj := range t.objects {
		if len(obj.History) == 0 {
			continue
		}
		last := obj.History[len(obj.History)-1]
		if last.Open || last.Misses < 3 {
			out = append(out, obj)
		}
	}
	return out
}

// Mode returns the current state machine mode.
func (t *Tracker) Mode() Mode { return t.mode }

// IsTracking reports whether the tracker is in track mode.
func (t *Tracker) IsTracking() bool { return t.mode == ModeTrack }

// Position returns the last confirmed target rectangle. X is -1 when no
// target has been confirmed.
func (t *Tracker) Position() (x, y, w, h int) {
	return t.lastX, t.lastY, t.lastW, t.lastH
}

// Prediction returns the most recent Kalman-predicted point.
func (t *Tracker) Prediction() (x, y int) {
	return t.predictedX, t.predictedY
}

// Discriminator exposes the tracker's discriminator for target selection.
func (t *Tracker) Discriminator() *Discriminator { return t.discriminator }

// Confidence derives a confidence from the Kalman uncertainty while
// tracking: (500 - uncertainty) / 500. This is intentionally a different
// formula from the per-update match confidence; downstream consumers
// depend on both, so they stay separate accessors.
func (t *Tracker) Confidence() float64 {
	if t.mode == ModeTrack && t.lastX >= 0 {
		return (500.0 - t.kalman.Uncertainty()) / 500.0
	}
	return 0
}

// LastUpdateConfidence returns the confidence reported by the most recent
// Update call.
func (t *Tracker) LastUpdateConfidence() float64 { return t.confidence }

// Reset clears the target, object list and confidence, and resets both the
// Kalman filter and the discriminator.
func (t *Tracker) Reset() {
	t.mode = ModeOff
	t.lastX, t.lastY = -1, -1
	t.lastW, t.lastH = 0, 0
	t.objects = nil
	t.confidence = 0

	t.kalman.Reset()
	t.discriminator.Reset()
	monitoring.Logf("tracker: reset")
}

// Stop leaves tracking without clearing state, so a later StartTracking
// resumes from a clean slate while telemetry keeps the last position.
func (t *Tracker) Stop() {
	t.mode = ModeOff
}
