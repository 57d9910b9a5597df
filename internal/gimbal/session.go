package gimbal

import (
	"sync"

	"github.com/google/uuid"

	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/guidance"
	"github.com/osprey-dynamics/sightline/internal/monitoring"
	"github.com/osprey-dynamics/sightline/internal/units"
)

// FrameResult is the outcome of processing one detection frame through
// the full pipeline.
type FrameResult struct {
	// Found reports whether the target was located this frame (matched
	// or predicted).
	Found bool

	Track TrackResult

	// ErrorX/Y is the raw pixel error fed to guidance when found.
	ErrorX, ErrorY float64

	// ServoAngles are the mixed, clamped commands after this frame.
	ServoAngles [guidance.ServoCount]float64
}

// Session ties the pipeline together for one targeting engagement:
// detections flow through the discriminator into the tracker, the
// tracker's output becomes a pixel error, and guidance turns that into
// servo angles. Session is the external serialisation point; the
// numerical modules it owns carry no locks of their own.
type Session struct {
	mu sync.Mutex

	id      string
	tracker *Tracker
	ctrl    *guidance.Controller

	imageWidth  int
	imageHeight int
	minScore    float64

	frame int

	// store is optional; recording failures are logged, never fatal.
	store *db.DB
}

// SessionConfig carries the per-session tuning.
type SessionConfig struct {
	ImageWidth  int
	ImageHeight int
	MinScore    float64

	// EnablePrediction toggles tracker coasting during drop-outs.
	EnablePrediction bool

	Guidance guidance.Config

	// Store is optional; nil disables recording.
	Store *db.DB
}

// NewSession builds a session around a fresh tracker and controller.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = defaultImageWidth
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = defaultImageHeight
	}

	tracker := NewTracker()
	tracker.SetImageSize(cfg.ImageWidth, cfg.ImageHeight)
	tracker.EnablePrediction(cfg.EnablePrediction)

	s := &Session{
		id:          uuid.NewString(),
		tracker:     tracker,
		ctrl:        guidance.NewController(cfg.Guidance),
		imageWidth:  cfg.ImageWidth,
		imageHeight: cfg.ImageHeight,
		minScore:    cfg.MinScore,
		store:       cfg.Store,
	}

	if s.store != nil {
		if err := s.store.CreateSession(s.id, cfg.ImageWidth, cfg.ImageHeight); err != nil {
			monitoring.Logf("session %s: create record failed: %v", s.id, err)
		}
	}
	monitoring.Logf("session %s: created (%dx%d, min score %.2f)", s.id, cfg.ImageWidth, cfg.ImageHeight, cfg.MinScore)
	return s
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// ApplyTuning installs updated runtime tuning: acquisition threshold,
// coasting flag and guidance gains. Safe mid-engagement; the guidance
// loop keeps its state.
func (s *Session) ApplyTuning(minScore float64, enablePrediction bool, g guidance.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minScore = minScore
	s.tracker.EnablePrediction(enablePrediction)
	s.ctrl.SetConfig(g)
	monitoring.Logf("session %s: tuning applied (min score %.2f)", s.id, minScore)
}

// Acquire evaluates the detection batch and locks onto the best
// candidate above the session's minimum score. It returns the chosen
// index, or -1 when nothing qualifies.
func (s *Session) Acquire(detections []Detection) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(detections) == 0 {
		return -1
	}

	disc := s.tracker.Discriminator()

	var last *Detection
	if x, y, w, h := s.tracker.Position(); x >= 0 {
		last = &Detection{CenterX: x, CenterY: y, W: w, H: h}
	}

	scores := disc.EvaluateMultiple(detections, last, s.imageWidth, s.imageHeight)
	best := disc.SelectBest(scores, s.minScore)
	if best < 0 {
		return -1
	}

	det := detections[best]
	s.tracker.StartTracking(det.CenterX, det.CenterY, det.W, det.H)
	s.ctrl.Start()
	return best
}

// StartTracking locks onto an externally chosen rectangle, bypassing
// the discriminator (operator designation).
func (s *Session) StartTracking(x, y, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.StartTracking(x, y, w, h)
	s.ctrl.Start()
}

// ProcessFrame advances the pipeline one frame: motion history, target
// tracking, pixel error, guidance. dt is the frame interval in seconds.
func (s *Session) ProcessFrame(detections []Detection, dt float64) FrameResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame++
	s.tracker.ProcessDetections(detections)

	result, found := s.tracker.Update(detections)
	out := FrameResult{Found: found, Track: result}

	if found {
		out.ErrorX, out.ErrorY = units.PixelError(result.X, result.Y, s.imageWidth, s.imageHeight)
		s.ctrl.Update(out.ErrorX, out.ErrorY, dt)
	}
	out.ServoAngles = s.ctrl.ServoAngles()

	if s.store != nil && found {
		err := s.store.RecordObservation(s.id, s.frame, string(s.tracker.Mode()),
			result.X, result.Y, result.W, result.H, result.Confidence, result.Predicted)
		if err != nil {
			monitoring.Logf("session %s: record failed: %v", s.id, err)
		}
	}

	return out
}

// Mode returns the tracker mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Mode()
}

// Confidence returns the tracker's uncertainty-derived confidence.
func (s *Session) Confidence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Confidence()
}

// ServoAngles returns the current servo commands.
func (s *Session) ServoAngles() [guidance.ServoCount]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.ServoAngles()
}

// Position returns the last confirmed target rectangle.
func (s *Session) Position() (x, y, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Position()
}

// Tracking reports whether the tracker is locked on.
func (s *Session) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.IsTracking()
}

// Stop leaves tracking, zeroes the guidance output and stamps the
// session record.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracker.Stop()
	s.ctrl.Stop()

	if s.store != nil {
		if err := s.store.CloseSession(s.id); err != nil {
			monitoring.Logf("session %s: close record failed: %v", s.id, err)
		}
	}
	monitoring.Logf("session %s: stopped after %d frames", s.id, s.frame)
}

// Reset clears the tracker and guidance state, keeping the session open.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.ctrl.Stop()
	s.frame = 0
}
