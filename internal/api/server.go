// Package api exposes the daemon's HTTP surface: live targeting status,
// runtime tuning and stored session history.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/osprey-dynamics/sightline/internal/config"
	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/filter"
	"github.com/osprey-dynamics/sightline/internal/fusion"
	"github.com/osprey-dynamics/sightline/internal/gimbal"
	"github.com/osprey-dynamics/sightline/internal/guidance"
	"github.com/osprey-dynamics/sightline/internal/monitoring"
)

const sessionListLimit = 20

// accelAlpha low-passes posted accelerometer samples before they reach
// the fusion integrator.
const accelAlpha = 0.8

type Server struct {
	session *gimbal.Session
	db      *db.DB

	// estMu serialises access to the estimator, which carries no locks
	// of its own.
	estMu sync.Mutex
	est   *fusion.Estimator
	accel *filter.VecLowPass

	mu       sync.Mutex
	params   *config.TuningConfig
	onParams func(*config.TuningConfig)
}

// NewServer builds the HTTP surface. est, db and onParams may be nil;
// the matching endpoints degrade rather than fail. onParams is called
// with the merged configuration after each accepted params update.
func NewServer(session *gimbal.Session, est *fusion.Estimator, db *db.DB, params *config.TuningConfig, onParams func(*config.TuningConfig)) *Server {
	if params == nil {
		params = config.EmptyTuningConfig()
	}
	return &Server{
		session:  session,
		est:      est,
		accel:    filter.NewVecLowPass(accelAlpha),
		db:       db,
		params:   params,
		onParams: onParams,
	}
}

// UpdateGps routes a GPS fix into the estimator under the same lock as
// the IMU ingest path; the estimator itself carries no locks. No-op
// without an estimator.
func (s *Server) UpdateGps(lat, lon, alt float64, timestampMillis int64) {
	if s.est == nil {
		return
	}
	s.estMu.Lock()
	s.est.UpdateGps(lat, lon, alt, timestampMillis)
	s.estMu.Unlock()
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Sightline targeting daemon\n"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/params", s.paramsHandler)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/track", s.trackHandler)
	mux.HandleFunc("/api/detections", s.detectionsHandler)
	mux.HandleFunc("/api/stop", s.stopHandler)
	mux.HandleFunc("/api/imu", s.imuHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

// StatusResponse is the live targeting snapshot.
type StatusResponse struct {
	SessionID  string      `json:"session_id"`
	Mode       gimbal.Mode `json:"mode"`
	Tracking   bool        `json:"tracking"`
	Confidence float64     `json:"confidence"`

	TargetX int `json:"target_x"`
	TargetY int `json:"target_y"`
	TargetW int `json:"target_w"`
	TargetH int `json:"target_h"`

	ServoAngles [guidance.ServoCount]float64 `json:"servo_angles"`

	HasFix bool    `json:"has_fix"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		SessionID:   s.session.ID(),
		Mode:        s.session.Mode(),
		Tracking:    s.session.Tracking(),
		Confidence:  s.session.Confidence(),
		ServoAngles: s.session.ServoAngles(),
	}
	resp.TargetX, resp.TargetY, resp.TargetW, resp.TargetH = s.session.Position()

	if s.est != nil {
		s.estMu.Lock()
		resp.HasFix = s.est.HasFix()
		resp.Lat, resp.Lon, resp.Alt = s.est.Position()
		s.estMu.Unlock()
	}

	writeJSON(w, resp)
}

func (s *Server) paramsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, s.params)

	case http.MethodPost:
		var update config.TuningConfig
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, fmt.Sprintf("Invalid params JSON: %v", err), http.StatusBadRequest)
			return
		}
		if err := update.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("Invalid params: %v", err), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.params.Merge(&update)
		merged := s.params
		s.mu.Unlock()

		if s.onParams != nil {
			s.onParams(merged)
		}
		monitoring.Logf("api: params updated")
		writeJSON(w, merged)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// DetectionJSON is one candidate rectangle as posted by the detector.
type DetectionJSON struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func toDetections(in []DetectionJSON) []gimbal.Detection {
	out := make([]gimbal.Detection, len(in))
	for i, d := range in {
		out[i] = gimbal.Detection{CenterX: d.X, CenterY: d.Y, W: d.W, H: d.H}
	}
	return out
}

// TrackRequest either designates a rectangle directly or supplies a
// detection batch for autonomous acquisition.
type TrackRequest struct {
	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`
	W *int `json:"w,omitempty"`
	H *int `json:"h,omitempty"`

	Detections []DetectionJSON `json:"detections,omitempty"`
}

func (s *Server) trackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid track request: %v", err), http.StatusBadRequest)
		return
	}

	switch {
	case req.X != nil && req.Y != nil && req.W != nil && req.H != nil:
		s.session.StartTracking(*req.X, *req.Y, *req.W, *req.H)
		writeJSON(w, map[string]any{"tracking": true})

	case len(req.Detections) > 0:
		idx := s.session.Acquire(toDetections(req.Detections))
		writeJSON(w, map[string]any{"tracking": idx >= 0, "selected": idx})

	default:
		http.Error(w, "Either a rectangle or detections are required", http.StatusBadRequest)
	}
}

// DetectionsRequest is one detector frame.
type DetectionsRequest struct {
	Dt         float64         `json:"dt"`
	Detections []DetectionJSON `json:"detections"`
}

func (s *Server) detectionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DetectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid detections: %v", err), http.StatusBadRequest)
		return
	}

	res := s.session.ProcessFrame(toDetections(req.Detections), req.Dt)
	writeJSON(w, FrameResponse{
		Found:       res.Found,
		X:           res.Track.X,
		Y:           res.Track.Y,
		W:           res.Track.W,
		H:           res.Track.H,
		Confidence:  res.Track.Confidence,
		Predicted:   res.Track.Predicted,
		ErrorX:      res.ErrorX,
		ErrorY:      res.ErrorY,
		ServoAngles: res.ServoAngles,
	})
}

// FrameResponse is the per-frame pipeline outcome returned to the
// detector host.
type FrameResponse struct {
	Found      bool    `json:"found"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
	Predicted  bool    `json:"predicted"`

	ErrorX float64 `json:"error_x"`
	ErrorY float64 `json:"error_y"`

	ServoAngles [guidance.ServoCount]float64 `json:"servo_angles"`
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Reset rather than Stop so the session record stays open for
	// re-acquisition; Stop is the daemon's shutdown path.
	s.session.Reset()
	writeJSON(w, map[string]any{"tracking": false})
}

// ImuRequest is one accelerometer sample in the NED frame, m/s², over dt
// seconds.
type ImuRequest struct {
	AccelN float64 `json:"accel_n"`
	AccelE float64 `json:"accel_e"`
	AccelD float64 `json:"accel_d"`
	Dt     float64 `json:"dt"`
}

func (s *Server) imuHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.est == nil {
		http.Error(w, "No fusion estimator", http.StatusServiceUnavailable)
		return
	}

	var req ImuRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid imu sample: %v", err), http.StatusBadRequest)
		return
	}
	if req.Dt <= 0 {
		http.Error(w, "dt must be positive", http.StatusBadRequest)
		return
	}

	s.estMu.Lock()
	an, ae, ad := s.accel.Update(req.AccelN, req.AccelE, req.AccelD)
	s.est.IntegrateImu(an, ae, ad, req.Dt)
	lat, lon, alt := s.est.Position()
	s.estMu.Unlock()

	writeJSON(w, map[string]any{"lat": lat, "lon": lon, "alt": alt})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "No session store", http.StatusServiceUnavailable)
		return
	}

	sessions, err := s.db.Sessions(sessionListLimit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve sessions: %v", err), http.StatusInternalServerError)
		return
	}

	type sessionJSON struct {
		SessionID   string `json:"session_id"`
		ImageWidth  int    `json:"image_width"`
		ImageHeight int    `json:"image_height"`
		StartedAt   string `json:"started_at"`
		StoppedAt   string `json:"stopped_at,omitempty"`
	}
	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		j := sessionJSON{
			SessionID:   sess.SessionID,
			ImageWidth:  sess.ImageWidth,
			ImageHeight: sess.ImageHeight,
			StartedAt:   sess.StartedAt,
		}
		if sess.StoppedAt.Valid {
			j.StoppedAt = sess.StoppedAt.String
		}
		out = append(out, j)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}
