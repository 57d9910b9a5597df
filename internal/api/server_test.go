package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osprey-dynamics/sightline/internal/config"
	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/fusion"
	"github.com/osprey-dynamics/sightline/internal/gimbal"
	"github.com/osprey-dynamics/sightline/internal/guidance"
	"github.com/osprey-dynamics/sightline/internal/units"
)

func newTestServer(t *testing.T) (*Server, *gimbal.Session, *db.DB) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session := gimbal.NewSession(gimbal.SessionConfig{
		ImageWidth:  1280,
		ImageHeight: 720,
		MinScore:    0.4,
		Guidance:    guidance.DefaultConfig(),
		Store:       store,
	})
	est := fusion.NewEstimator(fusion.DefaultAlpha)
	est.UpdateGps(35.6892, 51.389, 1190.5, 1000)

	srv := NewServer(session, est, store, config.EmptyTuningConfig(), func(c *config.TuningConfig) {
		session.ApplyTuning(c.GetMinScore(), c.GetEnablePrediction(), c.GuidanceConfig())
	})
	return srv, session, store
}

func TestStatusEndpoint(t *testing.T) {
	srv, session, _ := newTestServer(t)
	session.StartTracking(640, 360, 80, 60)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, session.ID(), got.SessionID)
	require.True(t, got.Tracking)
	require.Equal(t, gimbal.ModeTrack, got.Mode)
	require.Equal(t, 640, got.TargetX)
	require.True(t, got.HasFix)
}

func TestStatusRejectsPost(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParamsRoundTrip(t *testing.T) {
	var applied *config.TuningConfig
	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer store.Close()

	session := gimbal.NewSession(gimbal.SessionConfig{Guidance: guidance.DefaultConfig()})
	srv := NewServer(session, nil, store, config.EmptyTuningConfig(), func(c *config.TuningConfig) {
		applied = c
	})
	mux := srv.ServeMux()

	// Update a subset.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/params",
		strings.NewReader(`{"kp": 0.8, "min_score": 0.6}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, applied)
	require.Equal(t, 0.8, applied.GetKp())

	// Read back: the update merged, untouched fields keep their defaults.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/params", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got config.TuningConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 0.8, got.GetKp())
	require.Equal(t, 0.6, got.GetMinScore())
	require.Equal(t, guidance.DefaultKd, got.GetKd())
}

func TestParamsRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	for _, body := range []string{
		`{"alpha": 2.0}`,
		`{"cmd_max": -1}`,
		`not json`,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/params", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestTrackAndDetectionsFlow(t *testing.T) {
	srv, session, _ := newTestServer(t)
	mux := srv.ServeMux()

	// Designate a rectangle directly.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/track",
		strings.NewReader(`{"x": 640, "y": 360, "w": 80, "h": 60}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, session.Tracking())

	// Feed a detector frame with a nearby match.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/detections",
		strings.NewReader(`{"dt": 0.033, "detections": [{"x": 644, "y": 362, "w": 82, "h": 62}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var frame FrameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	require.True(t, frame.Found)
	require.Equal(t, 644, frame.X)
	require.Equal(t, 4.0, frame.ErrorX)
	require.NotZero(t, frame.ServoAngles[0])

	// Stop leaves the session open for re-acquisition.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, session.Tracking())
}

func TestTrackAcquiresFromBatch(t *testing.T) {
	srv, session, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/track",
		strings.NewReader(`{"detections": [
			{"x": 100, "y": 600, "w": 10, "h": 10},
			{"x": 640, "y": 360, "w": 100, "h": 100}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, true, got["tracking"])
	require.Equal(t, float64(1), got["selected"])
	require.True(t, session.Tracking())
}

func TestTrackRejectsEmptyRequest(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/track",
		strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// Exercises the shared estimator lock: GPS fixes and IMU samples arrive
// from different goroutines in the daemon, and the race detector flags
// any regression to per-path locking.
func TestGpsFixConcurrentWithImu(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			srv.UpdateGps(35.6892, 51.389, 1190.5, int64(i))
		}
	}()
	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imu",
			strings.NewReader(`{"accel_n": 0.1, "dt": 0.01}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	wg.Wait()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParamsRetuneGuidance(t *testing.T) {
	runFrame := func(t *testing.T, srv *Server) float64 {
		t.Helper()
		mux := srv.ServeMux()
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/track",
			strings.NewReader(`{"x": 640, "y": 360, "w": 80, "h": 60}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/detections",
			strings.NewReader(`{"dt": 0.033, "detections": [{"x": 644, "y": 362, "w": 82, "h": 62}]}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		var frame FrameResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
		return frame.ServoAngles[0]
	}

	base, _, _ := newTestServer(t)
	defaultOut := runFrame(t, base)

	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/params",
		strings.NewReader(`{"kp": 1.0}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	// A doubled proportional gain drives the same frame harder.
	retuned := runFrame(t, srv)
	require.NotEqual(t, defaultOut, retuned)
	require.Greater(t, math.Abs(retuned), math.Abs(defaultOut))
}

func TestImuEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	// One sample: 2 m/s² north for 0.5s shifts the fused latitude.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imu",
		strings.NewReader(`{"accel_n": 2, "accel_e": 0, "accel_d": 0, "dt": 0.5}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.InDelta(t, 35.6892+0.5/units.MetersPerDegreeLat, got["lat"], 1e-12)
	require.Equal(t, 51.389, got["lon"])
	require.Equal(t, 1190.5, got["alt"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imu",
		strings.NewReader(`{"accel_n": 1, "dt": 0}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImuWithoutEstimator(t *testing.T) {
	session := gimbal.NewSession(gimbal.SessionConfig{Guidance: guidance.DefaultConfig()})
	srv := NewServer(session, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imu",
		strings.NewReader(`{"accel_n": 1, "dt": 0.1}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListSessions(t *testing.T) {
	srv, session, _ := newTestServer(t)
	session.Stop()

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, session.ID(), got[0]["session_id"])
	require.NotEmpty(t, got[0]["stopped_at"])
}

func TestListSessionsWithoutStore(t *testing.T) {
	session := gimbal.NewSession(gimbal.SessionConfig{Guidance: guidance.DefaultConfig()})
	srv := NewServer(session, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
