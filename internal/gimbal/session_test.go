package gimbal

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/guidance"
)

func newTestSession(t *testing.T, store *db.DB) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		ImageWidth:  1280,
		ImageHeight: 720,
		MinScore:    0.4,
		Guidance:    guidance.DefaultConfig(),
		Store:       store,
	})
}

func TestAcquireSelectsBestCandidate(t *testing.T) {
	s := newTestSession(t, nil)

	// A centred square candidate against a small off-centre one.
	dets := []Detection{
		{CenterX: 100, CenterY: 600, W: 10, H: 10},
		{CenterX: 640, CenterY: 360, W: 100, H: 100},
	}
	got := s.Acquire(dets)
	if got != 1 {
		t.Fatalf("Acquire = %d, want 1", got)
	}
	if !s.Tracking() || s.Mode() != ModeTrack {
		t.Error("acquire did not start tracking")
	}
	if x, y, _, _ := s.Position(); x != 640 || y != 360 {
		t.Errorf("Position = (%d, %d), want (640, 360)", x, y)
	}
}

func TestApplyTuningRaisesAcquireBar(t *testing.T) {
	s := newTestSession(t, nil)
	dets := []Detection{{CenterX: 640, CenterY: 360, W: 100, H: 100}}

	if got := s.Acquire(dets); got != 0 {
		t.Fatalf("Acquire = %d, want 0 at default threshold", got)
	}
	s.Reset()

	s.ApplyTuning(0.95, false, guidance.DefaultConfig())
	if got := s.Acquire(dets); got != -1 {
		t.Errorf("Acquire = %d after raising the threshold, want -1", got)
	}
	if s.Tracking() {
		t.Error("weak batch started tracking after retune")
	}
}

func TestAcquireRejectsWeakBatch(t *testing.T) {
	s := NewSession(SessionConfig{
		ImageWidth:  1280,
		ImageHeight: 720,
		MinScore:    0.9, // nothing scores this high
		Guidance:    guidance.DefaultConfig(),
	})

	got := s.Acquire([]Detection{{CenterX: 640, CenterY: 360, W: 100, H: 100}})
	if got != -1 {
		t.Errorf("Acquire = %d, want -1", got)
	}
	if s.Tracking() {
		t.Error("weak batch started tracking")
	}
	if got := s.Acquire(nil); got != -1 {
		t.Errorf("Acquire(nil) = %d, want -1", got)
	}
}

func TestProcessFrameDrivesGuidance(t *testing.T) {
	s := newTestSession(t, nil)
	s.StartTracking(640, 360, 80, 60)

	res := s.ProcessFrame([]Detection{{CenterX: 644, CenterY: 362, W: 82, H: 62}}, 0.033)
	if !res.Found {
		t.Fatal("target not found")
	}
	if res.ErrorX != 4 || res.ErrorY != 2 {
		t.Fatalf("pixel error = (%v, %v), want (4, 2)", res.ErrorX, res.ErrorY)
	}

	// One step of the default loop on a (4, 2) error.
	if math.Abs(res.ServoAngles[0]-2.541818181818182) > 1e-9 {
		t.Errorf("servo 0 = %v", res.ServoAngles[0])
	}
	if math.Abs(res.ServoAngles[1]+7.625454545454545) > 1e-9 {
		t.Errorf("servo 1 = %v", res.ServoAngles[1])
	}
	// X mixing is anti-symmetric across the diagonals.
	if res.ServoAngles[0] != -res.ServoAngles[2] || res.ServoAngles[1] != -res.ServoAngles[3] {
		t.Errorf("servo angles not anti-symmetric: %v", res.ServoAngles)
	}
}

func TestProcessFrameMissLeavesServosAlone(t *testing.T) {
	s := newTestSession(t, nil)
	s.StartTracking(640, 360, 80, 60)

	s.ProcessFrame([]Detection{{CenterX: 644, CenterY: 362, W: 82, H: 62}}, 0.033)
	before := s.ServoAngles()

	res := s.ProcessFrame(nil, 0.033)
	if res.Found {
		t.Error("empty frame reported found")
	}
	if res.ServoAngles != before {
		t.Errorf("miss changed servo angles: %v -> %v", before, res.ServoAngles)
	}
}

func TestSessionRecordsToStore(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	s := newTestSession(t, store)
	s.StartTracking(640, 360, 80, 60)
	s.ProcessFrame([]Detection{{CenterX: 644, CenterY: 362, W: 82, H: 62}}, 0.033)
	s.ProcessFrame([]Detection{{CenterX: 648, CenterY: 364, W: 82, H: 62}}, 0.033)
	s.Stop()

	sessions, err := store.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, s.ID(), sessions[0].SessionID)
	require.Equal(t, 1280, sessions[0].ImageWidth)
	require.True(t, sessions[0].StoppedAt.Valid, "Stop did not stamp the session")

	obs, err := store.Observations(s.ID())
	require.NoError(t, err)
	require.Len(t, obs, 2)
	require.Equal(t, 1, obs[0].Frame)
	require.Equal(t, string(ModeTrack), obs[0].Mode)
	require.Equal(t, 648, obs[1].X)
	require.False(t, obs[1].Predicted)
}

func TestSessionResetKeepsSessionOpen(t *testing.T) {
	s := newTestSession(t, nil)
	s.StartTracking(640, 360, 80, 60)
	s.ProcessFrame([]Detection{{CenterX: 644, CenterY: 362, W: 82, H: 62}}, 0.033)

	s.Reset()
	if s.Tracking() {
		t.Error("Reset left the tracker locked")
	}
	if angles := s.ServoAngles(); angles != ([guidance.ServoCount]float64{}) {
		t.Errorf("Reset left servo angles %v", angles)
	}
	// The session can re-acquire after a reset.
	if got := s.Acquire([]Detection{{CenterX: 640, CenterY: 360, W: 100, H: 100}}); got != 0 {
		t.Errorf("Acquire after Reset = %d, want 0", got)
	}
}
