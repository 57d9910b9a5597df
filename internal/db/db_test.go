package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateSession("abc-123", 1280, 720))

	sessions, err := db.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "abc-123", sessions[0].SessionID)
	assert.Equal(t, 1280, sessions[0].ImageWidth)
	assert.Equal(t, 720, sessions[0].ImageHeight)
	assert.False(t, sessions[0].StoppedAt.Valid)

	require.NoError(t, db.CloseSession("abc-123"))
	sessions, err = db.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].StoppedAt.Valid)
}

func TestDuplicateSessionRejected(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateSession("dup", 640, 480))
	assert.Error(t, db.CreateSession("dup", 640, 480))
}

func TestObservationsRoundtrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateSession("s1", 1280, 720))

	require.NoError(t, db.RecordObservation("s1", 1, "track", 640, 360, 80, 60, 0.95, false))
	require.NoError(t, db.RecordObservation("s1", 2, "track", 644, 362, 80, 60, 0.92, false))
	require.NoError(t, db.RecordObservation("s1", 3, "lost", 648, 364, 80, 60, 0.5, true))

	obs, err := db.Observations("s1")
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, 1, obs[0].Frame)
	assert.Equal(t, "track", obs[0].Mode)
	assert.Equal(t, 640, obs[0].X)
	assert.InDelta(t, 0.95, obs[0].Confidence, 1e-9)
	assert.False(t, obs[0].Predicted)

	assert.Equal(t, "lost", obs[2].Mode)
	assert.True(t, obs[2].Predicted)

	// Observations for an unknown session are empty, not an error.
	obs, err = db.Observations("missing")
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestRecordTelemetry(t *testing.T) {
	db := openTestDB(t)

	err := db.RecordTelemetry(1234, 1.5, -0.5, 180, 35.68, 51.38, 1190, [4]float64{1, -1, 2, -2})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry_frames").Scan(&count))
	assert.Equal(t, 1, count)

	var roll, servo3 float64
	require.NoError(t, db.QueryRow("SELECT roll, servo3 FROM telemetry_frames").Scan(&roll, &servo3))
	assert.InDelta(t, 1.5, roll, 1e-9)
	assert.InDelta(t, -2, servo3, 1e-9)
}

func TestSessionsLimit(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateSession(id, 1280, 720))
	}
	sessions, err := db.Sessions(2)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
