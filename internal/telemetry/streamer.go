// Package telemetry streams the platform snapshot frame to the ground
// link at a fixed rate. Producers update the snapshot from their own
// loops (guidance, fusion, servo feedback); the streamer serialises the
// current snapshot on every tick regardless of which fields changed.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/monitoring"
	"github.com/osprey-dynamics/sightline/internal/timeutil"
	"github.com/osprey-dynamics/sightline/internal/wire"
)

// DefaultInterval is the ~60Hz downlink rate.
const DefaultInterval = 16 * time.Millisecond

// recordEvery thins database recording to roughly 6Hz at the default
// downlink rate.
const recordEvery = 10

// Streamer owns the telemetry snapshot and the downlink loop.
type Streamer struct {
	mu       sync.Mutex
	snapshot wire.Telemetry

	// engineering-unit shadow of the fields persisted to the store
	roll, pitch, yaw float64
	lat, lon, alt    float64
	servoCmd         [4]float64

	clock    timeutil.Clock
	interval time.Duration
	sink     io.Writer
	store    *db.DB

	start  time.Time
	frames int
}

// NewStreamer returns a streamer writing frames to sink every interval.
// store may be nil to disable recording.
func NewStreamer(sink io.Writer, interval time.Duration, clock timeutil.Clock, store *db.DB) *Streamer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Streamer{
		clock:    clock,
		interval: interval,
		sink:     sink,
		store:    store,
	}
}

// SetOrientation updates the attitude snapshot, degrees.
func (s *Streamer) SetOrientation(roll, pitch, yaw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetOrientation(roll, pitch, yaw)
	s.roll, s.pitch, s.yaw = roll, pitch, yaw
}

// SetAccelerometer updates the acceleration snapshot, g.
func (s *Streamer) SetAccelerometer(x, y, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetAccelerometer(x, y, z)
}

// SetGps updates the position snapshot.
func (s *Streamer) SetGps(lat, lon, alt, speed, heading float64, satellites, fix int, hdop float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetGps(lat, lon, alt, speed, heading, satellites, fix, hdop)
	s.lat, s.lon, s.alt = lat, lon, alt
}

// SetBarometer updates the pressure snapshot.
func (s *Streamer) SetBarometer(pressureHPa, altitudeMeters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Pressure = uint16(pressureHPa)
	s.snapshot.BaroAltitude = int16(altitudeMeters * 10)
}

// SetServoCommands updates the commanded servo angles, degrees.
func (s *Streamer) SetServoCommands(angles [4]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetServoCommands(angles)
	s.servoCmd = angles
}

// SetServoFeedback updates the measured servo angles and online mask.
func (s *Streamer) SetServoFeedback(angles [4]float64, online uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetServoFeedback(angles)
	s.snapshot.ServoOnline = online
}

// SetTracking updates the current target box.
func (s *Streamer) SetTracking(x, y, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetTracking(x, y, w, h)
}

// SetBattery updates the battery snapshot.
func (s *Streamer) SetBattery(percent int, charging bool, millivolts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.BatteryPercent = uint8(percent)
	if charging {
		s.snapshot.Charging = 1
	} else {
		s.snapshot.Charging = 0
	}
	s.snapshot.BatteryVoltage = uint16(millivolts)
}

// SetTemperature updates the temperature snapshot, °C.
func (s *Streamer) SetTemperature(tempC float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SetTemperature(tempC)
}

// Snapshot returns a copy of the current telemetry state.
func (s *Streamer) Snapshot() wire.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Frames returns the number of frames written so far.
func (s *Streamer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Run drives the downlink loop until the context is cancelled. A sink
// write failure stops the loop; store write failures are logged and the
// loop continues.
func (s *Streamer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.start = s.clock.Now()
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	buf := make([]byte, 0, wire.TelemetryFrameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := s.emit(buf); err != nil {
				return fmt.Errorf("telemetry sink: %w", err)
			}
		}
	}
}

func (s *Streamer) emit(buf []byte) error {
	s.mu.Lock()
	uptime := s.clock.Since(s.start)
	s.snapshot.Timestamp = uint32(uptime / time.Millisecond)
	frame := wire.EncodeTelemetry(buf[:0], &s.snapshot)
	s.frames++
	record := s.store != nil && s.frames%recordEvery == 0
	roll, pitch, yaw := s.roll, s.pitch, s.yaw
	lat, lon, alt := s.lat, s.lon, s.alt
	servos := s.servoCmd
	s.mu.Unlock()

	if _, err := s.sink.Write(frame); err != nil {
		return err
	}

	if record {
		err := s.store.RecordTelemetry(int64(uptime/time.Millisecond),
			roll, pitch, yaw, lat, lon, alt, servos)
		if err != nil {
			monitoring.Logf("telemetry: record failed: %v", err)
		}
	}
	return nil
}
