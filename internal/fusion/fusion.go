// Package fusion blends IMU-integrated displacement with periodic GPS
// fixes into an absolute platform position and velocity estimate. It is a
// complementary filter: the IMU supplies the fast signal between fixes and
// each fix re-anchors the slow one.
package fusion

import (
	"github.com/osprey-dynamics/sightline/internal/monitoring"
	"github.com/osprey-dynamics/sightline/internal/units"
)

// DefaultAlpha weights the IMU path at 98%, leaving 2% GPS correction per
// fix.
const DefaultAlpha = 0.98

// Fix is one GPS position report.
type Fix struct {
	Lat float64
	Lon float64
	Alt float64
	// TimestampMillis is the receiver timestamp of the fix.
	TimestampMillis int64
}

// Estimator holds the fusion state. IMU integration is a no-op until the
// first fix arrives.
//
// Not safe for concurrent use; callers serialise access.
type Estimator struct {
	alpha float64

	fix    Fix
	hasFix bool

	// NED offsets and velocities integrated since the last fix.
	offsetN, offsetE, offsetD float64
	velN, velE, velD          float64

	fusedLat, fusedLon, fusedAlt float64
}

// NewEstimator returns an estimator with the given complementary
// coefficient.
func NewEstimator(alpha float64) *Estimator {
	e := &Estimator{}
	e.Init(alpha)
	return e
}

// Init resets all accumulators and installs a new coefficient.
func (e *Estimator) Init(alpha float64) {
	e.alpha = alpha
	e.hasFix = false
	e.offsetN, e.offsetE, e.offsetD = 0, 0, 0
	e.velN, e.velE, e.velD = 0, 0, 0
	e.fusedLat, e.fusedLon, e.fusedAlt = 0, 0, 0
	monitoring.Logf("fusion: initialised, alpha=%.2f", alpha)
}

// UpdateGps records a fix and decays the integrated offsets by alpha.
// The offsets deliberately persist across fixes as a continuous blend
// instead of resetting; downstream consumers depend on this exact
// behaviour.
func (e *Estimator) UpdateGps(lat, lon, alt float64, timestampMillis int64) {
	e.fix = Fix{Lat: lat, Lon: lon, Alt: alt, TimestampMillis: timestampMillis}

	e.offsetN *= e.alpha
	e.offsetE *= e.alpha
	e.offsetD *= e.alpha

	e.hasFix = true
}

// IntegrateImu folds one accelerometer sample (NED frame, m/s²) over dt
// seconds into the velocity and offset accumulators and refreshes the
// fused position. Euler double integration with no bias estimation; a
// no-op until a fix exists.
func (e *Estimator) IntegrateImu(accelN, accelE, accelD, dt float64) {
	if !e.hasFix {
		return
	}

	e.velN += accelN * dt
	e.velE += accelE * dt
	e.velD += accelD * dt

	e.offsetN += e.velN * dt
	e.offsetE += e.velE * dt
	e.offsetD += e.velD * dt

	e.fusedLat = e.fix.Lat + e.offsetN/units.MetersPerDegreeLat
	e.fusedLon = e.fix.Lon + e.offsetE/units.MetersPerDegreeLon(e.fix.Lat)
	e.fusedAlt = e.fix.Alt - e.offsetD
}

// Position returns the blended position.
func (e *Estimator) Position() (lat, lon, alt float64) {
	return e.fusedLat, e.fusedLon, e.fusedAlt
}

// Velocity returns the integrated NED velocity since the last fix.
func (e *Estimator) Velocity() (velN, velE, velD float64) {
	return e.velN, e.velE, e.velD
}

// HasFix reports whether a GPS fix has been received.
func (e *Estimator) HasFix() bool { return e.hasFix }

// LastFix returns the most recent fix. Only meaningful when HasFix.
func (e *Estimator) LastFix() Fix { return e.fix }
