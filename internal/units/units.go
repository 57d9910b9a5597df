// Package units provides shared angle and geodetic conversion helpers.
package units

import "math"

// MetersPerDegreeLat is the approximate north-south ground distance of one
// degree of latitude.
const MetersPerDegreeLat = 111000.0

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// MetersPerDegreeLon returns the east-west ground distance of one degree of
// longitude at the given latitude.
func MetersPerDegreeLon(latDeg float64) float64 {
	return MetersPerDegreeLat * math.Cos(DegToRad(latDeg))
}

// PixelError returns the signed pixel offset of a point from the image
// centre, the quantity the guidance loop drives to zero.
func PixelError(x, y, imageWidth, imageHeight int) (errX, errY float64) {
	return float64(x - imageWidth/2), float64(y - imageHeight/2)
}
