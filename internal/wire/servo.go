// Package wire implements the binary boundary codecs: the 5-byte servo
// command frame spoken by the CAN-to-serial bridge and the 73-byte
// little-endian telemetry frame streamed to the ground station. Pure byte
// serialisation, no I/O.
package wire

import "github.com/osprey-dynamics/sightline/internal/filter"

// Servo frame layout: [sync|opcode|idHigh] [idLow] [posHigh7] [posLow7]
// [checksum], where checksum = XOR of the preceding four bytes & 0x7F.
const (
	ServoFrameSize = 5

	servoSyncBase       = 0x80
	servoOpcodePosition = 0x08
	servoOpcodeRead     = 0x00
)

// Servo position scaling. Positions span 14 bits with centre at 8191 and
// 40 units per degree, covering the ±25° mechanical range.
const (
	ServoPositionMin    = 0
	ServoPositionMax    = 16383
	ServoPositionCenter = 8191
	ServoUnitsPerDegree = 40.0
	ServoAngleLimit     = 25.0
)

// ServoFeedback is one parsed feedback frame from the bridge.
type ServoFeedback struct {
	ServoID  int
	Position int
	Angle    float64
}

// AngleToPosition converts a command angle in degrees to a raw position,
// clamping to the mechanical range.
func AngleToPosition(angle float64) int {
	clamped := filter.Clamp(angle, -ServoAngleLimit, ServoAngleLimit)
	pos := int(clamped*ServoUnitsPerDegree + ServoPositionCenter)
	return clampInt(pos, ServoPositionMin, ServoPositionMax)
}

// PositionToAngle converts a raw position back to degrees.
func PositionToAngle(position int) float64 {
	pos := clampInt(position, ServoPositionMin, ServoPositionMax)
	return float64(pos-ServoPositionCenter) / ServoUnitsPerDegree
}

// EncodeServoCommand appends a position command frame for the given servo
// and angle in degrees to dst and returns the extended slice.
func EncodeServoCommand(dst []byte, servoID int, angle float64) []byte {
	return EncodeServoPosition(dst, servoID, AngleToPosition(angle))
}

// EncodeServoPosition appends a position command frame with a raw position
// value to dst and returns the extended slice.
func EncodeServoPosition(dst []byte, servoID, position int) []byte {
	return encodeServoFrame(dst, servoOpcodePosition, servoID,
		clampInt(position, ServoPositionMin, ServoPositionMax))
}

// EncodeServoFeedbackRequest appends a read-position request frame to dst
// and returns the extended slice.
func EncodeServoFeedbackRequest(dst []byte, servoID int) []byte {
	return encodeServoFrame(dst, servoOpcodeRead, servoID, 0)
}

func encodeServoFrame(dst []byte, opcode, servoID, position int) []byte {
	sync := byte(servoSyncBase | opcode | ((servoID >> 7) & 0x03))
	id := byte(servoID & 0x7F)
	hPos := byte((position >> 7) & 0x7F)
	lPos := byte(position & 0x7F)
	checksum := (sync ^ id ^ hPos ^ lPos) & 0x7F
	return append(dst, sync, id, hPos, lPos, checksum)
}

// ParseServoFeedback scans data for a valid feedback frame: it seeks the
// first byte with the sync bit set, then verifies the XOR checksum. It
// returns the parsed feedback and true, or false when no valid frame is
// present.
func ParseServoFeedback(data []byte) (ServoFeedback, bool) {
	if len(data) < ServoFrameSize {
		return ServoFeedback{}, false
	}

	start := -1
	for i := 0; i+ServoFrameSize <= len(data); i++ {
		if data[i]&0x80 != 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return ServoFeedback{}, false
	}

	sync := data[start]
	id := data[start+1]
	hPos := data[start+2]
	lPos := data[start+3]
	checksum := data[start+4]

	if checksum != (sync^id^hPos^lPos)&0x7F {
		return ServoFeedback{}, false
	}

	position := int(hPos&0x7F)<<7 | int(lPos&0x7F)
	return ServoFeedback{
		ServoID:  int(sync&0x03)<<7 | int(id&0x7F),
		Position: position,
		Angle:    PositionToAngle(position),
	}, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
