package wire

import "encoding/binary"

// Telemetry frame layout: 2-byte header, 1-byte payload length, fixed
// little-endian fields, trailing XOR checksum over all preceding bytes.
const (
	TelemetryFrameSize = 73

	telemetryHeader1 = 0xAA
	telemetryHeader2 = 0x55
)

// Telemetry is the ~60Hz platform snapshot in wire scaling: angles are
// degrees ×10, accelerations g ×100, coordinates degrees ×1e7, speeds
// cm/s, HDOP ×100, temperature °C ×10.
type Telemetry struct {
	Timestamp uint32

	Roll  int16
	Pitch int16
	Yaw   int16

	AccX int16
	AccY int16
	AccZ int16

	Pressure     uint16
	BaroAltitude int16

	Latitude    int32
	Longitude   int32
	GpsAltitude int16
	Speed       uint16
	Heading     uint16
	Satellites  uint8
	GpsFix      uint8
	Hdop        uint16

	ServoCmd [4]int16
	ServoFb  [4]int16

	ServoOnline uint8

	TargetX int16
	TargetY int16
	TargetW uint16
	TargetH uint16

	BatteryPercent uint8
	Charging       uint8
	BatteryVoltage uint16

	Temperature int16
}

// SetOrientation stores roll/pitch/yaw in degrees with wire scaling.
func (t *Telemetry) SetOrientation(roll, pitch, yaw float64) {
	t.Roll = int16(roll * 10)
	t.Pitch = int16(pitch * 10)
	t.Yaw = int16(yaw * 10)
}

// SetAccelerometer stores the acceleration in g with wire scaling.
func (t *Telemetry) SetAccelerometer(x, y, z float64) {
	t.AccX = int16(x * 100)
	t.AccY = int16(y * 100)
	t.AccZ = int16(z * 100)
}

// SetGps stores a fix with wire scaling.
func (t *Telemetry) SetGps(lat, lon, alt, speed, heading float64, satellites, fix int, hdop float64) {
	t.Latitude = int32(lat * 1e7)
	t.Longitude = int32(lon * 1e7)
	t.GpsAltitude = int16(alt)
	t.Speed = uint16(speed * 100)
	t.Heading = uint16(heading * 10)
	t.Satellites = uint8(satellites)
	t.GpsFix = uint8(fix)
	t.Hdop = uint16(hdop * 100)
}

// SetServoCommands stores the four commanded angles in degrees.
func (t *Telemetry) SetServoCommands(angles [4]float64) {
	for i, a := range angles {
		t.ServoCmd[i] = int16(a * 10)
	}
}

// SetServoFeedback stores the four feedback angles in degrees.
func (t *Telemetry) SetServoFeedback(angles [4]float64) {
	for i, a := range angles {
		t.ServoFb[i] = int16(a * 10)
	}
}

// SetTracking stores the current target box.
func (t *Telemetry) SetTracking(x, y, w, h int) {
	t.TargetX = int16(x)
	t.TargetY = int16(y)
	t.TargetW = uint16(w)
	t.TargetH = uint16(h)
}

// SetTemperature stores the temperature in °C with wire scaling.
func (t *Telemetry) SetTemperature(tempC float64) {
	t.Temperature = int16(tempC * 10)
}

// EncodeTelemetry appends the 73-byte frame for t to dst and returns the
// extended slice.
func EncodeTelemetry(dst []byte, t *Telemetry) []byte {
	buf := make([]byte, 0, TelemetryFrameSize)

	buf = append(buf, telemetryHeader1, telemetryHeader2)
	buf = append(buf, byte(TelemetryFrameSize-3))

	buf = binary.LittleEndian.AppendUint32(buf, t.Timestamp)

	buf = appendInt16(buf, t.Roll)
	buf = appendInt16(buf, t.Pitch)
	buf = appendInt16(buf, t.Yaw)

	buf = appendInt16(buf, t.AccX)
	buf = appendInt16(buf, t.AccY)
	buf = appendInt16(buf, t.AccZ)

	buf = binary.LittleEndian.AppendUint16(buf, t.Pressure)
	buf = appendInt16(buf, t.BaroAltitude)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Latitude))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Longitude))
	buf = appendInt16(buf, t.GpsAltitude)
	buf = binary.LittleEndian.AppendUint16(buf, t.Speed)
	buf = binary.LittleEndian.AppendUint16(buf, t.Heading)
	buf = append(buf, t.Satellites, t.GpsFix)
	buf = binary.LittleEndian.AppendUint16(buf, t.Hdop)

	for _, v := range t.ServoCmd {
		buf = appendInt16(buf, v)
	}
	for _, v := range t.ServoFb {
		buf = appendInt16(buf, v)
	}
	buf = append(buf, t.ServoOnline)

	buf = appendInt16(buf, t.TargetX)
	buf = appendInt16(buf, t.TargetY)
	buf = binary.LittleEndian.AppendUint16(buf, t.TargetW)
	buf = binary.LittleEndian.AppendUint16(buf, t.TargetH)

	buf = append(buf, t.BatteryPercent, t.Charging)
	buf = binary.LittleEndian.AppendUint16(buf, t.BatteryVoltage)

	buf = appendInt16(buf, t.Temperature)

	var checksum byte
	for _, b := range buf {
		checksum ^= b
	}
	buf = append(buf, checksum)

	return append(dst, buf...)
}

// DecodeTelemetry parses a 73-byte frame, verifying the header and
// checksum. Used by ground tooling and tests.
func DecodeTelemetry(data []byte) (Telemetry, bool) {
	if len(data) < TelemetryFrameSize {
		return Telemetry{}, false
	}
	if data[0] != telemetryHeader1 || data[1] != telemetryHeader2 {
		return Telemetry{}, false
	}

	var checksum byte
	for _, b := range data[:TelemetryFrameSize-1] {
		checksum ^= b
	}
	if checksum != data[TelemetryFrameSize-1] {
		return Telemetry{}, false
	}

	var t Telemetry
	i := 3
	t.Timestamp = binary.LittleEndian.Uint32(data[i:])
	i += 4

	t.Roll = readInt16(data, &i)
	t.Pitch = readInt16(data, &i)
	t.Yaw = readInt16(data, &i)

	t.AccX = readInt16(data, &i)
	t.AccY = readInt16(data, &i)
	t.AccZ = readInt16(data, &i)

	t.Pressure = binary.LittleEndian.Uint16(data[i:])
	i += 2
	t.BaroAltitude = readInt16(data, &i)

	t.Latitude = int32(binary.LittleEndian.Uint32(data[i:]))
	i += 4
	t.Longitude = int32(binary.LittleEndian.Uint32(data[i:]))
	i += 4
	t.GpsAltitude = readInt16(data, &i)
	t.Speed = binary.LittleEndian.Uint16(data[i:])
	i += 2
	t.Heading = binary.LittleEndian.Uint16(data[i:])
	i += 2
	t.Satellites = data[i]
	i++
	t.GpsFix = data[i]
	i++
	t.Hdop = binary.LittleEndian.Uint16(data[i:])
	i += 2

	for j := range t.ServoCmd {
		t.ServoCmd[j] = readInt16(data, &i)
	}
	for j := range t.ServoFb {
		t.ServoFb[j] = readInt16(data, &i)
	}
	t.ServoOnline = data[i]
	i++

	t.TargetX = readInt16(data, &i)
	t.TargetY = readInt16(data, &i)
	t.TargetW = binary.LittleEndian.Uint16(data[i:])
	i += 2
	t.TargetH = binary.LittleEndian.Uint16(data[i:])
	i += 2

	t.BatteryPercent = data[i]
	i++
	t.Charging = data[i]
	i++
	t.BatteryVoltage = binary.LittleEndian.Uint16(data[i:])
	i += 2

	t.Temperature = readInt16(data, &i)

	return t, true
}

func appendInt16(dst []byte, v int16) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(v))
}

func readInt16(data []byte, i *int) int16 {
	v := int16(binary.LittleEndian.Uint16(data[*i:]))
	*i += 2
	return v
}
