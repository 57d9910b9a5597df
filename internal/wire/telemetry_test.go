package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleTelemetry() *Telemetry {
	t := &Telemetry{Timestamp: 123456}
	t.SetOrientation(12.3, -4.5, 180.0)
	t.SetAccelerometer(0.01, -0.02, 0.98)
	t.Pressure = 1013
	t.BaroAltitude = 1234 // 123.4 m
	t.SetGps(35.1234567, 51.7654321, 1200, 3.5, 270.0, 9, 3, 1.2)
	t.SetServoCommands([4]float64{1.5, -1.5, 2.0, -2.0})
	t.SetServoFeedback([4]float64{1.4, -1.4, 1.9, -1.9})
	t.ServoOnline = 0x0F
	t.SetTracking(640, 360, 80, 60)
	t.BatteryPercent = 87
	t.Charging = 1
	t.BatteryVoltage = 3950
	t.SetTemperature(36.5)
	return t
}

func TestTelemetryRoundtrip(t *testing.T) {
	in := sampleTelemetry()
	frame := EncodeTelemetry(nil, in)
	if len(frame) != TelemetryFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), TelemetryFrameSize)
	}
	if frame[0] != 0xAA || frame[1] != 0x55 {
		t.Fatalf("header = % X, want AA 55", frame[:2])
	}
	if frame[2] != TelemetryFrameSize-3 {
		t.Fatalf("length byte = %d, want %d", frame[2], TelemetryFrameSize-3)
	}

	out, ok := DecodeTelemetry(frame)
	if !ok {
		t.Fatal("valid frame rejected")
	}
	if diff := cmp.Diff(*in, out); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetryScaling(t *testing.T) {
	in := sampleTelemetry()
	if in.Roll != 123 || in.Pitch != -45 || in.Yaw != 1800 {
		t.Errorf("orientation scaling: roll=%d pitch=%d yaw=%d", in.Roll, in.Pitch, in.Yaw)
	}
	if in.AccZ != 98 {
		t.Errorf("accel scaling: accZ=%d, want 98", in.AccZ)
	}
	if in.Latitude != 351234567 || in.Longitude != 517654321 {
		t.Errorf("coordinate scaling: lat=%d lon=%d", in.Latitude, in.Longitude)
	}
	if in.Speed != 350 || in.Heading != 2700 || in.Hdop != 120 {
		t.Errorf("gps scaling: speed=%d heading=%d hdop=%d", in.Speed, in.Heading, in.Hdop)
	}
	if in.ServoCmd[0] != 15 || in.ServoFb[3] != -19 {
		t.Errorf("servo scaling: cmd0=%d fb3=%d", in.ServoCmd[0], in.ServoFb[3])
	}
	if in.Temperature != 365 {
		t.Errorf("temperature scaling: %d, want 365", in.Temperature)
	}
}

func TestTelemetryEncodeAppends(t *testing.T) {
	frame := EncodeTelemetry([]byte{0x01, 0x02}, sampleTelemetry())
	if len(frame) != 2+TelemetryFrameSize || frame[0] != 0x01 {
		t.Errorf("encode did not append, length=%d", len(frame))
	}
	if _, ok := DecodeTelemetry(frame[2:]); !ok {
		t.Error("appended frame does not decode")
	}
}

func TestDecodeTelemetryRejectsCorruption(t *testing.T) {
	frame := EncodeTelemetry(nil, sampleTelemetry())

	bad := append([]byte(nil), frame...)
	bad[10] ^= 0xFF
	if _, ok := DecodeTelemetry(bad); ok {
		t.Error("corrupted payload accepted")
	}

	bad = append([]byte(nil), frame...)
	bad[0] = 0xAB
	if _, ok := DecodeTelemetry(bad); ok {
		t.Error("bad header accepted")
	}

	if _, ok := DecodeTelemetry(frame[:TelemetryFrameSize-1]); ok {
		t.Error("short frame accepted")
	}
}
