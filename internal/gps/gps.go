// Package gps parses the binary navigation frames emitted by the KCA
// serial receiver. A frame is two sync bytes, a fixed 160-byte
// little-endian payload and a CRC-16 trailer (poly 0x1021, low byte
// first). The parser is push-style: feed it raw bytes from the serial
// bus and collect decoded frames.
package gps

import (
	"encoding/binary"
	"math"

	"github.com/osprey-dynamics/sightline/internal/monitoring"
)

const (
	sync1 = 0x81
	sync2 = 0x7E

	// PayloadSize is the fixed navigation payload length.
	PayloadSize = 160
)

// Receiver fix streak before reports are trusted. The receiver flags a
// fix immediately, but position quality settles only after it has held
// one for a while.
const fixStreakThreshold = 75

// NavFrame is one decoded navigation payload.
type NavFrame struct {
	MsgType uint8
	// State is the receiver fix state, 0 when no fix.
	State   uint8
	UTCTime uint32

	// Visible/used satellite bitmasks per constellation.
	VisSat        uint32
	UseSat        uint32
	GlonassVisSat uint32
	GlonassUseSat uint32

	// Geodetic position, degrees and meters.
	Lat float64
	Lon float64
	Alt float64

	// Velocity in the receiver frame, m/s.
	VelX float64
	VelY float64
	VelZ float64

	Snr        [12]uint8
	GlonassSnr [12]uint8

	PackDelayMillis int32

	Gdop uint8
	Pdop uint8
	Hdop uint8

	// Valid reports whether the frame passes the fix-quality gate:
	// receiver state nonzero, a settled fix streak and enough used
	// satellites across both constellations.
	Valid bool
}

// UsedSatellites counts satellites that are both visible and used, per
// constellation. The used mask is aligned against the visible mask bit
// by bit.
func (f *NavFrame) UsedSatellites() (gps, glonass int) {
	return countUsed(f.VisSat, f.UseSat), countUsed(f.GlonassVisSat, f.GlonassUseSat)
}

func countUsed(vis, use uint32) int {
	n := 0
	for ; vis != 0; vis, use = vis>>1, use>>1 {
		if vis&1 != 0 && use&1 != 0 {
			n++
		}
	}
	return n
}

// DilutionMeters expands a compressed DOP byte into meters. The
// receiver packs the dilution on a piecewise scale that grows coarser
// with magnitude.
func DilutionMeters(dp uint8) float64 {
	d := float64(dp)
	switch {
	case dp < 100:
		return 0.05 * d
	case dp < 150:
		return (d - 80) * 0.25
	case dp < 200:
		return d - 132.5
	default:
		return (d - 197.625) * 20
	}
}

// Crc16 computes the CRC-16/CCITT (poly 0x1021, init 0) of data.
func Crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// parser states
const (
	stateSync1 = iota
	stateSync2
	statePayload
	stateCrcLow
	stateCrcHigh
)

// Parser is a resynchronising byte-stream scanner for KCA frames.
// Not safe for concurrent use.
type Parser struct {
	state   int
	buf     [PayloadSize]byte
	n       int
	wantCrc uint16

	fixStreak int

	// Counters for diagnostics.
	Frames      int
	FrameErrors int
	Bytes       int
}

// Feed scans a chunk of raw bytes and returns any frames completed
// within it.
func (p *Parser) Feed(data []byte) []NavFrame {
	var frames []NavFrame
	for _, c := range data {
		if f, ok := p.ParseByte(c); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// ParseByte advances the scanner by one byte. It returns a decoded
// frame and true when the byte completes a valid frame.
func (p *Parser) ParseByte(c byte) (NavFrame, bool) {
	p.Bytes++
	switch p.state {
	case stateSync1:
		if c == sync1 {
			p.state = stateSync2
		}
	case stateSync2:
		if c != sync2 {
			p.fail()
			break
		}
		p.n = 0
		p.state = statePayload
	case statePayload:
		p.buf[p.n] = c
		p.n++
		if p.n == PayloadSize {
			p.wantCrc = Crc16(p.buf[:])
			p.state = stateCrcLow
		}
	case stateCrcLow:
		if c != byte(p.wantCrc&0xFF) {
			p.fail()
			break
		}
		p.state = stateCrcHigh
	case stateCrcHigh:
		if c != byte(p.wantCrc>>8) {
			p.fail()
			break
		}
		p.state = stateSync1
		p.Frames++
		return p.decode(), true
	}
	return NavFrame{}, false
}

func (p *Parser) fail() {
	p.FrameErrors++
	p.state = stateSync1
	monitoring.Logf("gps: framing error (%d total)", p.FrameErrors)
}

// Reset returns the scanner to its initial state, keeping the counters.
func (p *Parser) Reset() {
	p.state = stateSync1
	p.n = 0
	p.fixStreak = 0
}

func (p *Parser) decode() NavFrame {
	b := p.buf[:]
	f := NavFrame{
		MsgType:       b[0],
		State:         b[1],
		UTCTime:       binary.LittleEndian.Uint32(b[3:]),
		VisSat:        binary.LittleEndian.Uint32(b[7:]),
		UseSat:        binary.LittleEndian.Uint32(b[11:]),
		GlonassVisSat: binary.LittleEndian.Uint32(b[15:]),
		GlonassUseSat: binary.LittleEndian.Uint32(b[19:]),

		Lat: float64(readFloat32(b, 47)),
		Lon: float64(readFloat32(b, 55)),
		Alt: float64(readFloat32(b, 63)),

		VelX: float64(readFloat32(b, 71)),
		VelY: float64(readFloat32(b, 79)),
		VelZ: float64(readFloat32(b, 87)),

		PackDelayMillis: int32(binary.LittleEndian.Uint32(b[139:])),
		Gdop:            b[143],
		Pdop:            b[144],
		Hdop:            b[145],
	}
	copy(f.Snr[:], b[107:119])
	copy(f.GlonassSnr[:], b[119:131])

	if f.State == 0 {
		p.fixStreak = 0
	} else {
		p.fixStreak++
	}

	if f.State >= 1 && p.fixStreak > fixStreakThreshold {
		usedGps, usedGlo := f.UsedSatellites()
		f.Valid = usedGps+usedGlo > 4 && (usedGps > 3 || usedGlo > 3)
	}
	return f
}

func readFloat32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}
