package filter

import (
	"math"
	"testing"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, -1, 1); got != 1 {
		t.Errorf("Clamp(5,-1,1) = %v, want 1", got)
	}
	if got := Clamp(-5, -1, 1); got != -1 {
		t.Errorf("Clamp(-5,-1,1) = %v, want -1", got)
	}
	if got := Clamp(0.5, -1, 1); got != 0.5 {
		t.Errorf("Clamp(0.5,-1,1) = %v, want 0.5", got)
	}
}

func TestDeadzone(t *testing.T) {
	// Inside the band: hold the last value.
	if got := Deadzone(10.4, 0.5, 10.0); got != 10.0 {
		t.Errorf("Deadzone inside band = %v, want 10.0", got)
	}
	// Outside: pass through.
	if got := Deadzone(10.6, 0.5, 10.0); got != 10.6 {
		t.Errorf("Deadzone outside band = %v, want 10.6", got)
	}
}

func TestLowPassPrimesOnFirstSample(t *testing.T) {
	f := &LowPass{Alpha: 0.5}
	if got := f.Update(10); got != 10 {
		t.Fatalf("first sample = %v, want 10", got)
	}
	if got := f.Update(20); got != 15 {
		t.Errorf("second sample = %v, want 15", got)
	}
	f.Reset()
	if got := f.Update(4); got != 4 {
		t.Errorf("after reset first sample = %v, want 4", got)
	}
}

func TestLowPassConverges(t *testing.T) {
	f := &LowPass{Alpha: 0.3}
	f.Update(0)
	var y float64
	for i := 0; i < 50; i++ {
		y = f.Update(100)
	}
	if !approx(y, 100, 0.01) {
		t.Errorf("converged value = %v, want ~100", y)
	}
}

func TestVecLowPass(t *testing.T) {
	f := NewVecLowPass(0.5)
	x, y, z := f.Update(2, 4, 6)
	if x != 2 || y != 4 || z != 6 {
		t.Fatalf("first vector = (%v,%v,%v), want (2,4,6)", x, y, z)
	}
	x, y, z = f.Update(4, 8, 12)
	if x != 3 || y != 6 || z != 9 {
		t.Errorf("second vector = (%v,%v,%v), want (3,6,9)", x, y, z)
	}
}

func TestMovingAverageWindow(t *testing.T) {
	m := NewMovingAverage(3)
	if got := m.Update(3); got != 3 {
		t.Errorf("after 1 sample = %v, want 3", got)
	}
	if got := m.Update(6); got != 4.5 {
		t.Errorf("after 2 samples = %v, want 4.5", got)
	}
	if got := m.Update(9); got != 6 {
		t.Errorf("after 3 samples = %v, want 6", got)
	}
	// Oldest (3) drops out of the window.
	if got := m.Update(12); got != 9 {
		t.Errorf("after 4 samples = %v, want 9", got)
	}
}

func TestMovingAverageCapsWindow(t *testing.T) {
	m := NewMovingAverage(1000)
	if m.size != maxWindow {
		t.Errorf("window = %d, want %d", m.size, maxWindow)
	}
	m = NewMovingAverage(0)
	if m.size != 1 {
		t.Errorf("window = %d, want 1", m.size)
	}
}

func TestComplementaryFirstSampleTakesSlow(t *testing.T) {
	c := &Complementary{Alpha: 0.98}
	if got := c.Update(100, 10); got != 10 {
		t.Fatalf("first sample = %v, want slow reference 10", got)
	}
	got := c.Update(100, 10)
	want := 0.98*100 + 0.02*10
	if !approx(got, want, 1e-12) {
		t.Errorf("second sample = %v, want %v", got, want)
	}
}
