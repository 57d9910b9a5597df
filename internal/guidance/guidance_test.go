package guidance

import (
	"math"
	"testing"
)

func TestControllerInactiveIgnoresUpdates(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Update(100, 100, 0.033)

	if pitch, yaw := c.Commands(); pitch != 0 || yaw != 0 {
		t.Errorf("commands = (%v, %v) before Start, want zero", pitch, yaw)
	}
	if c.ServoAngles() != ([ServoCount]float64{}) {
		t.Error("servo angles moved before Start")
	}
	if c.Active() {
		t.Error("controller active before Start")
	}
}

func TestControllerSingleStep(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Start()
	c.Update(4, 2, 0.033)

	pitch, yaw := c.Commands()
	if math.Abs(yaw-5.083636363636364) > 1e-9 {
		t.Errorf("yaw = %v", yaw)
	}
	// Pitch is sign-inverted: a target below centre tilts the gimbal up.
	if math.Abs(pitch+2.541818181818182) > 1e-9 {
		t.Errorf("pitch = %v", pitch)
	}

	want := MixX(pitch, yaw)
	if got := c.ServoAngles(); got != want {
		t.Errorf("servo angles = %v, want %v", got, want)
	}
	if math.Abs(want[0]-2.541818181818182) > 1e-9 ||
		math.Abs(want[1]+7.625454545454545) > 1e-9 {
		t.Errorf("mixed angles = %v", want)
	}

	fx, fy := c.FilteredError()
	if math.Abs(fx-2.4) > 1e-12 || math.Abs(fy-1.2) > 1e-12 {
		t.Errorf("filtered error = (%v, %v), want (2.4, 1.2)", fx, fy)
	}
}

func TestMixXAntiSymmetry(t *testing.T) {
	s := MixX(3.5, -1.25)
	if s[0]+s[2] != 0 || s[1]+s[3] != 0 {
		t.Errorf("MixX pairs do not cancel: %v", s)
	}
	if s[0] != 3.5+(-1.25) || s[1] != 3.5-(-1.25) {
		t.Errorf("MixX = %v", s)
	}
}

func TestControllerClampsServoAngles(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Start()
	c.Update(640, 360, 0.033)

	for i, a := range c.ServoAngles() {
		if math.Abs(a) > DefaultCmdMax {
			t.Errorf("servo %d = %v exceeds %v", i, a, DefaultCmdMax)
		}
	}
	// A large error pins the pair driven by both axes.
	if got := c.ServoAngles()[1]; got != -DefaultCmdMax {
		t.Errorf("servo 1 = %v, want %v", got, -DefaultCmdMax)
	}
}

func TestSetConfigAppliesMidLoop(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Start()
	c.Update(4, 2, 0.033)

	cfg := DefaultConfig()
	cfg.Yaw.Kp, cfg.Pitch.Kp = 1.0, 1.0
	cfg.Yaw.OutputMax, cfg.Yaw.OutputMin = 10, -10
	cfg.Pitch.OutputMax, cfg.Pitch.OutputMin = 10, -10
	cfg.CmdMax = 10
	c.SetConfig(cfg)

	// Still active: retuning must not reset the loop.
	if !c.Active() {
		t.Fatal("SetConfig deactivated the loop")
	}

	c.Update(640, 360, 0.033)
	if _, yaw := c.Commands(); yaw != 10 {
		t.Errorf("yaw = %v, want pinned at new max 10", yaw)
	}
	for i, a := range c.ServoAngles() {
		if math.Abs(a) > 10 {
			t.Errorf("servo %d = %v exceeds new clamp 10", i, a)
		}
	}
}

func TestControllerStopZeroes(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Start()
	c.Update(4, 2, 0.033)
	c.Stop()

	if c.Active() {
		t.Error("still active after Stop")
	}
	if pitch, yaw := c.Commands(); pitch != 0 || yaw != 0 {
		t.Errorf("commands = (%v, %v) after Stop", pitch, yaw)
	}
	if c.ServoAngles() != ([ServoCount]float64{}) {
		t.Error("servo angles not zeroed by Stop")
	}
	// Updates after Stop are ignored until the next Start.
	c.Update(4, 2, 0.033)
	if c.ServoAngles() != ([ServoCount]float64{}) {
		t.Error("update applied while stopped")
	}
}

func TestControllerStartResetsFilters(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Start()
	c.Update(4, 2, 0.033)
	first := c.ServoAngles()

	c.Stop()
	c.Start()
	c.Update(4, 2, 0.033)
	if got := c.ServoAngles(); got != first {
		t.Errorf("restarted step = %v, want %v", got, first)
	}
}
