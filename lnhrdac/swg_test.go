package lnhrdac

import (
	"testing"
)

func TestSWGConfigValidate(t *testing.T) {
	good := SWGConfig{Shape: ShapeSine, Frequency: 100, Amplitude: 1}
	if err := good.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	cases := []struct {
		name string
		cfg  SWGConfig
	}{
		{"zero frequency", SWGConfig{Shape: ShapeSine, Amplitude: 1}},
		{"frequency too high", SWGConfig{Shape: ShapeSine, Frequency: 20000, Amplitude: 1}},
		{"amplitude too big", SWGConfig{Shape: ShapeSine, Frequency: 100, Amplitude: 51}},
		{"offset out of range", SWGConfig{Shape: ShapeSine, Frequency: 100, Offset: 11}},
		{"phase out of range", SWGConfig{Shape: ShapeSine, Frequency: 100, Phase: 361}},
		{"duty out of range", SWGConfig{Shape: ShapePulse, Frequency: 100, DutyCycle: 101}},
	}
	for _, c := range cases {
		if err := c.cfg.Validate(); err == nil {
			t.Errorf("%s: config accepted", c.name)
		}
	}
}

func TestParseShape(t *testing.T) {
	s, err := ParseShape("Random Noise")
	if err != nil {
		t.Fatalf("ParseShape errored: %v", err)
	}
	if s != ShapeRandomNoise {
		t.Errorf("parsed %v, want random noise", s)
	}
	if _, err := ParseShape("square"); err == nil {
		t.Error("ParseShape accepted an unknown name")
	}
}

func TestSWGApply(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	err := d.SWG().Configure(SWGConfig{
		Shape:     ShapeSine,
		Frequency: 1000,
		Amplitude: 1,
	})
	if err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	if err := d.SWG().Apply(SlotB); err != nil {
		t.Fatalf("Apply errored: %v", err)
	}
	// 1 kHz at the default 10µs clock comes out to 100 points
	size, err := d.AWG(SlotB).MemorySize()
	if err != nil {
		t.Fatalf("MemorySize errored: %v", err)
	}
	if size != 100 {
		t.Errorf("AWG memory holds %d points, want 100", size)
	}
	wf, err := d.AWG(SlotB).Waveform()
	if err != nil {
		t.Fatalf("Waveform errored: %v", err)
	}
	if len(wf) != 100 {
		t.Errorf("wave memory holds %d points, want 100", len(wf))
	}
}

func TestSWGApplyRespectsLock(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	d.AWG(SlotA).setLocked(true)
	defer d.AWG(SlotA).setLocked(false)
	if err := d.SWG().Apply(SlotA); err == nil {
		t.Error("Apply succeeded on a locked AWG")
	}
}

func TestSWGCosinePhaseLead(t *testing.T) {
	d, m := newTestDAC(t, 24)
	err := d.SWG().Configure(SWGConfig{
		Shape:     ShapeCosine,
		Frequency: 100,
		Amplitude: 1,
		Phase:     10,
	})
	if err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	m.mu.Lock()
	phase := m.swg.phase
	m.mu.Unlock()
	if phase != 100 {
		t.Errorf("device phase %v, want 100 (10 + cosine lead)", phase)
	}
}

func TestSWGRectanglePinsDutyCycle(t *testing.T) {
	d, m := newTestDAC(t, 24)
	err := d.SWG().Configure(SWGConfig{
		Shape:     ShapeRectangle,
		Frequency: 100,
		Amplitude: 1,
		DutyCycle: 80,
	})
	if err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	m.mu.Lock()
	duty := m.swg.duty
	m.mu.Unlock()
	if duty != 50 {
		t.Errorf("device duty cycle %v, want 50 for rectangle", duty)
	}
}
