package lnhrdac

import (
	"errors"
	"math"
	"testing"
)

func testScanConfig() ScanConfig {
	return ScanConfig{
		XChannel:         1,
		XStart:           0,
		XStop:            1,
		XSteps:           10,
		YChannel:         2,
		YStart:           0,
		YStop:            1,
		YSteps:           10,
		AcquisitionDelay: 0.001,
	}
}

func TestScanConfigValidate(t *testing.T) {
	if err := testScanConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*ScanConfig)
	}{
		{"x channel too high", func(c *ScanConfig) { c.XChannel = 13 }},
		{"shared channel", func(c *ScanConfig) { c.YChannel = c.XChannel }},
		{"x steps too few", func(c *ScanConfig) { c.XSteps = 5 }},
		{"voltage out of range", func(c *ScanConfig) { c.YStop = 10.5 }},
		{"delay too short", func(c *ScanConfig) { c.AcquisitionDelay = 0.000005 }},
		{"y sweep too short", func(c *ScanConfig) { c.YSteps = 1; c.AcquisitionDelay = 0.001 }},
		{"y waveform too long", func(c *ScanConfig) { c.YSteps = 40000; c.AcquisitionDelay = 0.001 }},
	}
	for _, c := range cases {
		cfg := testScanConfig()
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: config accepted", c.name)
		}
	}
}

func TestScanConfigureLocksGenerators(t *testing.T) {
	d, m := newTestDAC(t, 24)
	if err := d.Scan().Configure(testScanConfig()); err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	if !d.AWG(SlotA).Locked() {
		t.Error("AWG A not locked after configuring a scan")
	}
	if !d.AWG(SlotB).Locked() {
		t.Error("AWG B not locked after configuring a scan")
	}
	if err := d.AWG(SlotA).SetCycles(2); !errors.Is(err, ErrLocked) {
		t.Errorf("SetCycles on repurposed AWG returned %v, want ErrLocked", err)
	}

	m.mu.Lock()
	awg, ramp := m.awgs[0], m.ramps[0]
	m.mu.Unlock()
	if awg.channel != 2 {
		t.Errorf("AWG A drives channel %d, want 2", awg.channel)
	}
	if ramp.channel != 1 {
		t.Errorf("ramp A drives channel %d, want 1", ramp.channel)
	}
	if !ramp.step {
		t.Error("ramp A not in step mode")
	}
	// 10 x steps means an 11 point, 55ms staircase for the ramp
	if math.Abs(ramp.seconds-0.055) > 1e-9 {
		t.Errorf("ramp time %v s, want 0.055", ramp.seconds)
	}
	// 10 y steps plus the flyback point
	if len(awg.wave) != 12 {
		t.Errorf("y waveform holds %d points, want 12", len(awg.wave))
	}
	if !awg.autoStart {
		t.Error("AWG A not in auto-start mode")
	}
	if awg.reload {
		t.Error("reload mode enabled without an adaptive shift")
	}
}

func TestScanAdaptiveShift(t *testing.T) {
	d, m := newTestDAC(t, 24)
	cfg := testScanConfig()
	cfg.AdaptiveShift = 0.25
	if err := d.Scan().Configure(cfg); err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	m.mu.Lock()
	awg := m.awgs[0]
	m.mu.Unlock()
	if !awg.reload {
		t.Error("reload mode not enabled for an adaptive scan")
	}
	if !awg.applyPoly {
		t.Error("polynomial application not enabled for an adaptive scan")
	}
	if awg.shift != 0.25 {
		t.Errorf("adaptive shift %v V, want 0.25", awg.shift)
	}
}

func TestScanAxes(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	if err := d.Scan().Configure(testScanConfig()); err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	x, err := d.Scan().XAxis()
	if err != nil {
		t.Fatalf("XAxis errored: %v", err)
	}
	if len(x) != 11 {
		t.Fatalf("x axis has %d points, want 11", len(x))
	}
	if x[0] != 0 {
		t.Errorf("x axis starts at %v, want 0", x[0])
	}
	y, err := d.Scan().YAxis()
	if err != nil {
		t.Fatalf("YAxis errored: %v", err)
	}
	// the flyback point is not part of the axis
	if len(y) != 11 {
		t.Fatalf("y axis has %d points, want 11", len(y))
	}
	if math.Abs(y[10]-1) > 1e-6 {
		t.Errorf("y axis ends at %v, want 1", y[10])
	}
	if !d.AWG(SlotA).Locked() {
		t.Error("AWG A unlocked after reading the y axis")
	}
}

func TestScanStartStop(t *testing.T) {
	d, m := newTestDAC(t, 24)
	if err := d.Scan().Configure(testScanConfig()); err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	if err := d.Scan().Start(); err != nil {
		t.Fatalf("Start errored: %v", err)
	}
	m.mu.Lock()
	running := m.awgs[0].running
	m.mu.Unlock()
	if !running {
		t.Error("AWG A not running after starting the scan")
	}
	ok, err := d.Scan().Running()
	if err != nil {
		t.Fatalf("Running errored: %v", err)
	}
	if !ok {
		t.Error("scan not reported as running")
	}
	if err := d.Scan().Stop(); err != nil {
		t.Fatalf("Stop errored: %v", err)
	}
	if d.AWG(SlotA).Locked() || d.AWG(SlotB).Locked() {
		t.Error("generators still locked after stopping the scan")
	}
	if d.Scan().Configured() {
		t.Error("configuration survived a stop")
	}
}

func TestScanRequiresConfiguration(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	if err := d.Scan().Start(); err == nil {
		t.Error("Start succeeded without a configuration")
	}
	if err := d.Scan().SetTrigger(ScanTriggerLineOut); err == nil {
		t.Error("SetTrigger succeeded without a configuration")
	}
	if _, err := d.Scan().XAxis(); err == nil {
		t.Error("XAxis succeeded without a configuration")
	}
}

func TestScanPointOutTrigger(t *testing.T) {
	d, m := newTestDAC(t, 24)
	if err := d.Scan().Configure(testScanConfig()); err != nil {
		t.Fatalf("Configure errored: %v", err)
	}
	if err := d.Scan().SetTrigger(ScanTriggerPointOut); err != nil {
		t.Fatalf("SetTrigger errored: %v", err)
	}
	if !d.AWG(SlotC).Locked() || !d.AWG(SlotD).Locked() {
		t.Error("AWG C and D not locked for the point-out trigger")
	}
	m.mu.Lock()
	trig := m.awgs[2]
	m.mu.Unlock()
	// one trigger burst per y sweep
	if trig.cycles != 10 {
		t.Errorf("trigger AWG cycles %d, want 10", trig.cycles)
	}
	if trig.trigger != int(TriggerStartOnly) {
		t.Errorf("trigger AWG mode %d, want start only", trig.trigger)
	}
	if err := d.Scan().SetTriggerChannel(15); err != nil {
		t.Fatalf("SetTriggerChannel errored: %v", err)
	}
	ch, err := d.Scan().TriggerChannel()
	if err != nil {
		t.Fatalf("TriggerChannel errored: %v", err)
	}
	if ch != 15 {
		t.Errorf("trigger channel %d, want 15", ch)
	}
	if err := d.Scan().SetTriggerChannel(5); err == nil {
		t.Error("SetTriggerChannel accepted a channel below 13")
	}
}
