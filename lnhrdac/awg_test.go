package lnhrdac

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAWGWaveformRoundTrip(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	a := d.AWG(SlotB)
	wf := []float64{-1, -0.5, 0, 0.5, 1}
	if err := a.SetWaveform(wf); err != nil {
		t.Fatalf("SetWaveform errored: %v", err)
	}
	got, err := a.Waveform()
	if err != nil {
		t.Fatalf("Waveform errored: %v", err)
	}
	if len(got) != len(wf) {
		t.Fatalf("read %d points, want %d", len(got), len(wf))
	}
	for i := range wf {
		if math.Abs(got[i]-wf[i]) > 1e-6 {
			t.Errorf("point %d = %v, want %v", i, got[i], wf[i])
		}
	}
	size, err := a.MemorySize()
	if err != nil {
		t.Fatalf("MemorySize errored: %v", err)
	}
	if size != len(wf) {
		t.Errorf("AWG memory holds %d points, want %d", size, len(wf))
	}
}

func TestAWGWaveformRejectsOutOfRange(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	err := d.AWG(SlotA).SetWaveform([]float64{0, 11})
	if err == nil {
		t.Error("SetWaveform accepted an 11 V point")
	}
}

func TestAWGLock(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	a := d.AWG(SlotA)
	a.setLocked(true)
	defer a.setLocked(false)
	if err := a.SetCycles(5); !errors.Is(err, ErrLocked) {
		t.Errorf("SetCycles on a locked AWG returned %v, want ErrLocked", err)
	}
	if err := a.Start(); !errors.Is(err, ErrLocked) {
		t.Errorf("Start on a locked AWG returned %v, want ErrLocked", err)
	}
	// queries stay usable while locked
	if _, err := a.Cycles(); err != nil {
		t.Errorf("Cycles on a locked AWG errored: %v", err)
	}
}

func TestAWGSettings(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	a := d.AWG(SlotC)
	if err := a.SetChannel(14); err != nil {
		t.Fatalf("SetChannel errored: %v", err)
	}
	ch, err := a.Channel()
	if err != nil {
		t.Fatalf("Channel errored: %v", err)
	}
	if ch != 14 {
		t.Errorf("channel %d, want 14", ch)
	}
	if err := a.SetCycles(7); err != nil {
		t.Fatalf("SetCycles errored: %v", err)
	}
	n, err := a.Cycles()
	if err != nil {
		t.Fatalf("Cycles errored: %v", err)
	}
	if n != 7 {
		t.Errorf("cycles %d, want 7", n)
	}
	if err := a.SetTrigger(TriggerStartOnly); err != nil {
		t.Fatalf("SetTrigger errored: %v", err)
	}
	tm, err := a.Trigger()
	if err != nil {
		t.Fatalf("Trigger errored: %v", err)
	}
	if tm != TriggerStartOnly {
		t.Errorf("trigger %d, want %d", tm, TriggerStartOnly)
	}
}

func TestAWGClockPeriodSharedPerBoard(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	if err := d.AWG(SlotA).SetClockPeriod(50 * time.Microsecond); err != nil {
		t.Fatalf("SetClockPeriod errored: %v", err)
	}
	// B shares A's board clock; C does not
	p, err := d.AWG(SlotB).ClockPeriod()
	if err != nil {
		t.Fatalf("ClockPeriod errored: %v", err)
	}
	if p != 50*time.Microsecond {
		t.Errorf("slot B clock %v, want 50µs", p)
	}
	p, err = d.AWG(SlotC).ClockPeriod()
	if err != nil {
		t.Fatalf("ClockPeriod errored: %v", err)
	}
	if p == 50*time.Microsecond {
		t.Error("slot C clock changed with the other board")
	}
}

func TestAWGStartStop(t *testing.T) {
	d, m := newTestDAC(t, 24)
	a := d.AWG(SlotD)
	if err := a.Start(); err != nil {
		t.Fatalf("Start errored: %v", err)
	}
	running, err := a.Running()
	if err != nil {
		t.Fatalf("Running errored: %v", err)
	}
	if !running {
		t.Error("AWG not running after Start")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop errored: %v", err)
	}
	if m.awgs[3].running {
		t.Error("device still running after Stop")
	}
}

func TestPolynomialRoundTrip(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	a := d.AWG(SlotB)
	coeffs := []float64{0.25, 1, -0.125}
	if err := a.SetPolynomial(coeffs); err != nil {
		t.Fatalf("SetPolynomial errored: %v", err)
	}
	got, err := a.Polynomial()
	if err != nil {
		t.Fatalf("Polynomial errored: %v", err)
	}
	if len(got) != len(coeffs) {
		t.Fatalf("read %d coefficients, want %d", len(got), len(coeffs))
	}
	for i := range coeffs {
		if got[i] != coeffs[i] {
			t.Errorf("coefficient %d = %v, want %v", i, got[i], coeffs[i])
		}
	}
}

func TestAWGMemoryAccess(t *testing.T) {
	d, _ := newTestDAC(t, 24)
	a := d.AWG(SlotA)
	if err := a.SetMemoryValue(3, 0xABCDEF); err != nil {
		t.Fatalf("SetMemoryValue errored: %v", err)
	}
	code, err := a.MemoryValue(3)
	if err != nil {
		t.Fatalf("MemoryValue errored: %v", err)
	}
	if code != 0xABCDEF {
		t.Errorf("memory value %#x, want 0xABCDEF", code)
	}
	if err := a.SetMemoryValue(0, 0x1000000); err == nil {
		t.Error("SetMemoryValue accepted a 25-bit code")
	}
	if _, err := a.MemoryValue(WaveMemSize); err == nil {
		t.Error("MemoryValue accepted an address past the memory end")
	}
}
