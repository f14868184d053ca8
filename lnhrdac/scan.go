package lnhrdac

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ScanTrigger is how a 2D scan synchronizes with the acquisition hardware
type ScanTrigger int

const (
	// ScanTriggerDisable free-runs the scan as fast as configured
	ScanTriggerDisable ScanTrigger = iota

	// ScanTriggerLineIn starts each x-axis sweep on an external trigger
	// at the Trig In AWG A input
	ScanTriggerLineIn

	// ScanTriggerLineOut emits a trigger at Sync Out AWG A with every
	// x-axis sweep
	ScanTriggerLineOut

	// ScanTriggerPointOut emits a trigger on a DAC channel with every
	// scan point, repurposing AWG C.  Requires a physical connection
	// from Sync Out AWG A to Trig In AWG C.
	ScanTriggerPointOut
)

var scanTriggerNames = [...]string{
	ScanTriggerDisable:  "disable",
	ScanTriggerLineIn:   "line in",
	ScanTriggerLineOut:  "line out",
	ScanTriggerPointOut: "point out",
}

func (t ScanTrigger) String() string {
	if t < 0 || int(t) >= len(scanTriggerNames) {
		return fmt.Sprintf("ScanTrigger(%d)", int(t))
	}
	return scanTriggerNames[t]
}

// ParseScanTrigger maps a name like "line out" to its ScanTrigger,
// case-insensitively
func ParseScanTrigger(s string) (ScanTrigger, error) {
	for i, n := range scanTriggerNames {
		if strings.EqualFold(s, n) {
			return ScanTrigger(i), nil
		}
	}
	return 0, fmt.Errorf("lnhrdac: unknown scan trigger mode %q", s)
}

// MarshalJSON encodes the trigger mode as its name
func (t ScanTrigger) MarshalJSON() ([]byte, error) {
	if t < 0 || int(t) >= len(scanTriggerNames) {
		return nil, fmt.Errorf("lnhrdac: invalid scan trigger mode %d", int(t))
	}
	return json.Marshal(scanTriggerNames[t])
}

// UnmarshalJSON decodes a trigger mode from its name
func (t *ScanTrigger) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	st, err := ParseScanTrigger(str)
	if err != nil {
		return err
	}
	*t = st
	return nil
}

// ScanConfig describes a fast adaptive 2D scan.  The x axis is stepped by
// ramp generator A, the y axis is swept by AWG A; both drive channels on
// the lower board.
type ScanConfig struct {
	// XChannel is the output for the slow axis, 1 to 12
	XChannel int `json:"xChannel"`

	// XStart and XStop bound the slow axis in volts
	XStart float64 `json:"xStart"`
	XStop  float64 `json:"xStop"`

	// XSteps is the number of slow-axis increments, 10 to 16777216
	XSteps int `json:"xSteps"`

	// YChannel is the output for the fast axis, 1 to 12
	YChannel int `json:"yChannel"`

	// YStart and YStop bound the fast axis in volts
	YStart float64 `json:"yStart"`
	YStop  float64 `json:"yStop"`

	// YSteps is the number of fast-axis increments, 1 to 16777216
	YSteps int `json:"ySteps"`

	// AcquisitionDelay is how long each point is held, 10µs to 4000s
	AcquisitionDelay float64 `json:"acquisitionDelay"`

	// AdaptiveShift is added to the fast axis after every sweep, in
	// volts.  Zero disables adaptive scanning.
	AdaptiveShift float64 `json:"adaptiveShift"`
}

// Validate checks the configuration against the scanner's limits
func (c ScanConfig) Validate() error {
	if c.XChannel < 1 || c.XChannel > 12 {
		return fmt.Errorf("lnhrdac: x channel %d outside 1..12", c.XChannel)
	}
	if c.YChannel < 1 || c.YChannel > 12 {
		return fmt.Errorf("lnhrdac: y channel %d outside 1..12", c.YChannel)
	}
	if c.XChannel == c.YChannel {
		return fmt.Errorf("lnhrdac: x and y axes cannot share channel %d", c.XChannel)
	}
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"x start", c.XStart},
		{"x stop", c.XStop},
		{"y start", c.YStart},
		{"y stop", c.YStop},
		{"adaptive shift", c.AdaptiveShift},
	} {
		if v.val < VoltMin || v.val > VoltMax {
			return fmt.Errorf("lnhrdac: %s %v V outside [%v, %v]", v.name, v.val, VoltMin, VoltMax)
		}
	}
	if c.XSteps < 10 || c.XSteps > 1<<24 {
		return fmt.Errorf("lnhrdac: x steps %d outside 10..%d", c.XSteps, 1<<24)
	}
	if c.YSteps < 1 || c.YSteps > 1<<24 {
		return fmt.Errorf("lnhrdac: y steps %d outside 1..%d", c.YSteps, 1<<24)
	}
	if c.YSteps+2 > WaveMemSize {
		return fmt.Errorf("lnhrdac: y steps %d exceeds wave memory of %d points", c.YSteps, WaveMemSize)
	}
	if c.AcquisitionDelay < 0.00001 || c.AcquisitionDelay > 4000 {
		return fmt.Errorf("lnhrdac: acquisition delay %v s outside [0.00001, 4000]", c.AcquisitionDelay)
	}
	if period := float64(c.YSteps) * c.AcquisitionDelay; period < 0.006 {
		return fmt.Errorf("lnhrdac: y sweep of %.3f s below minimum 0.006 s, increase steps or delay", period)
	}
	return nil
}

// Scan coordinates a fast adaptive 2D scan.  Configuring a scan
// repurposes AWG A and ramp generator A and locks AWGs A and B; the
// point-out trigger additionally repurposes AWG C and locks C and D.
type Scan struct {
	d *DAC

	mu       sync.Mutex
	cfg      *ScanConfig
	trig     ScanTrigger
	pointOut bool
}

// Configured reports whether a scan configuration is loaded
func (s *Scan) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg != nil
}

// Config returns the loaded scan configuration, or false if none is
func (s *Scan) Config() (ScanConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return ScanConfig{}, false
	}
	return *s.cfg, true
}

// Trigger returns the configured trigger mode
func (s *Scan) Trigger() ScanTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig
}

func (s *Scan) requireIdle(slots ...Slot) error {
	for _, sl := range slots {
		running, err := s.d.AWG(sl).Running()
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("lnhrdac: AWG %s is running, stop it before configuring a scan", sl)
		}
		state, err := s.d.Ramp(sl).State()
		if err != nil {
			return err
		}
		if state != RampIdle {
			return fmt.Errorf("lnhrdac: ramp generator %s is %s, stop it before configuring a scan", sl, state)
		}
	}
	return nil
}

// Configure programs the instrument for a 2D scan.  AWG A and ramp
// generator A must be idle; so must their board siblings.
func (s *Scan) Configure(c ScanConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.requireIdle(SlotA, SlotB); err != nil {
		return err
	}

	awg := s.d.AWG(SlotA)
	ramp := s.d.Ramp(SlotA)
	awg.setLocked(false)
	s.d.AWG(SlotB).setLocked(false)

	if err := awg.SetChannel(c.YChannel); err != nil {
		return err
	}
	ok, err := awg.ChannelAvailable()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: y axis channel %d", ErrChannelUnavailable, c.YChannel)
	}
	if err := ramp.SetChannel(c.XChannel); err != nil {
		return err
	}
	ok, err = ramp.ChannelAvailable()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: x axis channel %d", ErrChannelUnavailable, c.XChannel)
	}

	// the ramp advances one step per y sweep; 5ms per step is the
	// firmware's step period in step mode
	xRampTime := time.Duration(5*(c.XSteps+1)) * time.Millisecond
	yStepSize := (c.YStop - c.YStart) / float64(c.YSteps)

	if err := ramp.SetStartVoltage(c.XStart); err != nil {
		return err
	}
	if err := ramp.SetPeakVoltage(c.XStop); err != nil {
		return err
	}
	if err := ramp.SetDuration(xRampTime); err != nil {
		return err
	}
	if err := ramp.SetShape(RampShapeUp); err != nil {
		return err
	}
	if err := ramp.SetCycles(1); err != nil {
		return err
	}
	if err := ramp.SetStepMode(true); err != nil {
		return err
	}

	// the y sweep is a staircase plus a flyback to the start
	wf := make([]float64, 0, c.YSteps+2)
	for step := 0; step <= c.YSteps; step++ {
		wf = append(wf, c.YStart+float64(step)*yStepSize)
	}
	wf = append(wf, c.YStart)

	if err := awg.SetTrigger(TriggerDisable); err != nil {
		return err
	}
	if err := awg.SetCycles(1); err != nil {
		return err
	}
	delay := time.Duration(c.AcquisitionDelay * float64(time.Second))
	if err := awg.SetClockPeriod(delay); err != nil {
		return err
	}
	if err := awg.SetWaveform(wf); err != nil {
		return err
	}

	adaptive := c.AdaptiveShift != 0
	if err := awg.SetAutoStart(true); err != nil {
		return err
	}
	if err := awg.SetReloadMode(adaptive); err != nil {
		return err
	}
	if err := awg.SetApplyPolynomial(adaptive); err != nil {
		return err
	}
	if adaptive {
		if err := awg.SetAdaptiveShift(c.AdaptiveShift); err != nil {
			return err
		}
	}

	awg.setLocked(true)
	s.d.AWG(SlotB).setLocked(true)

	s.mu.Lock()
	s.cfg = &c
	s.trig = ScanTriggerDisable
	s.pointOut = false
	s.mu.Unlock()

	s.d.log.Info().
		Int("xChannel", c.XChannel).
		Int("yChannel", c.YChannel).
		Int("xSteps", c.XSteps).
		Int("ySteps", c.YSteps).
		Bool("adaptive", adaptive).
		Msg("2D scan configured")
	return nil
}

// SetTrigger selects how the scan synchronizes with the acquisition
// hardware.  A configuration must be loaded first.  The point-out mode
// repurposes AWG C to emit one pulse per scan point on a trigger channel.
func (s *Scan) SetTrigger(mode ScanTrigger) error {
	if mode < ScanTriggerDisable || mode > ScanTriggerPointOut {
		return fmt.Errorf("lnhrdac: invalid scan trigger mode %d", mode)
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg == nil {
		return fmt.Errorf("lnhrdac: no scan configuration loaded, configure the scan first")
	}
	if err := s.requireIdle(SlotA, SlotB); err != nil {
		return err
	}

	awg := s.d.AWG(SlotA)
	awg.setLocked(false)
	s.d.AWG(SlotC).setLocked(false)
	s.d.AWG(SlotD).setLocked(false)
	pointOut := false

	switch mode {
	case ScanTriggerDisable, ScanTriggerLineOut:
		if err := awg.SetTrigger(TriggerDisable); err != nil {
			return err
		}
		if err := awg.SetAutoStart(true); err != nil {
			return err
		}
	case ScanTriggerLineIn:
		if err := awg.SetTrigger(TriggerStartOnly); err != nil {
			return err
		}
		if err := awg.SetAutoStart(false); err != nil {
			return err
		}
	case ScanTriggerPointOut:
		if err := s.requireIdle(SlotC, SlotD); err != nil {
			return err
		}
		// one pulse per point, riding on the y sweep
		err := s.d.SWG().Configure(SWGConfig{
			Shape:     ShapeRectangle,
			Frequency: 1 / cfg.AcquisitionDelay,
			Amplitude: 2.5,
			Offset:    2.5,
		})
		if err != nil {
			return err
		}
		if err := s.d.SWG().Apply(SlotC); err != nil {
			return err
		}
		trigAWG := s.d.AWG(SlotC)
		if err := trigAWG.SetCycles(cfg.YSteps); err != nil {
			return err
		}
		if err := trigAWG.SetTrigger(TriggerStartOnly); err != nil {
			return err
		}
		trigAWG.setLocked(true)
		s.d.AWG(SlotD).setLocked(true)
		pointOut = true
	}

	awg.setLocked(true)

	s.mu.Lock()
	s.trig = mode
	s.pointOut = pointOut
	s.mu.Unlock()

	s.d.log.Info().Str("mode", mode.String()).Msg("2D scan trigger configured")
	return nil
}

// TriggerChannel returns the output carrying the point-out trigger
func (s *Scan) TriggerChannel() (int, error) {
	return s.d.AWG(SlotC).Channel()
}

// SetTriggerChannel selects the output for the point-out trigger, 13 to
// 24.  Other trigger modes use the connectors on the back of the
// instrument instead.
func (s *Scan) SetTriggerChannel(ch int) error {
	if ch < 13 || ch > 24 {
		return fmt.Errorf("lnhrdac: trigger channel %d outside 13..24", ch)
	}
	if err := s.d.checkChannel(ch); err != nil {
		return err
	}
	trigAWG := s.d.AWG(SlotC)
	s.mu.Lock()
	pointOut := s.pointOut
	s.mu.Unlock()
	if pointOut {
		trigAWG.setLocked(false)
		defer trigAWG.setLocked(true)
	}
	return trigAWG.SetChannel(ch)
}

// XAxis returns the slow-axis voltages the configured scan will step
// through, as the firmware computed them
func (s *Scan) XAxis() ([]float64, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("lnhrdac: no scan configuration loaded")
	}
	ramp := s.d.Ramp(SlotA)
	stepSize, err := ramp.StepSize()
	if err != nil {
		return nil, err
	}
	steps, err := ramp.StepsPerCycle()
	if err != nil {
		return nil, err
	}
	start, err := ramp.StartVoltage()
	if err != nil {
		return nil, err
	}
	out := make([]float64, steps)
	for i := range out {
		out[i] = math.Round((start+float64(i)*stepSize)*1e6) / 1e6
	}
	return out, nil
}

// YAxis returns the fast-axis voltages of one sweep, without the flyback
// point
func (s *Scan) YAxis() ([]float64, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("lnhrdac: no scan configuration loaded")
	}
	awg := s.d.AWG(SlotA)
	awg.setLocked(false)
	defer awg.setLocked(true)
	wf, err := awg.Waveform()
	if err != nil {
		return nil, err
	}
	if len(wf) > 0 {
		wf = wf[:len(wf)-1]
	}
	return wf, nil
}

// Start launches the configured scan
func (s *Scan) Start() error {
	if !s.Configured() {
		return fmt.Errorf("lnhrdac: no scan configuration loaded")
	}
	awg := s.d.AWG(SlotA)
	awg.setLocked(false)
	err := awg.Start()
	awg.setLocked(true)
	s.d.AWG(SlotB).setLocked(true)
	if err != nil {
		return err
	}
	s.d.log.Info().Msg("2D scan started")
	return nil
}

// Stop halts the scan and releases the repurposed generators.  The
// configuration is cleared; Configure must be called again before the
// next scan.
func (s *Scan) Stop() error {
	awg := s.d.AWG(SlotA)
	awg.setLocked(false)
	s.d.AWG(SlotB).setLocked(false)

	err := awg.Stop()
	if err2 := s.d.Ramp(SlotA).Stop(); err == nil {
		err = err2
	}

	s.mu.Lock()
	pointOut := s.pointOut
	s.cfg = nil
	s.trig = ScanTriggerDisable
	s.pointOut = false
	s.mu.Unlock()

	if pointOut {
		trigAWG := s.d.AWG(SlotC)
		trigAWG.setLocked(false)
		s.d.AWG(SlotD).setLocked(false)
		if err2 := trigAWG.Stop(); err == nil {
			err = err2
		}
	}
	s.d.proto.collector.SetScanProgress(0)
	if err != nil {
		return err
	}
	s.d.log.Info().Msg("2D scan stopped")
	return nil
}

// Running reports whether a scan is in progress
func (s *Scan) Running() (bool, error) {
	state, err := s.d.Ramp(SlotA).State()
	if err != nil {
		return false, err
	}
	if state != RampIdle {
		return true, nil
	}
	return s.d.AWG(SlotA).Running()
}

// Progress returns how far the scan has advanced, 0 to 1.  The ramp
// generator steps once per fast-axis sweep, so its step counter tracks
// whole scan lines.
func (s *Scan) Progress() (float64, error) {
	ramp := s.d.Ramp(SlotA)
	done, err := ramp.StepsDone()
	if err != nil {
		return 0, err
	}
	total, err := ramp.StepsPerCycle()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	ratio := float64(done) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	s.d.proto.collector.SetScanProgress(ratio)
	return ratio, nil
}
