package lnhrdac

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Shape is a standard waveform family the SWG can synthesize.  Cosine
// shares the sine wire code with a 90 degree phase lead; rectangle is a
// pulse pinned to a 50% duty cycle.
type Shape int

const (
	ShapeSine Shape = iota
	ShapeCosine
	ShapeTriangle
	ShapeSawtooth
	ShapeRampUp
	ShapeRectangle
	ShapePulse
	ShapeFixedNoise
	ShapeRandomNoise
	ShapeDC
)

var shapeNames = [...]string{
	ShapeSine:        "sine",
	ShapeCosine:      "cosine",
	ShapeTriangle:    "triangle",
	ShapeSawtooth:    "sawtooth",
	ShapeRampUp:      "ramp",
	ShapeRectangle:   "rectangle",
	ShapePulse:       "pulse",
	ShapeFixedNoise:  "fixed noise",
	ShapeRandomNoise: "random noise",
	ShapeDC:          "DC",
}

// wire codes for the "C SWG WF" command
var shapeCodes = [...]int{
	ShapeSine:        0,
	ShapeCosine:      0,
	ShapeTriangle:    1,
	ShapeSawtooth:    2,
	ShapeRampUp:      3,
	ShapeRectangle:   4,
	ShapePulse:       4,
	ShapeFixedNoise:  5,
	ShapeRandomNoise: 6,
	ShapeDC:          7,
}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("Shape(%d)", int(s))
	}
	return shapeNames[s]
}

// ParseShape maps a waveform name like "sine" or "random noise" to its
// Shape, case-insensitively
func ParseShape(s string) (Shape, error) {
	for i, n := range shapeNames {
		if strings.EqualFold(s, n) {
			return Shape(i), nil
		}
	}
	return 0, fmt.Errorf("lnhrdac: unknown waveform shape %q", s)
}

// MarshalJSON encodes the shape as its name
func (s Shape) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(shapeNames) {
		return nil, fmt.Errorf("lnhrdac: invalid waveform shape %d", int(s))
	}
	return json.Marshal(shapeNames[s])
}

// UnmarshalJSON decodes a shape from its name
func (s *Shape) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	sh, err := ParseShape(str)
	if err != nil {
		return err
	}
	*s = sh
	return nil
}

// WaveOp is how an applied SWG waveform combines with the existing wave
// memory contents
type WaveOp int

// operations for the "C SWG WFUN" command
const (
	OpOverwrite     WaveOp = 0
	OpAppendStart   WaveOp = 1
	OpAppendEnd     WaveOp = 2
	OpSumStart      WaveOp = 3
	OpSumEnd        WaveOp = 4
	OpMultiplyStart WaveOp = 5
	OpMultiplyEnd   WaveOp = 6
	OpDivideStart   WaveOp = 7
	OpDivideEnd     WaveOp = 8
)

// SWGConfig describes a waveform for the standard waveform generator
type SWGConfig struct {
	// Shape selects the waveform family
	Shape Shape `json:"shape"`

	// Frequency in Hz, 0.001 to 10000
	Frequency float64 `json:"frequency"`

	// Amplitude in volts, -50 to 50.  Amplitudes past the output range
	// are usable with offsets or wave memory operations that bring the
	// result back inside it.
	Amplitude float64 `json:"amplitude"`

	// Offset in volts, -10 to 10
	Offset float64 `json:"offset"`

	// Phase in degrees, -360 to 360
	Phase float64 `json:"phase"`

	// DutyCycle in percent, 0 to 100; only meaningful for ShapePulse
	DutyCycle float64 `json:"dutyCycle"`
}

// Validate checks the configuration against the generator's limits
func (c SWGConfig) Validate() error {
	if c.Shape < ShapeSine || c.Shape > ShapeDC {
		return fmt.Errorf("lnhrdac: invalid waveform shape %d", c.Shape)
	}
	if c.Frequency < 0.001 || c.Frequency > 10000 {
		return fmt.Errorf("lnhrdac: frequency %v Hz outside [0.001, 10000]", c.Frequency)
	}
	if c.Amplitude < -50 || c.Amplitude > 50 {
		return fmt.Errorf("lnhrdac: amplitude %v V outside [-50, 50]", c.Amplitude)
	}
	if c.Offset < VoltMin || c.Offset > VoltMax {
		return fmt.Errorf("lnhrdac: offset %v V outside [%v, %v]", c.Offset, VoltMin, VoltMax)
	}
	if c.Phase < -360 || c.Phase > 360 {
		return fmt.Errorf("lnhrdac: phase %v deg outside [-360, 360]", c.Phase)
	}
	if c.DutyCycle < 0 || c.DutyCycle > 100 {
		return fmt.Errorf("lnhrdac: duty cycle %v%% outside [0, 100]", c.DutyCycle)
	}
	return nil
}

// SWG is the standard waveform generator.  Configure describes a waveform;
// Apply synthesizes it into a slot's wave memory and copies it to the
// matching AWG memory.
type SWG struct {
	d *DAC
}

// Configure programs the generator with a waveform description.  Nothing
// is synthesized until Apply.
func (s *SWG) Configure(c SWGConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p := s.d.proto
	if err := p.Command("C SWG MODE 1"); err != nil {
		return err
	}
	// adapt the clock for now; Apply revisits this once the target
	// slot is known
	if err := p.Command("C SWG ACLK 1"); err != nil {
		return err
	}
	if err := p.Command(fmt.Sprintf("C SWG WF %d", shapeCodes[c.Shape])); err != nil {
		return err
	}
	err := p.Command("C SWG DF " + strconv.FormatFloat(c.Frequency, 'f', -1, 64))
	if err != nil {
		return err
	}
	if err := p.Command(fmt.Sprintf("C SWG AMP %.6f", c.Amplitude)); err != nil {
		return err
	}
	if err := p.Command(fmt.Sprintf("C SWG DCV %.6f", c.Offset)); err != nil {
		return err
	}
	phase := c.Phase
	if c.Shape == ShapeCosine {
		phase += 90
	}
	if err := p.Command(fmt.Sprintf("C SWG PHA %.4f", phase)); err != nil {
		return err
	}
	switch c.Shape {
	case ShapeRectangle:
		err = p.Command("C SWG DUC 50.000")
	case ShapePulse:
		err = p.Command(fmt.Sprintf("C SWG DUC %.3f", c.DutyCycle))
	}
	return err
}

// SetOperation selects how Apply combines the synthesized waveform with
// the existing wave memory contents
func (s *SWG) SetOperation(op WaveOp) error {
	if op < OpOverwrite || op > OpDivideEnd {
		return fmt.Errorf("lnhrdac: invalid wave memory operation %d", op)
	}
	return s.d.proto.Command(fmt.Sprintf("C SWG WFUN %d", op))
}

// Operation returns the selected wave memory operation
func (s *SWG) Operation() (WaveOp, error) {
	i, err := s.d.proto.QueryInt("C SWG WFUN?")
	return WaveOp(i), err
}

// MemorySize returns the number of points the configured waveform will
// occupy
func (s *SWG) MemorySize() (int, error) {
	return s.d.proto.QueryInt("C SWG MS?")
}

// NearestFrequency returns the frequency actually achievable with the
// current clock settings
func (s *SWG) NearestFrequency() (float64, error) {
	return s.d.proto.QueryFloat("C SWG NF?")
}

// Clipped reports whether the configured waveform exceeds the output
// range and will be clipped
func (s *SWG) Clipped() (bool, error) {
	return s.d.proto.QueryBool("C SWG CLP?")
}

// ClockPeriod returns the sampling period the generator will use
func (s *SWG) ClockPeriod() (time.Duration, error) {
	us, err := s.d.proto.QueryInt("C SWG CP?")
	if err != nil {
		return 0, err
	}
	return time.Duration(us) * time.Microsecond, nil
}

// SetLinearization selects whether the target channel's linearization is
// applied during synthesis
func (s *SWG) SetLinearization(on bool) error {
	return s.d.proto.Command(fmt.Sprintf("C SWG LIN %d", boolInt(on)))
}

// Linearization reports whether linearization is applied during synthesis
func (s *SWG) Linearization() (bool, error) {
	return s.d.proto.QueryBool("C SWG LIN?")
}

// Apply synthesizes the configured waveform into the given slot's wave
// memory and copies it into the matching AWG memory, then waits for the
// copy to finish.
func (s *SWG) Apply(slot Slot) error {
	a := s.d.AWG(slot)
	if err := a.checkLock(); err != nil {
		return err
	}
	p := s.d.proto
	if err := p.Command(fmt.Sprintf("C SWG WMEM %d", int(slot))); err != nil {
		return err
	}
	// only adapt the board clock when the sibling AWG holds no waveform
	siblingSize, err := s.d.AWG(slot.sibling()).MemorySize()
	if err != nil {
		return err
	}
	aclk := 1
	if siblingSize > 2 {
		aclk = 0
	}
	if err := p.Command(fmt.Sprintf("C SWG ACLK %d", aclk)); err != nil {
		return err
	}
	desired, err := p.QueryFloat("C SWG DF?")
	if err != nil {
		return err
	}
	nearest, err := s.NearestFrequency()
	if err != nil {
		return err
	}
	if nearest != desired {
		s.d.log.Warn().
			Float64("desired", desired).
			Float64("nearest", nearest).
			Str("slot", slot.String()).
			Msg("requested frequency unreachable with current clock, using nearest")
	}
	if err := p.Command("C SWG APPLY"); err != nil {
		return err
	}
	if err := a.writeWaveToAWG(); err != nil {
		return err
	}
	want, err := a.WaveMemorySize()
	if err != nil {
		return err
	}
	got, err := a.MemorySize()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("lnhrdac: AWG %s holds %d points after applying %d", slot, got, want)
	}
	return nil
}
