package lnhrdac

import (
	"fmt"
	"time"
)

// RampState describes what a ramp generator is currently doing
type RampState int

// states reported by the "C RMP-x S?" query
const (
	RampIdle RampState = 0
	RampUp   RampState = 1
	RampDown RampState = 2
	RampHold RampState = 3
)

func (s RampState) String() string {
	switch s {
	case RampIdle:
		return "idle"
	case RampUp:
		return "ramping up"
	case RampDown:
		return "ramping down"
	case RampHold:
		return "holding"
	}
	return fmt.Sprintf("RampState(%d)", int(s))
}

// RampShape selects the trajectory of a ramp generator
type RampShape int

const (
	// RampShapeUp runs start to peak and jumps back
	RampShapeUp RampShape = 0

	// RampShapeUpDown runs start to peak and back down
	RampShapeUpDown RampShape = 1
)

// Ramp is one ramp/step generator of the instrument.  In step mode it
// advances one step per external trigger instead of free-running, which is
// how the 2D scan drives its fast axis.
type Ramp struct {
	d    *DAC
	slot Slot
}

// Slot returns which generator this is
func (r *Ramp) Slot() Slot {
	return r.slot
}

// Channel returns the output channel this ramp drives
func (r *Ramp) Channel() (int, error) {
	return r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s CH?", r.slot.letter()))
}

// SetChannel points this ramp at an output channel
func (r *Ramp) SetChannel(ch int) error {
	if err := r.d.checkChannel(ch); err != nil {
		return err
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s CH %d", r.slot.letter(), ch))
}

// ChannelAvailable reports whether the selected output channel is free
func (r *Ramp) ChannelAvailable() (bool, error) {
	return r.d.proto.QueryBool(fmt.Sprintf("C RMP-%s AVA?", r.slot.letter()))
}

// Start commences ramping or stepping
func (r *Ramp) Start() error {
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s start", r.slot.letter()))
}

// Stop halts the ramp and resets it
func (r *Ramp) Stop() error {
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s stop", r.slot.letter()))
}

// Hold pauses the ramp at its current voltage
func (r *Ramp) Hold() error {
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s hold", r.slot.letter()))
}

// State returns what the ramp generator is currently doing
func (r *Ramp) State() (RampState, error) {
	i, err := r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s S?", r.slot.letter()))
	return RampState(i), err
}

// CyclesDone returns how many cycles completed since the last start
func (r *Ramp) CyclesDone() (int, error) {
	return r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s CD?", r.slot.letter()))
}

// StepsDone returns how many steps completed in the current cycle
func (r *Ramp) StepsDone() (int, error) {
	return r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s SD?", r.slot.letter()))
}

// StepSize returns the voltage increment per step, computed by the
// firmware from the start/peak voltages and the ramp time
func (r *Ramp) StepSize() (float64, error) {
	return r.d.proto.QueryFloat(fmt.Sprintf("C RMP-%s SSV?", r.slot.letter()))
}

// StepsPerCycle returns the number of steps in one cycle, computed by the
// firmware from the ramp time
func (r *Ramp) StepsPerCycle() (int, error) {
	return r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s ST?", r.slot.letter()))
}

// StartVoltage returns the programmed starting voltage
func (r *Ramp) StartVoltage() (float64, error) {
	return r.d.proto.QueryFloat(fmt.Sprintf("C RMP-%s STAV?", r.slot.letter()))
}

// SetStartVoltage programs the starting voltage
func (r *Ramp) SetStartVoltage(v float64) error {
	if v < VoltMin || v > VoltMax {
		return fmt.Errorf("lnhrdac: start voltage %v V outside [%v, %v]", v, VoltMin, VoltMax)
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s STAV %.6f", r.slot.letter(), v))
}

// PeakVoltage returns the programmed stop/peak voltage
func (r *Ramp) PeakVoltage() (float64, error) {
	return r.d.proto.QueryFloat(fmt.Sprintf("C RMP-%s STOV?", r.slot.letter()))
}

// SetPeakVoltage programs the stop/peak voltage
func (r *Ramp) SetPeakVoltage(v float64) error {
	if v < VoltMin || v > VoltMax {
		return fmt.Errorf("lnhrdac: peak voltage %v V outside [%v, %v]", v, VoltMin, VoltMax)
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s STOV %.6f", r.slot.letter(), v))
}

// Duration returns the programmed time of one ramp cycle
func (r *Ramp) Duration() (time.Duration, error) {
	f, err := r.d.proto.QueryFloat(fmt.Sprintf("C RMP-%s RT?", r.slot.letter()))
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// SetDuration programs the time of one ramp cycle, with millisecond
// resolution on the wire
func (r *Ramp) SetDuration(d time.Duration) error {
	if d < 50*time.Millisecond {
		return fmt.Errorf("lnhrdac: ramp time %v below minimum 50ms", d)
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s RT %.3f", r.slot.letter(), d.Seconds()))
}

// Shape returns the programmed ramp trajectory
func (r *Ramp) Shape() (RampShape, error) {
	i, err := r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s RS?", r.slot.letter()))
	return RampShape(i), err
}

// SetShape programs the ramp trajectory
func (r *Ramp) SetShape(s RampShape) error {
	if s != RampShapeUp && s != RampShapeUpDown {
		return fmt.Errorf("lnhrdac: invalid ramp shape %d", s)
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s RS %d", r.slot.letter(), s))
}

// Cycles returns the programmed repeat count; 0 means run forever
func (r *Ramp) Cycles() (int, error) {
	return r.d.proto.QueryInt(fmt.Sprintf("C RMP-%s CS?", r.slot.letter()))
}

// SetCycles programs the repeat count; 0 means run forever
func (r *Ramp) SetCycles(n int) error {
	if n < 0 {
		return fmt.Errorf("lnhrdac: cycles %d must be non-negative", n)
	}
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s CS %d", r.slot.letter(), n))
}

// StepMode reports whether the generator advances per external trigger
// (true) instead of free-running (false)
func (r *Ramp) StepMode() (bool, error) {
	return r.d.proto.QueryBool(fmt.Sprintf("C RMP-%s STEP?", r.slot.letter()))
}

// SetStepMode selects ramp (false) or step (true) operation
func (r *Ramp) SetStepMode(on bool) error {
	return r.d.proto.Command(fmt.Sprintf("C RMP-%s STEP %d", r.slot.letter(), boolInt(on)))
}
