package lnhrdac

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TriggerMode is the external trigger behavior of an AWG
type TriggerMode int

// trigger modes for the "C AWG-x TM" command
const (
	// TriggerDisable ignores the external trigger input
	TriggerDisable TriggerMode = 0

	// TriggerStartOnly starts the AWG on a positive edge
	TriggerStartOnly TriggerMode = 1

	// TriggerStartStop starts on a positive edge and stops on a negative one
	TriggerStartStop TriggerMode = 2

	// TriggerSingleStep advances one waveform point per positive edge
	TriggerSingleStep TriggerMode = 3
)

// busyPollLimit bounds the rate of BUSY? queries while the firmware copies
// a wave memory into an AWG memory
var busyPollLimit = rate.Every(10 * time.Millisecond)

// AWG is one arbitrary waveform generator of the instrument.  The 2D scan
// locks the AWGs it repurposes; mutating operations on a locked AWG return
// ErrLocked.
type AWG struct {
	d    *DAC
	slot Slot

	mu     sync.Mutex
	locked bool
}

// Slot returns which generator this is
func (a *AWG) Slot() Slot {
	return a.slot
}

// Locked reports whether the generator is reserved, e.g. by a running scan
func (a *AWG) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

func (a *AWG) setLocked(v bool) {
	a.mu.Lock()
	a.locked = v
	a.mu.Unlock()
}

func (a *AWG) checkLock() error {
	if a.Locked() {
		return fmt.Errorf("%w: AWG %s", ErrLocked, a.slot)
	}
	return nil
}

// Channel returns the output channel this AWG drives
func (a *AWG) Channel() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s CH?", a.slot.letter()))
}

// SetChannel points this AWG at an output channel
func (a *AWG) SetChannel(ch int) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if err := a.d.checkChannel(ch); err != nil {
		return err
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s CH %d", a.slot.letter(), ch))
}

// ChannelAvailable reports whether the selected output channel is free,
// i.e. no other generator is running on it
func (a *AWG) ChannelAvailable() (bool, error) {
	return a.d.proto.QueryBool(fmt.Sprintf("C AWG-%s AVA?", a.slot.letter()))
}

// Cycles returns the programmed repeat count; 0 means run forever
func (a *AWG) Cycles() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s CS?", a.slot.letter()))
}

// SetCycles programs the repeat count; 0 means run forever
func (a *AWG) SetCycles(n int) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("lnhrdac: cycles %d must be non-negative", n)
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s CS %d", a.slot.letter(), n))
}

// CyclesDone returns how many cycles completed since the last start
func (a *AWG) CyclesDone() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s CD?", a.slot.letter()))
}

// Trigger returns the external trigger mode
func (a *AWG) Trigger() (TriggerMode, error) {
	i, err := a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s TM?", a.slot.letter()))
	return TriggerMode(i), err
}

// SetTrigger selects the external trigger mode
func (a *AWG) SetTrigger(m TriggerMode) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if m < TriggerDisable || m > TriggerSingleStep {
		return fmt.Errorf("lnhrdac: invalid trigger mode %d", m)
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s TM %d", a.slot.letter(), m))
}

// Running reports whether the AWG is playing
func (a *AWG) Running() (bool, error) {
	return a.d.proto.QueryBool(fmt.Sprintf("C AWG-%s S?", a.slot.letter()))
}

// Start commences playback
func (a *AWG) Start() error {
	if err := a.checkLock(); err != nil {
		return err
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s START", a.slot.letter()))
}

// Stop ceases playback
func (a *AWG) Stop() error {
	if err := a.checkLock(); err != nil {
		return err
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s STOP", a.slot.letter()))
}

// Duration returns the wall time of one complete cycle
func (a *AWG) Duration() (time.Duration, error) {
	f, err := a.d.proto.QueryFloat(fmt.Sprintf("C AWG-%s DP?", a.slot.letter()))
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// MemorySize returns the number of points in the AWG memory
func (a *AWG) MemorySize() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s MS?", a.slot.letter()))
}

// SetMemorySize sets the number of points in the AWG memory
func (a *AWG) SetMemorySize(n int) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if n < 2 || n > WaveMemSize {
		return fmt.Errorf("lnhrdac: memory size %d outside 2..%d", n, WaveMemSize)
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s MS %d", a.slot.letter(), n))
}

// ClockPeriod returns the sampling period of this AWG's board.  The clock
// is shared with the sibling AWG on the same board.
func (a *AWG) ClockPeriod() (time.Duration, error) {
	us, err := a.d.proto.QueryInt(fmt.Sprintf("C AWG-%s CP?", a.slot.board()))
	if err != nil {
		return 0, err
	}
	return time.Duration(us) * time.Microsecond, nil
}

// SetClockPeriod sets the sampling period of this AWG's board, rounded to
// whole microseconds.  This also changes the sibling AWG's clock.
func (a *AWG) SetClockPeriod(p time.Duration) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	us := int(p / time.Microsecond)
	if us < 10 {
		return fmt.Errorf("lnhrdac: clock period %v below minimum 10µs", p)
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s CP %d", a.slot.board(), us))
}

// AutoStart reports whether the AWG restarts itself after its associated
// step generator advances (used by the 2D scan)
func (a *AWG) AutoStart() (bool, error) {
	return a.d.proto.QueryBool(fmt.Sprintf("C AWG-%s AS?", a.slot.letter()))
}

// SetAutoStart selects normal (false) or auto (true) starting
func (a *AWG) SetAutoStart(on bool) error {
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s AS %d", a.slot.letter(), boolInt(on)))
}

// ReloadMode reports whether the AWG memory is reloaded from wave memory
// before each restart
func (a *AWG) ReloadMode() (bool, error) {
	return a.d.proto.QueryBool(fmt.Sprintf("C AWG-%s RLD?", a.slot.letter()))
}

// SetReloadMode selects keep (false) or reload (true) mode.  Polynomials
// only apply in reload mode.
func (a *AWG) SetReloadMode(on bool) error {
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s RLD %d", a.slot.letter(), boolInt(on)))
}

// ApplyPolynomial reports whether the polynomial is applied on reload
func (a *AWG) ApplyPolynomial() (bool, error) {
	return a.d.proto.QueryBool(fmt.Sprintf("C AWG-%s AP?", a.slot.letter()))
}

// SetApplyPolynomial selects whether the polynomial is applied on reload
func (a *AWG) SetApplyPolynomial(on bool) error {
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s AP %d", a.slot.letter(), boolInt(on)))
}

// AdaptiveShift returns the voltage added to the waveform after each step
// generator advance
func (a *AWG) AdaptiveShift() (float64, error) {
	return a.d.proto.QueryFloat(fmt.Sprintf("C AWG-%s SHIV?", a.slot.letter()))
}

// SetAdaptiveShift sets the voltage added after each step generator advance
func (a *AWG) SetAdaptiveShift(v float64) error {
	if v < VoltMin || v > VoltMax {
		return fmt.Errorf("lnhrdac: shift %v V outside [%v, %v]", v, VoltMin, VoltMax)
	}
	return a.d.proto.Command(fmt.Sprintf("C AWG-%s SHIV %.6f", a.slot.letter(), v))
}

// SetPolynomial programs correction coefficients, constant term first
func (a *AWG) SetPolynomial(coeffs []float64) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if len(coeffs) == 0 {
		return fmt.Errorf("lnhrdac: polynomial needs at least one coefficient")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "poly-%s", a.slot.letter())
	for _, c := range coeffs {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(c, 'f', -1, 64))
	}
	return a.d.proto.Command(b.String())
}

// Polynomial returns the programmed correction coefficients
func (a *AWG) Polynomial() ([]float64, error) {
	fields, err := a.d.proto.QueryList(fmt.Sprintf("poly-%s?", a.slot.letter()))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing polynomial coefficient %q: %w", f, err)
		}
	}
	return out, nil
}

// MemoryValue reads one raw AWG memory address.  The AWG must not be running.
func (a *AWG) MemoryValue(addr int) (uint32, error) {
	if err := checkAddr(addr); err != nil {
		return 0, err
	}
	return a.d.proto.QueryCode(fmt.Sprintf("awg-%s %x?", a.slot.letter(), addr))
}

// SetMemoryValue writes one raw AWG memory address
func (a *AWG) SetMemoryValue(addr int, code uint32) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if err := checkAddr(addr); err != nil {
		return err
	}
	if code > codeMax {
		return fmt.Errorf("lnhrdac: code %x exceeds 24 bits", code)
	}
	return a.d.proto.Command(fmt.Sprintf("awg-%s %x %x", a.slot.letter(), addr, code))
}

// MemoryBlock reads 1000 raw values starting at addr
func (a *AWG) MemoryBlock(addr int) ([]uint32, error) {
	if err := checkAddr(addr); err != nil {
		return nil, err
	}
	fields, err := a.d.proto.QueryList(fmt.Sprintf("awg-%s %x blk?", a.slot.letter(), addr))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(fields))
	for i, f := range fields {
		out[i], err = parseCode(f)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WaveMemorySize returns the number of points in this slot's wave memory
func (a *AWG) WaveMemorySize() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C WAV-%s MS?", a.slot.letter()))
}

// ClearWaveMemory empties the wave memory, resetting its size to zero
func (a *AWG) ClearWaveMemory() error {
	if err := a.checkLock(); err != nil {
		return err
	}
	return a.d.proto.Command(fmt.Sprintf("C WAV-%s CLR", a.slot.letter()))
}

// SaveWaveMemory copies the wave memory into the volatile WAV-S store
func (a *AWG) SaveWaveMemory() error {
	return a.d.proto.Command(fmt.Sprintf("C WAV-%s SAVE", a.slot.letter()))
}

// LinearizationChannel returns the channel whose linearization is applied
// when the wave memory is written to the AWG, or 0 for none
func (a *AWG) LinearizationChannel() (int, error) {
	return a.d.proto.QueryInt(fmt.Sprintf("C WAV-%s LINCH?", a.slot.letter()))
}

// Waveform reads the contents of the wave memory in volts.  Blocks of 1000
// points are fetched at a time; the firmware pads the final block with
// "NaN" markers, which are trimmed.
func (a *AWG) Waveform() ([]float64, error) {
	size, err := a.WaveMemorySize()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, size)
	for addr := 0; addr < size; addr += blockSize {
		fields, err := a.d.proto.QueryList(fmt.Sprintf("wav-%s %x blk?", a.slot.letter(), addr))
		if err != nil {
			return nil, err
		}
		for len(fields) > 0 && fields[len(fields)-1] == "NaN" {
			fields = fields[:len(fields)-1]
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing wave memory value %q: %w", f, err)
			}
			out = append(out, v)
		}
	}
	if len(out) != size {
		return nil, fmt.Errorf("lnhrdac: wave memory %s read %d points, expected %d", a.slot, len(out), size)
	}
	return out, nil
}

// SetWaveform replaces the wave memory and copies it into the AWG memory.
// The board clock period is restored afterwards; the copy operation is
// known to disturb it on some firmware revisions.
func (a *AWG) SetWaveform(wf []float64) error {
	if err := a.checkLock(); err != nil {
		return err
	}
	if len(wf) == 0 || len(wf) > WaveMemSize {
		return fmt.Errorf("lnhrdac: waveform length %d outside 1..%d", len(wf), WaveMemSize)
	}
	clock, err := a.ClockPeriod()
	if err != nil {
		return err
	}
	if err := a.ClearWaveMemory(); err != nil {
		return err
	}
	for addr, v := range wf {
		if v < VoltMin || v > VoltMax {
			return fmt.Errorf("lnhrdac: waveform point %d is %v V, outside [%v, %v]", addr, v, VoltMin, VoltMax)
		}
		err = a.d.proto.Command(fmt.Sprintf("wav-%s %x %.6f", a.slot.letter(), addr, v))
		if err != nil {
			return err
		}
	}
	// the firmware needs a moment before the size query is coherent
	time.Sleep(ctrlSettle)
	size, err := a.WaveMemorySize()
	if err != nil {
		return err
	}
	if size != len(wf) {
		return fmt.Errorf("lnhrdac: wave memory %s holds %d points after writing %d", a.slot, size, len(wf))
	}
	if err := a.writeWaveToAWG(); err != nil {
		return err
	}
	after, err := a.ClockPeriod()
	if err != nil {
		return err
	}
	if after != clock {
		return a.SetClockPeriod(clock)
	}
	return nil
}

// writeWaveToAWG triggers the wave-to-AWG memory copy and polls the busy
// flag until the firmware finishes
func (a *AWG) writeWaveToAWG() error {
	if err := a.d.proto.Command(fmt.Sprintf("C WAV-%s WRITE", a.slot.letter())); err != nil {
		return err
	}
	limiter := rate.NewLimiter(busyPollLimit, 1)
	for {
		if err := limiter.Wait(context.Background()); err != nil {
			return err
		}
		busy, err := a.d.proto.QueryBool(fmt.Sprintf("C WAV-%s BUSY?", a.slot.letter()))
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
	}
}

func checkAddr(addr int) error {
	if addr < 0 || addr >= WaveMemSize {
		return fmt.Errorf("lnhrdac: address %#x outside 0..%#x", addr, WaveMemSize-1)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
