/*Package lnhrdac provides an interface to Basel Precision Instruments
LNHR DAC II (SP1060) low noise high resolution DACs.

The instrument is a 12 or 24 channel ±10 V voltage source with four onboard
arbitrary waveform generators (AWG A-D), four ramp/step generators, a standard
waveform synthesizer (SWG) and a firmware assisted adaptive 2D sweep mode.
It speaks a line oriented ASCII protocol over a telnet-style TCP socket.

	dac, err := lnhrdac.New("192.168.0.5:23")
	if err != nil {
		// ...
	}
	defer dac.Close()
	err = dac.SetVoltage(14, 1.25)
*/
package lnhrdac

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanophys/lnhrdac2/comm"
	"github.com/nanophys/lnhrdac2/telemetry"
)

// Slot designates one of the four generator resources, A through D
type Slot int

// the four generator slots
const (
	SlotA Slot = iota
	SlotB
	SlotC
	SlotD
)

func (s Slot) String() string {
	return [...]string{"A", "B", "C", "D"}[s]
}

// letter is the lowercase designator used on the wire
func (s Slot) letter() string {
	return [...]string{"a", "b", "c", "d"}[s]
}

// board is the wire designator of the DAC board a slot lives on
func (s Slot) board() string {
	if s == SlotA || s == SlotB {
		return "ab"
	}
	return "cd"
}

// sibling is the other slot sharing the same board (and clock)
func (s Slot) sibling() Slot {
	return [...]Slot{SlotB, SlotA, SlotD, SlotC}[s]
}

// ParseSlot converts "a".."d" or "A".."D" to a Slot
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return SlotA, nil
	case "b":
		return SlotB, nil
	case "c":
		return SlotC, nil
	case "d":
		return SlotD, nil
	}
	return 0, fmt.Errorf("lnhrdac: invalid slot %q", s)
}

// Bandwidth is the output filter setting of a channel
type Bandwidth string

// the two output bandwidths, 100 Hz and 100 kHz
const (
	BandwidthLow  Bandwidth = "LBW"
	BandwidthHigh Bandwidth = "HBW"
)

// ChannelMode describes what is currently driving a channel
type ChannelMode string

// channel modes as reported by the "m?" query
const (
	ModeDAC  ChannelMode = "DAC"
	ModeSync ChannelMode = "SYN"
	ModeRamp ChannelMode = "RMP"
	ModeAWG  ChannelMode = "AWG"
	ModeOff  ChannelMode = "---"
	ModeErr  ChannelMode = "ERR"
)

// Board designates one of the two 12-channel DAC boards
type Board string

// the lower board carries channels 1-12, the higher board 13-24
const (
	BoardLower  Board = "L"
	BoardHigher Board = "H"
)

// UpdateMode controls when a board applies registered values to its outputs
type UpdateMode int

// update modes for the "C UM" commands
const (
	// UpdateInstant applies each value as soon as it is set
	UpdateInstant UpdateMode = 0

	// UpdateSync holds values until a sync command or external trigger
	UpdateSync UpdateMode = 1
)

// IDN is the identification of one instrument
type IDN struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// DAC represents one LNHR DAC II.  All methods are safe for concurrent use;
// the underlying pool serializes access to the single telnet session.
type DAC struct {
	proto *Proto

	pool *comm.Pool

	nchan int

	log zerolog.Logger

	awgs  [4]*AWG
	ramps [4]*Ramp
	swg   *SWG
	scan  *Scan
}

// New dials addr (host:port, conventionally port 23) and interrogates the
// device for its channel count
func New(addr string) (*DAC, error) {
	pool := comm.NewPool(1, 30*time.Second, comm.BackingOffTCPConnMaker(addr, 3*time.Second))
	return NewFromPool(pool)
}

// NewFromPool builds a DAC over an existing connection pool, e.g. one
// backed by a serial line
func NewFromPool(pool *comm.Pool) (*DAC, error) {
	d := &DAC{
		proto: NewProto(pool),
		pool:  pool,
		log:   zerolog.Nop(),
	}
	modes, err := d.AllModes()
	if err != nil {
		return nil, fmt.Errorf("discovering channel count: %w", err)
	}
	d.nchan = len(modes)
	if d.nchan != 12 && d.nchan != 24 {
		return nil, fmt.Errorf("lnhrdac: device reports %d channels, expected 12 or 24", d.nchan)
	}
	for i := range d.awgs {
		d.awgs[i] = &AWG{d: d, slot: Slot(i)}
		d.ramps[i] = &Ramp{d: d, slot: Slot(i)}
	}
	d.swg = &SWG{d: d}
	d.scan = &Scan{d: d}
	return d, nil
}

// SetLogger attaches a logger; the zero DAC discards log events
func (d *DAC) SetLogger(l zerolog.Logger) {
	d.log = l
}

// SetCollector attaches a telemetry sink
func (d *DAC) SetCollector(c telemetry.Collector) {
	d.proto.SetCollector(c)
}

// Proto exposes the raw protocol layer, e.g. for ASCII passthrough
func (d *DAC) Proto() *Proto {
	return d.proto
}

// Close releases the connections to the device
func (d *DAC) Close() error {
	return d.pool.Close()
}

// Channels returns the number of output channels, 12 or 24
func (d *DAC) Channels() int {
	return d.nchan
}

func (d *DAC) checkChannel(ch int) error {
	if ch < 1 || ch > d.nchan {
		return fmt.Errorf("lnhrdac: channel %d outside 1..%d", ch, d.nchan)
	}
	return nil
}

// SetVoltage sets the output voltage of one channel (1-based)
func (d *DAC) SetVoltage(ch int, v float64) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	code, err := VoltToCode(v)
	if err != nil {
		return err
	}
	return d.proto.Command(fmt.Sprintf("%d %x", ch, code))
}

// SetCode sets the output of one channel to a raw 24-bit DAC code
func (d *DAC) SetCode(ch int, code uint32) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	if code > codeMax {
		return fmt.Errorf("lnhrdac: code %x exceeds 24 bits", code)
	}
	return d.proto.Command(fmt.Sprintf("%d %x", ch, code))
}

// Voltage returns the present output voltage of one channel
func (d *DAC) Voltage(ch int) (float64, error) {
	if err := d.checkChannel(ch); err != nil {
		return 0, err
	}
	code, err := d.proto.QueryCode(fmt.Sprintf("%d v?", ch))
	if err != nil {
		return 0, err
	}
	return CodeToVolt(code), nil
}

// RegisteredVoltage returns the voltage a channel will output on its next
// update; it differs from Voltage when the board is in synchronous mode
func (d *DAC) RegisteredVoltage(ch int) (float64, error) {
	if err := d.checkChannel(ch); err != nil {
		return 0, err
	}
	code, err := d.proto.QueryCode(fmt.Sprintf("%d vr?", ch))
	if err != nil {
		return 0, err
	}
	return CodeToVolt(code), nil
}

// SetAllVoltages sets every channel to the same voltage
func (d *DAC) SetAllVoltages(v float64) error {
	code, err := VoltToCode(v)
	if err != nil {
		return err
	}
	return d.proto.Command(fmt.Sprintf("all %x", code))
}

// AllVoltages returns the present voltage of every channel
func (d *DAC) AllVoltages() ([]float64, error) {
	fields, err := d.proto.QueryList("all v?")
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		code, err := parseCode(f)
		if err != nil {
			return nil, err
		}
		out[i] = CodeToVolt(code)
	}
	return out, nil
}

// SetEnabled turns one channel on or off.  Off means a 1 MOhm pull-down
// to analog ground.
func (d *DAC) SetEnabled(ch int, on bool) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return d.proto.Command(fmt.Sprintf("%d %s", ch, state))
}

// Enabled returns true if a channel is switched on
func (d *DAC) Enabled(ch int) (bool, error) {
	if err := d.checkChannel(ch); err != nil {
		return false, err
	}
	resp, err := d.proto.Query(fmt.Sprintf("%d s?", ch))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(resp), "ON"), nil
}

// SetAllEnabled turns every channel on or off
func (d *DAC) SetAllEnabled(on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return d.proto.Command("all " + state)
}

// AllEnabled returns the on/off state of every channel
func (d *DAC) AllEnabled() ([]bool, error) {
	fields, err := d.proto.QueryList("all s?")
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(fields))
	for i, f := range fields {
		out[i] = strings.EqualFold(f, "ON")
	}
	return out, nil
}

// SetBandwidth selects the output filter of one channel
func (d *DAC) SetBandwidth(ch int, bw Bandwidth) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	if bw != BandwidthLow && bw != BandwidthHigh {
		return fmt.Errorf("lnhrdac: invalid bandwidth %q", bw)
	}
	return d.proto.Command(fmt.Sprintf("%d %s", ch, bw))
}

// GetBandwidth returns the output filter of one channel
func (d *DAC) GetBandwidth(ch int) (Bandwidth, error) {
	if err := d.checkChannel(ch); err != nil {
		return "", err
	}
	resp, err := d.proto.Query(fmt.Sprintf("%d bw?", ch))
	if err != nil {
		return "", err
	}
	return Bandwidth(strings.ToUpper(strings.TrimSpace(resp))), nil
}

// SetAllBandwidths selects the output filter of every channel
func (d *DAC) SetAllBandwidths(bw Bandwidth) error {
	if bw != BandwidthLow && bw != BandwidthHigh {
		return fmt.Errorf("lnhrdac: invalid bandwidth %q", bw)
	}
	return d.proto.Command("all " + string(bw))
}

// AllBandwidths returns the output filter of every channel
func (d *DAC) AllBandwidths() ([]Bandwidth, error) {
	fields, err := d.proto.QueryList("all bw?")
	if err != nil {
		return nil, err
	}
	out := make([]Bandwidth, len(fields))
	for i, f := range fields {
		out[i] = Bandwidth(strings.ToUpper(f))
	}
	return out, nil
}

// Mode returns what currently drives one channel
func (d *DAC) Mode(ch int) (ChannelMode, error) {
	if err := d.checkChannel(ch); err != nil {
		return "", err
	}
	resp, err := d.proto.Query(fmt.Sprintf("%d m?", ch))
	if err != nil {
		return "", err
	}
	return ChannelMode(strings.TrimSpace(resp)), nil
}

// AllModes returns the driving mode of every channel.  The length of the
// reply tells the channel count of the device.
func (d *DAC) AllModes() ([]ChannelMode, error) {
	fields, err := d.proto.QueryList("all m?")
	if err != nil {
		return nil, err
	}
	out := make([]ChannelMode, len(fields))
	for i, f := range fields {
		out[i] = ChannelMode(f)
	}
	return out, nil
}

// SetUpdateMode selects instant or synchronous updates for one board
func (d *DAC) SetUpdateMode(b Board, m UpdateMode) error {
	return d.proto.Command(fmt.Sprintf("C UM-%s %d", b, m))
}

// GetUpdateMode returns the update mode of one board
func (d *DAC) GetUpdateMode(b Board) (UpdateMode, error) {
	i, err := d.proto.QueryInt(fmt.Sprintf("C UM-%s?", b))
	if err != nil {
		return 0, err
	}
	return UpdateMode(i), nil
}

// Sync applies the registered values of one board to its outputs
func (d *DAC) Sync(b Board) error {
	return d.proto.Command(fmt.Sprintf("C SYNC-%s", b))
}

// SyncAll applies the registered values of both boards at once
func (d *DAC) SyncAll() error {
	return d.proto.Command("C SYNC-LH")
}

// AWG returns the handle for one arbitrary waveform generator
func (d *DAC) AWG(s Slot) *AWG {
	return d.awgs[s]
}

// Ramp returns the handle for one ramp/step generator
func (d *DAC) Ramp(s Slot) *Ramp {
	return d.ramps[s]
}

// SWG returns the standard waveform generator handle
func (d *DAC) SWG() *SWG {
	return d.swg
}

// Scan returns the adaptive 2D scan handle
func (d *DAC) Scan() *Scan {
	return d.scan
}

// SetRefClock turns the 1 MHz reference clock output on or off
func (d *DAC) SetRefClock(on bool) error {
	state := 0
	if on {
		state = 1
	}
	return d.proto.Command(fmt.Sprintf("C AWG-1MHz %d", state))
}

// RefClock returns true if the 1 MHz reference clock output is on
func (d *DAC) RefClock() (bool, error) {
	resp, err := d.proto.Query("C AWG-1MHz?")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(resp), "on"), nil
}

// SetAWGOnly blocks non-AWG outputs of one board pair ("ab" or "cd")
// while their AWGs run
func (d *DAC) SetAWGOnly(boardPair string, only bool) error {
	state := 0
	if only {
		state = 1
	}
	return d.proto.Command(fmt.Sprintf("C AWG-%s ONLY %d", strings.ToLower(boardPair), state))
}

// AWGOnly returns the AWG-only mode of one board pair
func (d *DAC) AWGOnly(boardPair string) (bool, error) {
	return d.proto.QueryBool(fmt.Sprintf("C AWG-%s ONLY?", strings.ToLower(boardPair)))
}

// Firmware returns the firmware description of the device
func (d *DAC) Firmware() (string, error) {
	return d.infoQuery("soft?")
}

// Hardware returns the hardware description of the device, including its
// serial number
func (d *DAC) Hardware() (string, error) {
	return d.infoQuery("hard?")
}

// Health returns temperature, CPU load and power supply readings
func (d *DAC) Health() (string, error) {
	return d.infoQuery("health?")
}

// IP returns the network configuration of the device
func (d *DAC) IP() (string, error) {
	return d.infoQuery("ip?")
}

// BaudRate returns the RS-232 baud rate setting
func (d *DAC) BaudRate() (string, error) {
	return d.infoQuery("serial?")
}

// Contact returns the manufacturer contact information
func (d *DAC) Contact() (string, error) {
	return d.infoQuery("contact?")
}

// Overview returns the command overview printed by the device
func (d *DAC) Overview() (string, error) {
	return d.infoQuery("?")
}

func (d *DAC) infoQuery(cmd string) (string, error) {
	lines, err := d.proto.AskLines(cmd)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// Identification assembles the vendor/model/serial/firmware tuple.
// Serial and firmware are sliced out of fixed positions of the hardware and
// software banners; if a banner is shorter than expected it is passed
// through whole.
func (d *DAC) Identification() (IDN, error) {
	idn := IDN{
		Vendor: "Basel Precision Instruments GmbH (BASPI)",
		Model:  fmt.Sprintf("LNHR DAC II (SP1060) - %d channel version", d.nchan),
	}
	hw, err := d.Hardware()
	if err != nil {
		return idn, err
	}
	idn.Serial = sliceBanner(hw, 37, 51)
	sw, err := d.Firmware()
	if err != nil {
		return idn, err
	}
	idn.Firmware = sliceBanner(sw, 18, 33)
	return idn, nil
}

// sliceBanner cuts a fixed-position field out of the first line of an
// info query reply
func sliceBanner(s string, lo, hi int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) >= hi {
		return strings.TrimSpace(s[lo:hi])
	}
	return strings.TrimSpace(s)
}
