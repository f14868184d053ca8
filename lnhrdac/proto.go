package lnhrdac

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nanophys/lnhrdac2/comm"
	"github.com/nanophys/lnhrdac2/telemetry"
)

const (
	// time to wait for the device to answer one request
	commTimeout = 5 * time.Second

	// settle time after any control ("C ...") command
	ctrlSettle = 200 * time.Millisecond

	// additional settle time after a memory write control command
	memWriteSettle = 300 * time.Millisecond

	// replies to block queries are ~11 kB; leave plenty of headroom
	replyBufSize = 64 * 1024
)

// ErrInvalidCommand is generated when the device echoes a query back with a
// question mark, its way of saying it did not understand
var ErrInvalidCommand = errors.New("lnhrdac: command not understood by device")

// ErrLocked is generated when an operation is attempted on a resource that
// is locked, e.g. an AWG repurposed by a running 2D scan
var ErrLocked = errors.New("lnhrdac: resource is locked")

// ErrChannelUnavailable is generated when a generator is pointed at an
// output channel that is already claimed
var ErrChannelUnavailable = errors.New("lnhrdac: output channel not available")

// DACError is a rejection code from the instrument in response to a
// set or control command
type DACError struct {
	// Code is the error number reported by the device, 1-5
	Code int

	// Cmd is the command that was rejected
	Cmd string
}

var dacErrorDescriptions = map[int]string{
	1: "invalid DAC channel",
	2: "missing DAC value",
	3: "DAC value out of range",
	4: "mistyped or unknown command",
	5: "writing not allowed in current state",
}

func (e DACError) Error() string {
	desc, ok := dacErrorDescriptions[e.Code]
	if !ok {
		desc = "unknown error"
	}
	return fmt.Sprintf("lnhrdac: device returned error %d (%s) to %q", e.Code, desc, e.Cmd)
}

// Proto is the request/reply layer over the pooled connection to the
// instrument.  It implements the handshake described in the programmer's
// manual: set and control commands are acknowledged with "0", anything else
// is a device error code; queries that the firmware does not understand are
// echoed back containing a question mark.
type Proto struct {
	pool *comm.Pool

	collector telemetry.Collector
}

// NewProto returns a protocol layer speaking through pool
func NewProto(pool *comm.Pool) *Proto {
	return &Proto{pool: pool, collector: telemetry.Noop()}
}

// SetCollector replaces the telemetry sink, nil restores the no-op one
func (p *Proto) SetCollector(c telemetry.Collector) {
	if c == nil {
		c = telemetry.Noop()
	}
	p.collector = c
}

// Ask sends one line to the device and returns the first reply line.
// The caller gets the raw text; no handshaking is applied.
func (p *Proto) Ask(cmd string) (resp string, err error) {
	start := time.Now()
	conn, err := p.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { p.pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, commTimeout)
	if err != nil {
		return "", err
	}
	// the device wants \r\n termination; the wrapper supplies the \n
	_, err = wrap.Write([]byte(cmd + "\r"))
	if err != nil {
		return "", err
	}
	buf := make([]byte, replyBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	p.collector.ObserveRoundTrip(time.Since(start))
	return string(buf[:n]), nil
}

// AskLines sends one line and collects a multi-line reply, e.g. from the
// "soft?" or "health?" information queries.  The device does not announce
// how many lines follow, so lines are accumulated until it falls silent.
func (p *Proto) AskLines(cmd string) (lines []string, err error) {
	conn, err := p.pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() {
		// a read timeout is how this transaction ends; not an error
		p.pool.ReturnWithError(conn, err)
	}()
	d, ok := conn.(comm.Deadliner)
	if !ok {
		return nil, comm.ErrNoDeadlineSupport
	}
	if err = d.SetWriteDeadline(time.Now().Add(commTimeout)); err != nil {
		return nil, err
	}
	if _, err = conn.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, err
	}
	var accum []byte
	buf := make([]byte, replyBufSize)
	deadline := commTimeout
	for {
		if err = d.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, err
		}
		n, rerr := conn.Read(buf)
		accum = append(accum, buf[:n]...)
		if rerr != nil {
			var nerr net.Error
			if errors.As(rerr, &nerr) && nerr.Timeout() && len(accum) > 0 {
				break
			}
			err = rerr
			return nil, err
		}
		// after the first chunk, only wait briefly for stragglers
		deadline = 100 * time.Millisecond
	}
	for _, ln := range strings.Split(string(accum), "\n") {
		ln = strings.TrimRight(ln, "\r")
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines, nil
}

// settle applies the post-command delays the firmware needs to synchronize
// its internal state
func settle(cmd string) {
	if len(cmd) == 0 || (cmd[0] != 'C' && cmd[0] != 'c') {
		return
	}
	time.Sleep(ctrlSettle)
	if strings.Contains(strings.ToLower(cmd), "write") {
		time.Sleep(memWriteSettle)
	}
}

func commandKind(cmd string) string {
	if len(cmd) > 0 && (cmd[0] == 'C' || cmd[0] == 'c') {
		return "control"
	}
	if strings.Contains(cmd, "?") {
		return "query"
	}
	return "set"
}

// Command sends a set or control command and verifies the "0" acknowledge
func (p *Proto) Command(cmd string) error {
	kind := commandKind(cmd)
	p.collector.IncCommand(kind)
	resp, err := p.Ask(cmd)
	if err != nil {
		p.collector.IncCommandError(kind)
		return err
	}
	if resp != "0" {
		p.collector.IncCommandError(kind)
		code, cerr := strconv.Atoi(strings.TrimSpace(resp))
		if cerr != nil {
			return fmt.Errorf("lnhrdac: unexpected acknowledge %q to %q", resp, cmd)
		}
		return DACError{Code: code, Cmd: cmd}
	}
	settle(cmd)
	return nil
}

// Query sends a query and returns its single-line answer
func (p *Proto) Query(cmd string) (string, error) {
	p.collector.IncCommand("query")
	resp, err := p.Ask(cmd)
	if err != nil {
		p.collector.IncCommandError("query")
		return "", err
	}
	if strings.Contains(resp, "?") {
		p.collector.IncCommandError("query")
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
	settle(cmd)
	return resp, nil
}

// QueryInt queries and parses a decimal integer
func (p *Proto) QueryInt(cmd string) (int, error) {
	resp, err := p.Query(cmd)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("parsing reply to %q: %w", cmd, err)
	}
	return i, nil
}

// QueryFloat queries and parses a decimal float
func (p *Proto) QueryFloat(cmd string) (float64, error) {
	resp, err := p.Query(cmd)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reply to %q: %w", cmd, err)
	}
	return f, nil
}

// QueryBool queries and parses a "0"/"1" flag
func (p *Proto) QueryBool(cmd string) (bool, error) {
	i, err := p.QueryInt(cmd)
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

// QueryCode queries and parses a hexadecimal 24-bit DAC code
func (p *Proto) QueryCode(cmd string) (uint32, error) {
	resp, err := p.Query(cmd)
	if err != nil {
		return 0, err
	}
	return parseCode(resp)
}

// QueryList queries and splits a semicolon separated reply
func (p *Proto) QueryList(cmd string) ([]string, error) {
	resp, err := p.Query(cmd)
	if err != nil {
		return nil, err
	}
	return splitList(resp), nil
}

// Raw sends a command verbatim and returns whatever the device says,
// applying the control settle delays but no handshaking.  It backs the
// HTTP raw passthrough.
func (p *Proto) Raw(cmd string) (string, error) {
	p.collector.IncCommand(commandKind(cmd))
	resp, err := p.Ask(cmd)
	if err != nil {
		p.collector.IncCommandError(commandKind(cmd))
		return "", err
	}
	settle(cmd)
	return resp, nil
}
