package lnhrdac

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
)

// hardBanner and softBanner place the serial number and firmware revision
// at the byte offsets Identification slices them from
const (
	hardBanner = "LNHR DAC II SP1060 hardware revision LNHRDAC2-00042 (lower board rev. 3, higher board rev. 3)"
	softBanner = "Software Version: 3.4.10-20240115 (build 2024-01-15)"
)

type mockAWG struct {
	channel   int
	cycles    int
	trigger   int
	autoStart bool
	reload    bool
	applyPoly bool
	shift     float64
	running   bool
	cyclesDn  int
	size      int
	mem       []uint32
	wave      []float64
	poly      []float64
	busyLeft  int
}

type mockRamp struct {
	channel int
	start   float64
	peak    float64
	seconds float64
	shape   int
	cycles  int
	step    bool
	state   int
	cyclesD int
	stepsD  int
}

type mockSWG struct {
	newWave bool
	shape   int
	freq    float64
	adapt   bool
	amp     float64
	offset  float64
	phase   float64
	duty    float64
	wmem    int
	wfun    int
	lin     bool
}

// Mock is an in-memory rendition of the instrument's TCP command
// interface, for tests and the simulator mode of the server.  It speaks
// the same ASCII protocol as the hardware: CRLF framing, "0"
// acknowledgements, hexadecimal DAC codes, and a "?" echo for commands it
// does not recognize.
type Mock struct {
	ln    net.Listener
	nchan int

	// BusyPolls is how many times "C WAV-x BUSY?" reports busy after a
	// memory write before completing
	BusyPolls int

	mu       sync.Mutex
	codes    []uint32
	enabled  []bool
	bw       []string
	modes    []string
	update   map[string]int
	awgOnly  map[string]bool
	clock    map[string]int
	refClock bool
	awgs     [4]*mockAWG
	ramps    [4]*mockRamp
	swg      mockSWG
	cmds     []string

	wg     sync.WaitGroup
	closed bool
}

// NewMock starts a simulated instrument with the given channel count (12
// or 24) listening on an ephemeral localhost port
func NewMock(nchan int) (*Mock, error) {
	if nchan != 12 && nchan != 24 {
		return nil, fmt.Errorf("lnhrdac: mock supports 12 or 24 channels, not %d", nchan)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &Mock{
		ln:        ln,
		nchan:     nchan,
		BusyPolls: 1,
		codes:     make([]uint32, nchan),
		enabled:   make([]bool, nchan),
		bw:        make([]string, nchan),
		modes:     make([]string, nchan),
		update:    map[string]int{"L": 0, "H": 0},
		awgOnly:   map[string]bool{"ab": false, "cd": false},
		clock:     map[string]int{"ab": 10, "cd": 10},
	}
	for i := range m.codes {
		m.codes[i] = 0x800000
		m.bw[i] = "LBW"
		m.modes[i] = "DAC"
	}
	for i := range m.awgs {
		m.awgs[i] = &mockAWG{channel: i + 1, size: 2}
		m.ramps[i] = &mockRamp{channel: i + 1, seconds: 0.05}
	}
	m.wg.Add(1)
	go m.serve()
	return m, nil
}

// Addr returns the host:port the mock listens on
func (m *Mock) Addr() string {
	return m.ln.Addr().String()
}

// Close stops the listener and waits for connection handlers to finish
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	err := m.ln.Close()
	m.wg.Wait()
	return err
}

// Commands returns every command line received so far
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cmds))
	copy(out, m.cmds)
	return out
}

// Voltage returns the present output of a channel, for test assertions
func (m *Mock) Voltage(ch int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CodeToVolt(m.codes[ch-1])
}

func (m *Mock) serve() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go m.handleConn(conn)
	}
}

func (m *Mock) handleConn(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		m.mu.Lock()
		m.cmds = append(m.cmds, line)
		lines := m.dispatch(line)
		m.mu.Unlock()
		for _, l := range lines {
			w.WriteString(l)
			w.WriteString("\r\n")
		}
		w.Flush()
	}
}

// dispatch is called with the state lock held
func (m *Mock) dispatch(line string) []string {
	f := strings.Fields(line)
	switch {
	case f[0] == "C":
		return m.control(line, f[1:])
	case strings.HasPrefix(f[0], "wav-"):
		return m.waveMem(f)
	case strings.HasPrefix(f[0], "awg-"):
		return m.awgMem(f)
	case strings.HasPrefix(f[0], "poly-"):
		return m.polynomial(f)
	case f[0] == "all":
		return m.channelCmd(0, true, f[1:])
	case line == "?":
		return []string{"LNHR DAC II command overview", "see the user manual"}
	case strings.HasSuffix(f[0], "?") && len(f) == 1:
		return m.info(f[0])
	default:
		ch, err := strconv.Atoi(f[0])
		if err != nil || ch < 1 || ch > m.nchan || len(f) < 2 {
			return []string{line + "?"}
		}
		return m.channelCmd(ch, false, f[1:])
	}
}

func (m *Mock) info(q string) []string {
	switch q {
	case "hard?":
		return []string{hardBanner, "revision details follow"}
	case "soft?":
		return []string{softBanner, "bootloader 1.2"}
	case "health?":
		return []string{"temperature: 38.5 degC", "cpu-load: 12%", "supplies: ok"}
	case "ip?":
		return []string{"ip: 192.168.0.5", "mask: 255.255.255.0"}
	case "serial?":
		return []string{"baud rate: 115200"}
	case "contact?":
		return []string{"Basel Precision Instruments GmbH", "info@baspi.ch"}
	case "help?":
		return []string{"help is available in the user manual"}
	}
	return []string{q + "?"}
}

func (m *Mock) channelCmd(ch int, all bool, args []string) []string {
	if len(args) == 0 {
		return []string{"4"}
	}
	lo, hi := ch-1, ch
	if all {
		lo, hi = 0, m.nchan
	}
	switch args[0] {
	case "v?":
		return []string{m.join(lo, hi, func(i int) string { return fmt.Sprintf("%x", m.codes[i]) })}
	case "vr?":
		return []string{m.join(lo, hi, func(i int) string { return fmt.Sprintf("%x", m.codes[i]) })}
	case "s?":
		return []string{m.join(lo, hi, func(i int) string {
			if m.enabled[i] {
				return "ON"
			}
			return "OFF"
		})}
	case "bw?":
		return []string{m.join(lo, hi, func(i int) string { return m.bw[i] })}
	case "m?":
		return []string{m.join(lo, hi, func(i int) string { return m.modes[i] })}
	case "ON", "OFF":
		on := args[0] == "ON"
		for i := lo; i < hi; i++ {
			m.enabled[i] = on
		}
		return []string{"0"}
	case "HBW", "LBW":
		for i := lo; i < hi; i++ {
			m.bw[i] = args[0]
		}
		return []string{"0"}
	}
	code, err := strconv.ParseUint(args[0], 16, 32)
	if err != nil {
		return []string{"4"}
	}
	if code > codeMax {
		return []string{"3"}
	}
	for i := lo; i < hi; i++ {
		m.codes[i] = uint32(code)
	}
	return []string{"0"}
}

func (m *Mock) join(lo, hi int, f func(int) string) string {
	parts := make([]string, 0, hi-lo)
	for i := lo; i < hi; i++ {
		parts = append(parts, f(i))
	}
	return strings.Join(parts, ";")
}

func slotIndex(s string) int {
	switch strings.ToLower(s) {
	case "a":
		return 0
	case "b":
		return 1
	case "c":
		return 2
	case "d":
		return 3
	}
	return -1
}

func (m *Mock) waveMem(f []string) []string {
	i := slotIndex(strings.TrimPrefix(f[0], "wav-"))
	if i < 0 || len(f) < 2 {
		return []string{strings.Join(f, " ") + "?"}
	}
	a := m.awgs[i]
	switch {
	case f[1] == "all":
		v, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return []string{"2"}
		}
		for j := range a.wave {
			a.wave[j] = v
		}
		return []string{"0"}
	case len(f) == 2 && strings.HasSuffix(f[1], "?"):
		addr, err := strconv.ParseUint(strings.TrimSuffix(f[1], "?"), 16, 32)
		if err != nil || int(addr) >= len(a.wave) {
			return []string{"NaN"}
		}
		return []string{fmt.Sprintf("%.6f", a.wave[addr])}
	case len(f) == 3 && f[2] == "blk?":
		addr, err := strconv.ParseUint(f[1], 16, 32)
		if err != nil {
			return []string{"2"}
		}
		parts := make([]string, blockSize)
		for j := range parts {
			if idx := int(addr) + j; idx < len(a.wave) {
				parts[j] = fmt.Sprintf("%.6f", a.wave[idx])
			} else {
				parts[j] = "NaN"
			}
		}
		return []string{strings.Join(parts, ";")}
	case len(f) == 3:
		addr, err := strconv.ParseUint(f[1], 16, 32)
		if err != nil {
			return []string{"2"}
		}
		v, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return []string{"2"}
		}
		if v < VoltMin || v > VoltMax {
			return []string{"3"}
		}
		if int(addr) >= WaveMemSize {
			return []string{"3"}
		}
		for int(addr) >= len(a.wave) {
			a.wave = append(a.wave, 0)
		}
		a.wave[addr] = v
		return []string{"0"}
	}
	return []string{strings.Join(f, " ") + "?"}
}

func (m *Mock) awgMem(f []string) []string {
	i := slotIndex(strings.TrimPrefix(f[0], "awg-"))
	if i < 0 || len(f) < 2 {
		return []string{strings.Join(f, " ") + "?"}
	}
	a := m.awgs[i]
	switch {
	case f[1] == "ALL":
		code, err := strconv.ParseUint(f[2], 16, 32)
		if err != nil {
			return []string{"2"}
		}
		for j := range a.mem {
			a.mem[j] = uint32(code)
		}
		return []string{"0"}
	case len(f) == 2 && strings.HasSuffix(f[1], "?"):
		addr, err := strconv.ParseUint(strings.TrimSuffix(f[1], "?"), 16, 32)
		if err != nil || int(addr) >= len(a.mem) {
			return []string{"NaN"}
		}
		return []string{fmt.Sprintf("%x", a.mem[addr])}
	case len(f) == 3 && f[2] == "blk?":
		addr, _ := strconv.ParseUint(f[1], 16, 32)
		parts := make([]string, blockSize)
		for j := range parts {
			if idx := int(addr) + j; idx < len(a.mem) {
				parts[j] = fmt.Sprintf("%x", a.mem[idx])
			} else {
				parts[j] = "NaN"
			}
		}
		return []string{strings.Join(parts, ";")}
	case len(f) == 3:
		addr, err := strconv.ParseUint(f[1], 16, 32)
		if err != nil {
			return []string{"2"}
		}
		code, err := strconv.ParseUint(f[2], 16, 32)
		if err != nil {
			return []string{"2"}
		}
		for int(addr) >= len(a.mem) {
			a.mem = append(a.mem, 0)
		}
		a.mem[addr] = uint32(code)
		return []string{"0"}
	}
	return []string{strings.Join(f, " ") + "?"}
}

func (m *Mock) polynomial(f []string) []string {
	name := f[0]
	query := strings.HasSuffix(name, "?")
	i := slotIndex(strings.TrimSuffix(strings.TrimPrefix(name, "poly-"), "?"))
	if i < 0 {
		return []string{strings.Join(f, " ") + "?"}
	}
	a := m.awgs[i]
	if query {
		parts := make([]string, len(a.poly))
		for j, c := range a.poly {
			parts[j] = strconv.FormatFloat(c, 'f', -1, 64)
		}
		if len(parts) == 0 {
			parts = []string{"0"}
		}
		return []string{strings.Join(parts, ";")}
	}
	coeffs := make([]float64, 0, len(f)-1)
	for _, s := range f[1:] {
		c, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return []string{"2"}
		}
		coeffs = append(coeffs, c)
	}
	a.poly = coeffs
	return []string{"0"}
}

func (m *Mock) control(line string, f []string) []string {
	if len(f) == 0 {
		return []string{line + "?"}
	}
	head := f[0]
	switch {
	case head == "AWG-1MHz" || head == "AWG-1MHz?":
		if strings.HasSuffix(head, "?") {
			if m.refClock {
				return []string{"on"}
			}
			return []string{"off"}
		}
		m.refClock = true
		return []string{"0"}
	case strings.HasPrefix(head, "UM-"):
		board := strings.TrimSuffix(strings.TrimPrefix(head, "UM-"), "?")
		if strings.HasSuffix(head, "?") {
			return []string{strconv.Itoa(m.update[board])}
		}
		mode, err := strconv.Atoi(f[1])
		if err != nil {
			return []string{"2"}
		}
		m.update[board] = mode
		return []string{"0"}
	case strings.HasPrefix(head, "SYNC-"):
		return []string{"0"}
	case head == "SWG":
		return m.swgCmd(f[1:])
	case strings.HasPrefix(head, "WAV-"):
		return m.wavCtrl(strings.TrimPrefix(head, "WAV-"), f[1:])
	case strings.HasPrefix(head, "AWG-"):
		return m.awgCtrl(strings.TrimPrefix(head, "AWG-"), f[1:])
	case strings.HasPrefix(head, "RMP-"):
		return m.rampCtrl(strings.TrimPrefix(head, "RMP-"), f[1:])
	}
	return []string{line + "?"}
}

func (m *Mock) wavCtrl(slot string, f []string) []string {
	i := slotIndex(slot)
	if i < 0 || len(f) == 0 {
		return []string{"4"}
	}
	a := m.awgs[i]
	switch f[0] {
	case "MS?":
		return []string{strconv.Itoa(len(a.wave))}
	case "CLR":
		a.wave = nil
		return []string{"0"}
	case "SAVE":
		return []string{"0"}
	case "LINCH?":
		return []string{"0"}
	case "WRITE":
		a.busyLeft = m.BusyPolls
		a.size = len(a.wave)
		a.mem = make([]uint32, len(a.wave))
		for j, v := range a.wave {
			code, err := VoltToCode(v)
			if err == nil {
				a.mem[j] = code
			}
		}
		return []string{"0"}
	case "BUSY?":
		if a.busyLeft > 0 {
			a.busyLeft--
			return []string{"1"}
		}
		return []string{"0"}
	}
	return []string{"4"}
}

func (m *Mock) awgCtrl(slot string, f []string) []string {
	if len(f) == 0 {
		return []string{"4"}
	}
	// board-level commands
	switch strings.ToLower(slot) {
	case "ab", "cd":
		board := strings.ToLower(slot)
		switch f[0] {
		case "CP?":
			return []string{strconv.Itoa(m.clock[board])}
		case "CP":
			us, err := strconv.Atoi(f[1])
			if err != nil {
				return []string{"2"}
			}
			m.clock[board] = us
			return []string{"0"}
		case "ONLY?":
			return []string{strconv.Itoa(boolInt(m.awgOnly[board]))}
		case "ONLY":
			mode, err := strconv.Atoi(f[1])
			if err != nil {
				return []string{"2"}
			}
			m.awgOnly[board] = mode != 0
			return []string{"0"}
		}
		return []string{"4"}
	}
	i := slotIndex(slot)
	if i < 0 {
		return []string{"4"}
	}
	a := m.awgs[i]
	switch f[0] {
	case "CH?":
		return []string{strconv.Itoa(a.channel)}
	case "CH":
		a.channel, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "AVA?":
		return []string{"1"}
	case "CS?":
		return []string{strconv.Itoa(a.cycles)}
	case "CS":
		a.cycles, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "CD?":
		return []string{strconv.Itoa(a.cyclesDn)}
	case "TM?":
		return []string{strconv.Itoa(a.trigger)}
	case "TM":
		a.trigger, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "MS?":
		return []string{strconv.Itoa(a.size)}
	case "MS":
		a.size, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "AS?":
		return []string{strconv.Itoa(boolInt(a.autoStart))}
	case "AS":
		a.autoStart = f[1] != "0"
		return []string{"0"}
	case "RLD?":
		return []string{strconv.Itoa(boolInt(a.reload))}
	case "RLD":
		a.reload = f[1] != "0"
		return []string{"0"}
	case "AP?":
		return []string{strconv.Itoa(boolInt(a.applyPoly))}
	case "AP":
		a.applyPoly = f[1] != "0"
		return []string{"0"}
	case "SHIV?":
		return []string{fmt.Sprintf("%.6f", a.shift)}
	case "SHIV":
		a.shift, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "S?":
		return []string{strconv.Itoa(boolInt(a.running))}
	case "START":
		a.running = true
		return []string{"0"}
	case "STOP":
		a.running = false
		return []string{"0"}
	case "DP?":
		board := "ab"
		if i >= 2 {
			board = "cd"
		}
		return []string{fmt.Sprintf("%.6f", float64(a.size*m.clock[board])/1e6)}
	}
	return []string{"4"}
}

func (m *Mock) rampCtrl(slot string, f []string) []string {
	i := slotIndex(slot)
	if i < 0 || len(f) == 0 {
		return []string{"4"}
	}
	r := m.ramps[i]
	steps := func() int { return int(math.Round(r.seconds / 0.005)) }
	switch f[0] {
	case "CH?":
		return []string{strconv.Itoa(r.channel)}
	case "CH":
		r.channel, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "AVA?":
		return []string{"1"}
	case "STAV?":
		return []string{fmt.Sprintf("%.6f", r.start)}
	case "STAV":
		r.start, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "STOV?":
		return []string{fmt.Sprintf("%.6f", r.peak)}
	case "STOV":
		r.peak, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "RT?":
		return []string{fmt.Sprintf("%.3f", r.seconds)}
	case "RT":
		r.seconds, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "RS?":
		return []string{strconv.Itoa(r.shape)}
	case "RS":
		r.shape, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "CS?":
		return []string{strconv.Itoa(r.cycles)}
	case "CS":
		r.cycles, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "STEP?":
		return []string{strconv.Itoa(boolInt(r.step))}
	case "STEP":
		r.step = f[1] != "0"
		return []string{"0"}
	case "S?":
		return []string{strconv.Itoa(r.state)}
	case "CD?":
		return []string{strconv.Itoa(r.cyclesD)}
	case "SD?":
		return []string{strconv.Itoa(r.stepsD)}
	case "ST?":
		return []string{strconv.Itoa(steps())}
	case "SSV?":
		n := steps()
		if n == 0 {
			return []string{"0.000000"}
		}
		return []string{fmt.Sprintf("%.6f", (r.peak-r.start)/float64(n))}
	case "start":
		r.state = 1
		return []string{"0"}
	case "stop":
		r.state = 0
		r.stepsD = 0
		return []string{"0"}
	case "hold":
		r.state = 3
		return []string{"0"}
	}
	return []string{"4"}
}

func (m *Mock) swgCmd(f []string) []string {
	if len(f) == 0 {
		return []string{"4"}
	}
	s := &m.swg
	board := "ab"
	if s.wmem >= 2 {
		board = "cd"
	}
	points := func() int {
		if s.freq <= 0 {
			return 2
		}
		n := int(math.Round(1 / (s.freq * float64(m.clock[board]) / 1e6)))
		if n < 2 {
			n = 2
		}
		if n > WaveMemSize {
			n = WaveMemSize
		}
		return n
	}
	switch f[0] {
	case "MODE?":
		return []string{strconv.Itoa(boolInt(s.newWave))}
	case "MODE":
		s.newWave = f[1] != "0"
		return []string{"0"}
	case "WF?":
		return []string{strconv.Itoa(s.shape)}
	case "WF":
		s.shape, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "DF?":
		return []string{strconv.FormatFloat(s.freq, 'f', -1, 64)}
	case "DF":
		s.freq, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "ACLK?":
		return []string{strconv.Itoa(boolInt(s.adapt))}
	case "ACLK":
		s.adapt = f[1] != "0"
		return []string{"0"}
	case "AMP?":
		return []string{fmt.Sprintf("%.6f", s.amp)}
	case "AMP":
		s.amp, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "DCV?":
		return []string{fmt.Sprintf("%.6f", s.offset)}
	case "DCV":
		s.offset, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "PHA?":
		return []string{fmt.Sprintf("%.4f", s.phase)}
	case "PHA":
		s.phase, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "DUC?":
		return []string{fmt.Sprintf("%.3f", s.duty)}
	case "DUC":
		s.duty, _ = strconv.ParseFloat(f[1], 64)
		return []string{"0"}
	case "MS?":
		return []string{strconv.Itoa(points())}
	case "NF?":
		n := points()
		return []string{strconv.FormatFloat(1/(float64(n)*float64(m.clock[board])/1e6), 'f', -1, 64)}
	case "CLP?":
		clipped := s.offset+math.Abs(s.amp) > VoltMax || s.offset-math.Abs(s.amp) < VoltMin
		return []string{strconv.Itoa(boolInt(clipped))}
	case "CP?":
		return []string{strconv.Itoa(m.clock[board])}
	case "WMEM?":
		return []string{strconv.Itoa(s.wmem)}
	case "WMEM":
		s.wmem, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "WFUN?":
		return []string{strconv.Itoa(s.wfun)}
	case "WFUN":
		s.wfun, _ = strconv.Atoi(f[1])
		return []string{"0"}
	case "LIN?":
		return []string{strconv.Itoa(boolInt(s.lin))}
	case "LIN":
		s.lin = f[1] != "0"
		return []string{"0"}
	case "APPLY":
		m.applySWG(points())
		return []string{"0"}
	}
	return []string{"4"}
}

// applySWG synthesizes the configured waveform into the selected wave
// memory
func (m *Mock) applySWG(points int) {
	s := &m.swg
	wave := make([]float64, points)
	for i := range wave {
		t := float64(i) / float64(points)
		var v float64
		switch s.shape {
		case 0:
			v = math.Sin(2*math.Pi*t + s.phase*math.Pi/180)
		case 1:
			v = 1 - 4*math.Abs(t-0.5)
		case 2:
			v = 2*t - 1
		case 3:
			v = t
		case 4:
			if t < s.duty/100 {
				v = 1
			} else {
				v = 0
			}
		default:
			v = 0
		}
		wave[i] = s.offset + s.amp*v
	}
	m.awgs[s.wmem].wave = wave
}
