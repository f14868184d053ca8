package lnhrdac

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/nanophys/lnhrdac2/generichttp"
	"github.com/nanophys/lnhrdac2/generichttp/ascii"
	"github.com/nanophys/lnhrdac2/generichttp/dac"
)

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Output implements generichttp/dac.DAC
func (d *DAC) Output(channel int, voltage float64) error {
	return d.SetVoltage(channel, voltage)
}

// OutputDN24 implements generichttp/dac.DAC
func (d *DAC) OutputDN24(channel int, dn uint32) error {
	return d.SetCode(channel, dn)
}

// Read implements generichttp/dac.DAC
func (d *DAC) Read(channel int) (float64, error) {
	return d.Voltage(channel)
}

// OutputAll implements generichttp/dac.MultiChannelDAC
func (d *DAC) OutputAll(voltage float64) error {
	return d.SetAllVoltages(voltage)
}

// ReadAll implements generichttp/dac.MultiChannelDAC
func (d *DAC) ReadAll() ([]float64, error) {
	return d.AllVoltages()
}

// PopulateWaveform implements generichttp/dac.WaveformDAC; the generator
// index selects AWG A through D
func (d *DAC) PopulateWaveform(generator int, data []float64) error {
	s, err := slotFromIndex(generator)
	if err != nil {
		return err
	}
	return d.AWG(s).SetWaveform(data)
}

// StartWaveform implements generichttp/dac.WaveformDAC
func (d *DAC) StartWaveform(generator int) error {
	s, err := slotFromIndex(generator)
	if err != nil {
		return err
	}
	return d.AWG(s).Start()
}

// StopWaveform implements generichttp/dac.WaveformDAC
func (d *DAC) StopWaveform(generator int) error {
	s, err := slotFromIndex(generator)
	if err != nil {
		return err
	}
	return d.AWG(s).Stop()
}

func slotFromIndex(i int) (Slot, error) {
	if i < 0 || i > int(SlotD) {
		return 0, strconv.ErrRange
	}
	return Slot(i), nil
}

// HTTPWrapper exposes a DAC over HTTP.  It layers the instrument's
// generator, waveform synthesis and 2D scan features on top of the
// generic DAC routes.
type HTTPWrapper struct {
	// Sensor is the underlying device
	Sensor *DAC

	// RouteTable maps methods and paths to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a newly initialized wrapper with all routes
// populated
func NewHTTPWrapper(d *DAC) HTTPWrapper {
	w := HTTPWrapper{Sensor: d}
	rt := dac.NewHTTPDAC(d).RT()

	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/idn"}] = w.IDN
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/health"}] = generichttp.GetString(d.Health)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/ip"}] = generichttp.GetString(d.IP)

	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/enable"}] = w.GetEnabled
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/enable"}] = w.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/bandwidth"}] = w.GetBandwidth
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/bandwidth"}] = w.SetBandwidth
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/mode"}] = w.GetMode
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/sync"}] = w.Sync

	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/channel"}] = w.awgGetInt((*AWG).Channel)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/channel"}] = w.awgSetInt((*AWG).SetChannel)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/cycles"}] = w.awgGetInt((*AWG).Cycles)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/cycles"}] = w.awgSetInt((*AWG).SetCycles)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/trigger"}] = w.GetAWGTrigger
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/trigger"}] = w.SetAWGTrigger
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/clock-period"}] = w.GetAWGClockPeriod
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/clock-period"}] = w.SetAWGClockPeriod
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/running"}] = w.GetAWGRunning
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/waveform"}] = w.GetAWGWaveform
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/waveform"}] = w.SetAWGWaveform
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/awg/polynomial"}] = w.GetAWGPolynomial
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/awg/polynomial"}] = w.SetAWGPolynomial

	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/swg/config"}] = w.SetSWGConfig
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/swg/apply"}] = w.ApplySWG
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/swg/nearest-frequency"}] = generichttp.GetFloat(d.SWG().NearestFrequency)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/swg/clipped"}] = generichttp.GetBool(d.SWG().Clipped)

	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/config"}] = w.SetScanConfig
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/trigger"}] = w.SetScanTrigger
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/trigger-channel"}] = generichttp.GetInt(d.Scan().TriggerChannel)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/trigger-channel"}] = generichttp.SetInt(d.Scan().SetTriggerChannel)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/x-axis"}] = w.GetScanXAxis
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/y-axis"}] = w.GetScanYAxis
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/start"}] = w.StartScan
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/stop"}] = w.StopScan
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/running"}] = generichttp.GetBool(d.Scan().Running)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/progress"}] = generichttp.GetFloat(d.Scan().Progress)

	w.RouteTable = rt
	ascii.InjectRawComm(&w, d.Proto())
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// IDN returns the vendor/model/serial/firmware tuple as JSON
func (h HTTPWrapper) IDN(w http.ResponseWriter, r *http.Request) {
	idn, err := h.Sensor.Identification()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(idn)
}

func channelFromQuery(r *http.Request) (int, bool, error) {
	q := r.URL.Query().Get("channel")
	if q == "" {
		return 0, false, nil
	}
	ch, err := strconv.Atoi(q)
	return ch, true, err
}

// GetEnabled reads whether a channel's output is on; without a channel
// query parameter it returns every channel as a JSON array
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	ch, single, err := channelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if single {
		on, err := h.Sensor.Enabled(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: on}
		hp.EncodeAndRespond(w, r)
		return
	}
	all, err := h.Sensor.AllEnabled()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(all)
}

// SetEnabled turns a channel's output on or off; without a channel query
// parameter it applies to every channel
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	ch, single, err := channelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var b generichttp.BoolT
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if single {
		err = h.Sensor.SetEnabled(ch, b.Bool)
	} else {
		err = h.Sensor.SetAllEnabled(b.Bool)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBandwidth reads a channel's bandwidth setting, "HBW" or "LBW"
func (h HTTPWrapper) GetBandwidth(w http.ResponseWriter, r *http.Request) {
	ch, single, err := channelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if single {
		bw, err := h.Sensor.GetBandwidth(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.String, String: string(bw)}
		hp.EncodeAndRespond(w, r)
		return
	}
	all, err := h.Sensor.AllBandwidths()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(all)
}

// SetBandwidth sets a channel's bandwidth, "HBW" or "LBW"; without a
// channel query parameter it applies to every channel
func (h HTTPWrapper) SetBandwidth(w http.ResponseWriter, r *http.Request) {
	ch, single, err := channelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var s generichttp.StrT
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bw := Bandwidth(s.Str)
	if bw != BandwidthLow && bw != BandwidthHigh {
		http.Error(w, "bandwidth must be HBW or LBW", http.StatusBadRequest)
		return
	}
	if single {
		err = h.Sensor.SetBandwidth(ch, bw)
	} else {
		err = h.Sensor.SetAllBandwidths(bw)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetMode reads what is driving a channel, e.g. "DAC", "SYN", "RMP",
// "AWG" or "---"
func (h HTTPWrapper) GetMode(w http.ResponseWriter, r *http.Request) {
	ch, single, err := channelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if single {
		m, err := h.Sensor.Mode(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.String, String: string(m)}
		hp.EncodeAndRespond(w, r)
		return
	}
	all, err := h.Sensor.AllModes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(all)
}

// Sync updates all channels held back by synchronous update mode
func (h HTTPWrapper) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.Sensor.SyncAll(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func slotFromQuery(r *http.Request) (Slot, error) {
	q := r.URL.Query().Get("slot")
	if q == "" {
		return SlotA, nil
	}
	return ParseSlot(q)
}

func (h HTTPWrapper) awgGetInt(f func(*AWG) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := slotFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.GetInt(func() (int, error) { return f(h.Sensor.AWG(s)) })(w, r)
	}
}

func (h HTTPWrapper) awgSetInt(f func(*AWG, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := slotFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.SetInt(func(i int) error { return f(h.Sensor.AWG(s), i) })(w, r)
	}
}

// GetAWGTrigger reads an AWG's trigger mode as an integer
func (h HTTPWrapper) GetAWGTrigger(w http.ResponseWriter, r *http.Request) {
	h.awgGetInt(func(a *AWG) (int, error) {
		m, err := a.Trigger()
		return int(m), err
	})(w, r)
}

// SetAWGTrigger sets an AWG's trigger mode from an integer
func (h HTTPWrapper) SetAWGTrigger(w http.ResponseWriter, r *http.Request) {
	h.awgSetInt(func(a *AWG, i int) error {
		return a.SetTrigger(TriggerMode(i))
	})(w, r)
}

// GetAWGClockPeriod reads an AWG board's sampling period in seconds
func (h HTTPWrapper) GetAWGClockPeriod(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.GetFloat(func() (float64, error) {
		p, err := h.Sensor.AWG(s).ClockPeriod()
		return p.Seconds(), err
	})(w, r)
}

// SetAWGClockPeriod sets an AWG board's sampling period in seconds
func (h HTTPWrapper) SetAWGClockPeriod(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.SetFloat(func(f float64) error {
		return h.Sensor.AWG(s).SetClockPeriod(secondsToDuration(f))
	})(w, r)
}

// GetAWGRunning reads whether an AWG is playing
func (h HTTPWrapper) GetAWGRunning(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.GetBool(h.Sensor.AWG(s).Running)(w, r)
}

// GetAWGWaveform reads an AWG's wave memory as a JSON array of volts
func (h HTTPWrapper) GetAWGWaveform(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wf, err := h.Sensor.AWG(s).Waveform()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

// SetAWGWaveform writes an AWG's wave memory from a JSON array of volts
// and copies it into the AWG memory
func (h HTTPWrapper) SetAWGWaveform(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var wf []float64
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.AWG(s).SetWaveform(wf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAWGPolynomial reads an AWG's correction polynomial coefficients
func (h HTTPWrapper) GetAWGPolynomial(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	coeffs, err := h.Sensor.AWG(s).Polynomial()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(coeffs)
}

// SetAWGPolynomial writes an AWG's correction polynomial coefficients,
// constant term first
func (h HTTPWrapper) SetAWGPolynomial(w http.ResponseWriter, r *http.Request) {
	s, err := slotFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var coeffs []float64
	if err := json.NewDecoder(r.Body).Decode(&coeffs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.AWG(s).SetPolynomial(coeffs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetSWGConfig programs the standard waveform generator from a JSON
// SWGConfig body
func (h HTTPWrapper) SetSWGConfig(w http.ResponseWriter, r *http.Request) {
	var cfg SWGConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.SWG().Configure(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ApplySWG synthesizes the configured waveform into a slot named in a
// string body, e.g. {"str": "a"}
func (h HTTPWrapper) ApplySWG(w http.ResponseWriter, r *http.Request) {
	var s generichttp.StrT
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slot, err := ParseSlot(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.SWG().Apply(slot); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetScanConfig programs a 2D scan from a JSON ScanConfig body
func (h HTTPWrapper) SetScanConfig(w http.ResponseWriter, r *http.Request) {
	var cfg ScanConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.Scan().Configure(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetScanTrigger selects the scan trigger mode from a string body, e.g.
// {"str": "line out"}
func (h HTTPWrapper) SetScanTrigger(w http.ResponseWriter, r *http.Request) {
	var s generichttp.StrT
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := ParseScanTrigger(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Sensor.Scan().SetTrigger(mode); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetScanXAxis returns the slow-axis voltages as a JSON array
func (h HTTPWrapper) GetScanXAxis(w http.ResponseWriter, r *http.Request) {
	axis, err := h.Sensor.Scan().XAxis()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(axis)
}

// GetScanYAxis returns the fast-axis voltages as a JSON array
func (h HTTPWrapper) GetScanYAxis(w http.ResponseWriter, r *http.Request) {
	axis, err := h.Sensor.Scan().YAxis()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(axis)
}

// StartScan launches the configured scan
func (h HTTPWrapper) StartScan(w http.ResponseWriter, r *http.Request) {
	if err := h.Sensor.Scan().Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopScan halts the scan and releases the repurposed generators
func (h HTTPWrapper) StopScan(w http.ResponseWriter, r *http.Request) {
	if err := h.Sensor.Scan().Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
