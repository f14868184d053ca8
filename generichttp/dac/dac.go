// Package dac provides a generic HTTP interface to digital to analog
// converter devices
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package dac

import (
	"encoding/csv"
	"encoding/json"
	"go/types"
	"io"
	"net/http"
	"strconv"

	"github.com/nanophys/lnhrdac2/generichttp"
)

// DAC is a model for a simple digital to analog converter
type DAC interface {
	// Output sends a voltage on a given channel
	Output(int, float64) error

	// OutputDN24 sends a 24-bit data number on a given channel
	OutputDN24(int, uint32) error

	// Read returns the voltage registered on a given channel
	Read(int) (float64, error)
}

// HTTPBasicDAC adds routes for basic DAC operation to a table
func HTTPBasicDAC(iface DAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}] = Output(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-dn-24"}] = OutputDN24(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/output"}] = Read(iface)
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

type channelDN struct {
	Channel int `json:"channel"`

	DN uint32 `json:"dn"`
}

// Output returns an HTTP handlerfunc that will write a voltage to a channel
func Output(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelVoltage
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.Output(input.Channel, input.Voltage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// OutputDN24 returns an HTTP handlerfunc that will write a data number to a channel
func OutputDN24(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelDN
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.OutputDN24(input.Channel, input.DN)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Read returns an HTTP handlerfunc that reads the voltage on a channel,
// taken from the "channel" query parameter
func Read(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(r.URL.Query().Get("channel"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v, err := d.Read(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: v}
		hp.EncodeAndRespond(w, r)
	}
}

// MultiChannelDAC allows all channels to be written or read at once
type MultiChannelDAC interface {
	DAC

	// OutputAll writes one voltage to every channel
	OutputAll(float64) error

	// ReadAll returns the registered voltage of every channel
	ReadAll() ([]float64, error)
}

// HTTPMultiChannel adds routes for whole-device output to the table
func HTTPMultiChannel(iface MultiChannelDAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-all"}] = OutputAll(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/output-all"}] = ReadAll(iface)
}

// OutputAll returns an HTTP handlerfunc that writes one voltage to all channels
func OutputAll(d MultiChannelDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.OutputAll(f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// ReadAll returns an HTTP handlerfunc that reads every channel
func ReadAll(d MultiChannelDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vs, err := d.ReadAll()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(vs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// WaveformDAC is a DAC which allows waveform playback
type WaveformDAC interface {
	DAC

	// PopulateWaveform loads a waveform into one playback generator
	PopulateWaveform(int, []float64) error

	// StartWaveform commences playback on one generator
	StartWaveform(int) error

	// StopWaveform ceases playback on one generator
	StopWaveform(int) error
}

// HTTPWaveform adds routes for waveform playback to the table
func HTTPWaveform(iface WaveformDAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/upload/float/csv"}] = UploadWaveformFloatCSV(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/start"}] = StartWaveform(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/stop"}] = StopWaveform(iface)
}

// UploadWaveformFloatCSV is an HTTP interface to multiple
// PopulateWaveform calls from one CSV file.  The first row holds the
// generator indices, one column per generator.
func UploadWaveformFloatCSV(d WaveformDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := csvToWaveformFloat(r.Body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i := 0; i < len(data); i++ {
			err = d.PopulateWaveform(data[i].generator, data[i].waveform)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StartWaveform commences waveform playback
func StartWaveform(d WaveformDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.StartWaveform(i.Int)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StopWaveform ceases waveform playback
func StopWaveform(d WaveformDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.StopWaveform(i.Int)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type channelWaveformVolt struct {
	generator int

	waveform []float64
}

func csvToWaveformFloat(r io.Reader) ([]channelWaveformVolt, error) {
	var out []channelWaveformVolt
	reader := csv.NewReader(r)
	skip := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		if skip {
			skip = false
			// allocate; one column per generator.  Leak to outer scope
			out = make([]channelWaveformVolt, len(record))
			for i := 0; i < len(record); i++ {
				c, err := strconv.Atoi(record[i])
				if err != nil {
					return out, err
				}
				out[i].generator = c
			}
			continue
		}
		for i := 0; i < len(record); i++ {
			f, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return out, err
			}
			out[i].waveform = append(out[i].waveform, f)
		}
	}
	return out, nil
}

// HTTPDAC is a type that allows setting up a DAC satisfying any combination
// of the interfaces in this package to an HTTP interface
type HTTPDAC struct {
	d DAC

	RouteTable generichttp.RouteTable
}

// RT satisfies generichttp.HTTPer
func (h HTTPDAC) RT() generichttp.RouteTable {
	return h.RouteTable
}

// NewHTTPDAC sets up an HTTP interface to a DAC
func NewHTTPDAC(d DAC) HTTPDAC {
	w := HTTPDAC{d: d}
	rt := generichttp.RouteTable{}
	HTTPBasicDAC(d, rt)
	if md, ok := (d).(MultiChannelDAC); ok {
		HTTPMultiChannel(md, rt)
	}
	if wd, ok := (d).(WaveformDAC); ok {
		HTTPWaveform(wd, rt)
	}
	w.RouteTable = rt
	return w
}
