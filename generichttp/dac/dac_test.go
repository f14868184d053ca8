package dac_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nanophys/lnhrdac2/generichttp"
	"github.com/nanophys/lnhrdac2/generichttp/dac"
)

// fakeDAC records the last operation performed on it
type fakeDAC struct {
	volts map[int]float64

	waveforms map[int][]float64

	running map[int]bool
}

func newFakeDAC() *fakeDAC {
	return &fakeDAC{
		volts:     map[int]float64{},
		waveforms: map[int][]float64{},
		running:   map[int]bool{},
	}
}

func (f *fakeDAC) Output(ch int, v float64) error { f.volts[ch] = v; return nil }

func (f *fakeDAC) OutputDN24(ch int, dn uint32) error {
	f.volts[ch] = float64(dn)
	return nil
}

func (f *fakeDAC) Read(ch int) (float64, error) { return f.volts[ch], nil }

func (f *fakeDAC) OutputAll(v float64) error {
	for ch := 0; ch < 12; ch++ {
		f.volts[ch] = v
	}
	return nil
}

func (f *fakeDAC) ReadAll() ([]float64, error) {
	out := make([]float64, 12)
	for ch := 0; ch < 12; ch++ {
		out[ch] = f.volts[ch]
	}
	return out, nil
}

func (f *fakeDAC) PopulateWaveform(gen int, data []float64) error {
	f.waveforms[gen] = data
	return nil
}

func (f *fakeDAC) StartWaveform(gen int) error { f.running[gen] = true; return nil }

func (f *fakeDAC) StopWaveform(gen int) error { f.running[gen] = false; return nil }

func setup(t *testing.T) (*fakeDAC, chi.Router) {
	t.Helper()
	f := newFakeDAC()
	httper := dac.NewHTTPDAC(f)
	r := chi.NewRouter()
	httper.RT().Bind(r)
	return f, r
}

func TestOutputRoute(t *testing.T) {
	f, r := setup(t)
	body := bytes.NewBufferString(`{"channel": 3, "voltage": 1.5}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/output", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	if f.volts[3] != 1.5 {
		t.Errorf("channel 3 at %v, expected 1.5", f.volts[3])
	}
}

func TestReadRoute(t *testing.T) {
	f, r := setup(t)
	f.volts[5] = -2.25
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/output?channel=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	var resp generichttp.FloatT
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal("decode:", err)
	}
	if resp.F64 != -2.25 {
		t.Errorf("read %v, expected -2.25", resp.F64)
	}
}

func TestOutputAllRoute(t *testing.T) {
	f, r := setup(t)
	body := bytes.NewBufferString(`{"f64": 0.5}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/output-all", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	for ch := 0; ch < 12; ch++ {
		if f.volts[ch] != 0.5 {
			t.Fatalf("channel %d at %v, expected 0.5", ch, f.volts[ch])
		}
	}
}

func TestWaveformUploadCSV(t *testing.T) {
	f, r := setup(t)
	body := bytes.NewBufferString("0,1\n0.1,0.2\n0.3,0.4\n")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/playback/upload/float/csv", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200: %s", w.Code, w.Body.String())
	}
	want0 := []float64{0.1, 0.3}
	got0 := f.waveforms[0]
	if len(got0) != len(want0) || got0[0] != want0[0] || got0[1] != want0[1] {
		t.Errorf("generator 0 waveform %v, expected %v", got0, want0)
	}
}

func TestWaveformStartStop(t *testing.T) {
	f, r := setup(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/playback/start", bytes.NewBufferString(`{"int": 1}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("start status %d, expected 200", w.Code)
	}
	if !f.running[1] {
		t.Error("generator 1 not running after start")
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/playback/stop", bytes.NewBufferString(`{"int": 1}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("stop status %d, expected 200", w.Code)
	}
	if f.running[1] {
		t.Error("generator 1 still running after stop")
	}
}
