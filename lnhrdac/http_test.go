package lnhrdac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
)

func newTestServer(t *testing.T) (*httptest.Server, *DAC) {
	t.Helper()
	d, _ := newTestDAC(t, 24)
	w := NewHTTPWrapper(d)
	r := chi.NewRouter()
	w.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, d
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHTTPOutputAndRead(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/output", map[string]interface{}{
		"channel": 1,
		"voltage": 2.0,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /output returned %d", resp.StatusCode)
	}
	resp2, err := http.Get(srv.URL + "/output?channel=1")
	if err != nil {
		t.Fatalf("GET /output: %v", err)
	}
	defer resp2.Body.Close()
	var out struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if math.Abs(out.F64-2.0) > 2e-6 {
		t.Errorf("read %v V, want 2.0", out.F64)
	}
}

func TestHTTPOutputBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/output", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("POST /output: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body returned %d, want 400", resp.StatusCode)
	}
}

func TestHTTPIDN(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/idn")
	if err != nil {
		t.Fatalf("GET /idn: %v", err)
	}
	defer resp.Body.Close()
	var idn IDN
	if err := json.NewDecoder(resp.Body).Decode(&idn); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if idn.Serial != "LNHRDAC2-00042" {
		t.Errorf("serial %q, want LNHRDAC2-00042", idn.Serial)
	}
}

func TestHTTPEnable(t *testing.T) {
	srv, d := newTestServer(t)
	resp := postJSON(t, srv.URL+"/enable?channel=4", map[string]bool{"bool": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /enable returned %d", resp.StatusCode)
	}
	on, err := d.Enabled(4)
	if err != nil {
		t.Fatalf("Enabled errored: %v", err)
	}
	if !on {
		t.Error("channel 4 not enabled after POST /enable")
	}
	resp2, err := http.Get(srv.URL + "/enable?channel=4")
	if err != nil {
		t.Fatalf("GET /enable: %v", err)
	}
	defer resp2.Body.Close()
	var out struct {
		Bool bool `json:"bool"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !out.Bool {
		t.Error("GET /enable reported false")
	}
}

func TestHTTPWaveformUploadStartStop(t *testing.T) {
	srv, d := newTestServer(t)
	resp := postJSON(t, srv.URL+"/awg/waveform?slot=b", []float64{0, 0.5, 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /awg/waveform returned %d", resp.StatusCode)
	}
	wf, err := d.AWG(SlotB).Waveform()
	if err != nil {
		t.Fatalf("Waveform errored: %v", err)
	}
	if len(wf) != 3 {
		t.Errorf("wave memory holds %d points, want 3", len(wf))
	}
	resp = postJSON(t, srv.URL+"/playback/start", map[string]int{"int": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /playback/start returned %d", resp.StatusCode)
	}
	running, err := d.AWG(SlotB).Running()
	if err != nil {
		t.Fatalf("Running errored: %v", err)
	}
	if !running {
		t.Error("AWG B not running after POST /playback/start")
	}
	resp = postJSON(t, srv.URL+"/playback/stop", map[string]int{"int": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /playback/stop returned %d", resp.StatusCode)
	}
}

func TestHTTPSWGConfigureAndApply(t *testing.T) {
	srv, d := newTestServer(t)
	resp := postJSON(t, srv.URL+"/swg/config", SWGConfig{
		Shape:     ShapeSine,
		Frequency: 1000,
		Amplitude: 1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /swg/config returned %d", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/swg/apply", map[string]string{"str": "b"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /swg/apply returned %d", resp.StatusCode)
	}
	size, err := d.AWG(SlotB).MemorySize()
	if err != nil {
		t.Fatalf("MemorySize errored: %v", err)
	}
	if size != 100 {
		t.Errorf("AWG memory holds %d points, want 100", size)
	}
}

func TestHTTPScanLifecycle(t *testing.T) {
	srv, d := newTestServer(t)
	resp := postJSON(t, srv.URL+"/scan/config", testScanConfig())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /scan/config returned %d", resp.StatusCode)
	}
	resp2, err := http.Get(srv.URL + "/scan/x-axis")
	if err != nil {
		t.Fatalf("GET /scan/x-axis: %v", err)
	}
	defer resp2.Body.Close()
	var axis []float64
	if err := json.NewDecoder(resp2.Body).Decode(&axis); err != nil {
		t.Fatalf("decoding axis: %v", err)
	}
	if len(axis) != 11 {
		t.Errorf("x axis has %d points, want 11", len(axis))
	}
	resp = postJSON(t, srv.URL+"/scan/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /scan/start returned %d", resp.StatusCode)
	}
	running, err := d.Scan().Running()
	if err != nil {
		t.Fatalf("Running errored: %v", err)
	}
	if !running {
		t.Error("scan not running after POST /scan/start")
	}
	resp = postJSON(t, srv.URL+"/scan/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /scan/stop returned %d", resp.StatusCode)
	}
}

func TestHTTPScanConfigRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	cfg := testScanConfig()
	cfg.XSteps = 5
	resp := postJSON(t, srv.URL+"/scan/config", cfg)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid scan config returned %d, want 400", resp.StatusCode)
	}
}

func TestHTTPRawPassthrough(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/raw", map[string]string{"str": "1 v?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /raw returned %d", resp.StatusCode)
	}
	var out struct {
		Str string `json:"str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Str == "" {
		t.Error("raw query returned an empty reply")
	}
}

func TestHTTPEndpointsListed(t *testing.T) {
	_, d := newTestServer(t)
	w := NewHTTPWrapper(d)
	eps := w.RT().Endpoints()
	for _, want := range []string{"GET /output", "POST /scan/config", "POST /raw"} {
		found := false
		for _, ep := range eps {
			if ep == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("endpoint %q missing from %s", want, fmt.Sprint(eps))
		}
	}
}
