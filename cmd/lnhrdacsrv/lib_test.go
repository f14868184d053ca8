package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/rs/zerolog"

	yml "gopkg.in/yaml.v2"
)

func TestConfigRoundTrip(t *testing.T) {
	in := Config{
		Addr: ":9000",
		Mock: true,
		Devices: []DeviceSetup{
			{Addr: "192.168.0.5:23", Endpoint: "fridge1"},
			{Addr: "192.168.0.6:23", Endpoint: "fridge2"},
		},
	}
	fn := filepath.Join(t.TempDir(), "lnhrdacsrv.yml")
	f, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	if err := yml.NewEncoder(f).Encode(in); err != nil {
		t.Fatal(err)
	}
	f.Close()

	k2 := koanf.New(".")
	if err := k2.Load(file.Provider(fn), yaml.Parser()); err != nil {
		t.Fatal(err)
	}
	var out Config
	if err := k2.Unmarshal("", &out); err != nil {
		t.Fatal(err)
	}
	if out.Addr != in.Addr || out.Mock != in.Mock {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if len(out.Devices) != 2 || out.Devices[1].Endpoint != "fridge2" {
		t.Errorf("devices did not survive the round trip: %+v", out.Devices)
	}
}

func TestBuildMuxServesSimulator(t *testing.T) {
	c := Config{
		Addr: ":0",
		Mock: true,
		Devices: []DeviceSetup{
			{Addr: "unused", Endpoint: "dac1"},
		},
	}
	mux, closer := BuildMux(c, zerolog.Nop())
	defer closer()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var graph map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	routes, ok := graph["/dac1/*"]
	if !ok || len(routes) == 0 {
		t.Fatalf("device missing from the route graph: %v", graph)
	}

	body, _ := json.Marshal(map[string]interface{}{"channel": 1, "voltage": 1.25})
	resp2, err := http.Post(srv.URL+"/dac1/output", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("set voltage through the mount: got HTTP %d, want 200", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("/metrics: got HTTP %d, want 200", resp3.StatusCode)
	}
}
