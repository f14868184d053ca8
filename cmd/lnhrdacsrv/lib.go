package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nanophys/lnhrdac2/generichttp"
	"github.com/nanophys/lnhrdac2/lnhrdac"
	"github.com/nanophys/lnhrdac2/server/middleware/locker"
	"github.com/nanophys/lnhrdac2/telemetry"
)

// DeviceSetup holds the parameters for one instrument
type DeviceSetup struct {
	// Addr is the network address of the instrument, e.g. 192.168.0.5:23
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL prefix the instrument's routes are served
	// under, e.g. "fridge1" produces /fridge1/output and so on
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`
}

// Config holds the initialization parameters of the server.  It is
// populated from the yaml config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces every instrument with a 24 channel simulator,
	// ignoring the configured addresses
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Devices is the list of instruments to serve
	Devices []DeviceSetup `yaml:"Devices" koanf:"Devices"`
}

// BuildMux connects to every configured instrument and assembles the root
// router.  Each device gets its own subrouter with a lock interface; the
// root serves /endpoints with the route graph and /metrics with
// instrument telemetry.
func BuildMux(c Config, logger zerolog.Logger) (chi.Router, func()) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	reg := prometheus.NewRegistry()
	var closers []func()

	for _, node := range c.Devices {
		// prepare the URL, "lab/dac" => "/lab/dac/*"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		var (
			d   *lnhrdac.DAC
			err error
		)
		if c.Mock {
			mock, err := lnhrdac.NewMock(24)
			if err != nil {
				log.Fatalf("starting simulator for %s: %v", hndlS, err)
			}
			closers = append(closers, func() { mock.Close() })
			d, err = lnhrdac.New(mock.Addr())
			if err != nil {
				log.Fatalf("connecting to simulator for %s: %v", hndlS, err)
			}
		} else {
			d, err = lnhrdac.New(node.Addr)
			if err != nil {
				log.Fatalf("connecting to %s at %s: %v", hndlS, node.Addr, err)
			}
		}
		closers = append(closers, func() { d.Close() })
		d.SetLogger(logger.With().Str("device", hndlS).Logger())

		collector, err := telemetry.NewPromCollector(reg, hndlS)
		if err != nil {
			log.Fatalf("registering telemetry for %s: %v", hndlS, err)
		}
		d.SetCollector(collector)

		httper := lnhrdac.NewHTTPWrapper(d)
		supergraph[hndlS] = httper.RT().Endpoints()

		lock := locker.New()
		locker.Inject(httper, lock)

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		logger.Info().Str("endpoint", hndlS).Str("addr", node.Addr).Msg("instrument mounted")
	}

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	closer := func() {
		for _, f := range closers {
			f()
		}
	}
	return root, closer
}
