package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/rs/zerolog"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "lnhrdacsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:    ":8000",
		Devices: []DeviceSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `lnhrdacsrv communicates with Basel Precision Instruments LNHR DAC II
devices and exposes an HTTP interface to them.  This enables a
server-client architecture, and the clients can leverage the excellent
HTTP libraries for any programming language.

Usage:
	lnhrdacsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `lnhrdacsrv is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

Without a configuration, the server will close immediately and display an
error that there are no devices.

Each device entry names the instrument's telnet address and the URL prefix
its routes are served under.  No two devices can share an endpoint.

Example configuration:

Addr: :8000
Mock: false
Devices:
- Addr: 192.168.0.5:23
  Endpoint: fridge1
- Addr: 192.168.0.6:23
  Endpoint: fridge2

With Mock: true the server replaces every instrument with a 24 channel
simulator, which is useful for developing clients without hardware.

Each device serves the generic DAC routes (/output, /output-all,
/playback/...) plus the instrument's waveform generators (/awg/...,
/swg/...) and the fast adaptive 2D scan (/scan/...).  GET /endpoints on
the root lists every route; GET /metrics serves telemetry.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("lnhrdacsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if len(c.Devices) == 0 {
		log.Fatal("no devices configured; run mkconf and edit the config file")
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	mux, closer := BuildMux(c, logger)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGABRT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		closer()
		os.Exit(0)
	}()

	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
