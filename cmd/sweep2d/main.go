// Command sweep2d runs a fast adaptive 2D scan on an LNHR DAC II and
// writes the axis voltages to a CSV file for the acquisition side.
package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/theckman/yacspin"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nanophys/lnhrdac2/lnhrdac"
)

var (
	addr     = kingpin.Flag("addr", "telnet address of the instrument.").Default("192.168.0.5:23").String()
	xChan    = kingpin.Flag("x-channel", "output channel of the slow axis (1-12).").Default("1").Int()
	xStart   = kingpin.Flag("x-start", "slow axis starting voltage.").Default("0").Float64()
	xStop    = kingpin.Flag("x-stop", "slow axis ending voltage.").Default("1").Float64()
	xSteps   = kingpin.Flag("x-steps", "number of slow axis increments.").Default("100").Int()
	yChan    = kingpin.Flag("y-channel", "output channel of the fast axis (1-12).").Default("2").Int()
	yStart   = kingpin.Flag("y-start", "fast axis starting voltage.").Default("0").Float64()
	yStop    = kingpin.Flag("y-stop", "fast axis ending voltage.").Default("1").Float64()
	ySteps   = kingpin.Flag("y-steps", "number of fast axis increments.").Default("100").Int()
	delay    = kingpin.Flag("delay", "time each point is held, in seconds.").Default("0.001").Float64()
	shift    = kingpin.Flag("adaptive-shift", "voltage added to the fast axis after each sweep.").Default("0").Float64()
	trigger  = kingpin.Flag("trigger", "trigger mode: disable, line in, line out, point out.").Default("disable").String()
	trigChan = kingpin.Flag("trigger-channel", "output for the point-out trigger (13-24).").Default("13").Int()
	outFile  = kingpin.Flag("out", "CSV file to write the axis voltages to.").Default("sweep2d-axes.csv").String()
	wait     = kingpin.Flag("wait", "block until the scan finishes.").Default("true").Bool()
)

func main() {
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	trig, err := lnhrdac.ParseScanTrigger(*trigger)
	if err != nil {
		log.Fatal(err)
	}
	cfg := lnhrdac.ScanConfig{
		XChannel:         *xChan,
		XStart:           *xStart,
		XStop:            *xStop,
		XSteps:           *xSteps,
		YChannel:         *yChan,
		YStart:           *yStart,
		YStop:            *yStop,
		YSteps:           *ySteps,
		AcquisitionDelay: *delay,
		AdaptiveShift:    *shift,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	d, err := lnhrdac.New(*addr)
	if err != nil {
		log.Fatalf("connecting to %s: %v", *addr, err)
	}
	defer d.Close()

	idn, err := d.Identification()
	if err != nil {
		log.Fatalf("identifying instrument: %v", err)
	}
	fmt.Printf("connected to %s, serial %s\n", idn.Model, idn.Serial)

	scan := d.Scan()
	if err := scan.Configure(cfg); err != nil {
		log.Fatalf("configuring scan: %v", err)
	}
	if trig != lnhrdac.ScanTriggerDisable {
		if err := scan.SetTrigger(trig); err != nil {
			log.Fatalf("configuring trigger: %v", err)
		}
		if trig == lnhrdac.ScanTriggerPointOut {
			if err := scan.SetTriggerChannel(*trigChan); err != nil {
				log.Fatalf("configuring trigger channel: %v", err)
			}
		}
	}

	x, err := scan.XAxis()
	if err != nil {
		log.Fatalf("reading x axis: %v", err)
	}
	y, err := scan.YAxis()
	if err != nil {
		log.Fatalf("reading y axis: %v", err)
	}
	if err := writeAxes(*outFile, x, y); err != nil {
		log.Fatalf("writing %s: %v", *outFile, err)
	}
	fmt.Printf("axis voltages written to %s (%d x %d points)\n", *outFile, len(x), len(y))

	if err := scan.Start(); err != nil {
		log.Fatalf("starting scan: %v", err)
	}
	if !*wait {
		fmt.Println("scan started")
		return
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " scanning",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopMessage:     "scan complete",
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	for {
		time.Sleep(500 * time.Millisecond)
		running, err := scan.Running()
		if err != nil {
			spinner.StopFail()
			log.Fatalf("polling scan: %v", err)
		}
		progress, err := scan.Progress()
		if err != nil {
			spinner.StopFail()
			log.Fatalf("polling progress: %v", err)
		}
		spinner.Message(fmt.Sprintf("%.1f%%", progress*100))
		if !running {
			break
		}
	}
	spinner.Stop()

	if err := scan.Stop(); err != nil {
		log.Fatalf("releasing generators: %v", err)
	}
}

// writeAxes writes the axis voltages as two CSV columns, padding the
// shorter axis with empty cells
func writeAxes(name string, x, y []float64) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"x_volt", "y_volt"}); err != nil {
		return err
	}
	n := len(x)
	if len(y) > n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		rec := []string{"", ""}
		if i < len(x) {
			rec[0] = strconv.FormatFloat(x[i], 'f', 6, 64)
		}
		if i < len(y) {
			rec[1] = strconv.FormatFloat(y[i], 'f', 6, 64)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
