package lnhrdac

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// device constants from the SP1060 programmer's manual
const (
	// VoltMin and VoltMax bound the output range of every channel
	VoltMin = -10.0
	VoltMax = 10.0

	// codesPerVolt converts between volts and 24-bit DAC codes
	codesPerVolt = 838860.74

	// codeMax is the largest representable DAC code (0xFFFFFF)
	codeMax = 1<<24 - 1

	// WaveMemSize is the number of points in each wave/AWG memory
	WaveMemSize = 34000

	// blockSize is the number of values returned by a block query
	blockSize = 1000
)

// VoltToCode converts a voltage to the 24-bit code used on the wire.
// An error is returned if v lies outside the output range.
func VoltToCode(v float64) (uint32, error) {
	if v < VoltMin || v > VoltMax {
		return 0, fmt.Errorf("voltage %v V outside [%v, %v]", v, VoltMin, VoltMax)
	}
	code := math.Round((v - VoltMin) * codesPerVolt)
	if code < 0 {
		code = 0
	}
	if code > codeMax {
		code = codeMax
	}
	return uint32(code), nil
}

// CodeToVolt converts a 24-bit DAC code to volts
func CodeToVolt(code uint32) float64 {
	return float64(code)/codesPerVolt + VoltMin
}

func parseCode(s string) (uint32, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing DAC code %q: %w", s, err)
	}
	if u > codeMax {
		return 0, fmt.Errorf("DAC code %x exceeds 24 bits", u)
	}
	return uint32(u), nil
}

// splitList splits a semicolon separated device reply into its fields
func splitList(s string) []string {
	parts := strings.Split(strings.TrimSpace(s), ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
