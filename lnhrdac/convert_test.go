package lnhrdac

import (
	"math"
	"testing"
)

func TestVoltToCodeAnchors(t *testing.T) {
	cases := []struct {
		volt float64
		code uint32
	}{
		{-10, 0x0},
		{10, 0xFFFFFF},
	}
	for _, c := range cases {
		got, err := VoltToCode(c.volt)
		if err != nil {
			t.Fatalf("VoltToCode(%v) errored: %v", c.volt, err)
		}
		if got != c.code {
			t.Errorf("VoltToCode(%v) = %#x, want %#x", c.volt, got, c.code)
		}
	}
}

func TestVoltCodeRoundTrip(t *testing.T) {
	for _, v := range []float64{-10, -1.234567, 0, 0.5, 9.999999, 10} {
		code, err := VoltToCode(v)
		if err != nil {
			t.Fatalf("VoltToCode(%v) errored: %v", v, err)
		}
		got := CodeToVolt(code)
		if math.Abs(got-v) > 2e-6 {
			t.Errorf("round trip of %v V came back as %v V", v, got)
		}
	}
}

func TestVoltToCodeOutOfRange(t *testing.T) {
	for _, v := range []float64{-10.001, 10.001, 100} {
		if _, err := VoltToCode(v); err == nil {
			t.Errorf("VoltToCode(%v) did not error", v)
		}
	}
}

func TestParseCode(t *testing.T) {
	code, err := parseCode("ffffff")
	if err != nil {
		t.Fatalf("parseCode errored: %v", err)
	}
	if code != 0xFFFFFF {
		t.Errorf("parseCode = %#x, want 0xFFFFFF", code)
	}
	if _, err := parseCode("1000000"); err == nil {
		t.Error("parseCode accepted a 25-bit value")
	}
	if _, err := parseCode("zz"); err == nil {
		t.Error("parseCode accepted non-hex input")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList("1; 2;3 ;")
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("splitList returned %d fields, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}
