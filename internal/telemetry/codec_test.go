package telemetry

import (
	"errors"
	"math"
	"testing"
)

func TestFullBlockRoundTrip(t *testing.T) {
	in := Reading{
		PowerAC:    1200,
		PowerDC:    1150,
		VoltageDC:  24.0,
		CurrentDC:  5.0,
		Irradiance: 850,
		CellTemp:   30.0,
		Timestamp:  1700000000,
	}
	regs := EncodeFull(in)
	want := []uint16{1200, 1150, 240, 500, 850, 300, 25939, 61696}
	if len(regs) != len(want) {
		t.Fatalf("encoded length: got %d, want %d", len(regs), len(want))
	}
	for i := range want {
		if regs[i] != want[i] {
			t.Fatalf("register %d: got %d, want %d", i, regs[i], want[i])
		}
	}
	out, err := DecodeFull(regs)
	if err != nil {
		t.Fatalf("decode full: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
	}
}

func TestDecodeReducedVector(t *testing.T) {
	out, err := DecodeReduced([]uint16{800, 205, 120, 600, 999})
	if err != nil {
		t.Fatalf("decode reduced: %v", err)
	}
	if out.PowerAC != 800 || out.VoltageDC != 20.5 || out.CurrentDC != 1.2 || out.Irradiance != 600 {
		t.Fatalf("decoded fields: %+v", out)
	}
	if out.Timestamp != 999 {
		t.Fatalf("partial timestamp: got %d, want 999", out.Timestamp)
	}
}

func TestSplitJoinTimestamp(t *testing.T) {
	for _, x := range []uint32{0, 1, 65535, 65536, 1700000000, math.MaxUint32} {
		hi, lo := SplitTimestamp(int64(x))
		if got := JoinTimestamp(hi, lo); got != int64(x) {
			t.Fatalf("reassemble(split(%d)) = %d", x, got)
		}
	}
}

func TestVoltageEncodingStep(t *testing.T) {
	for _, v := range []float64{0, 0.05, 1.23, 20.5, 48.0, 99.99, 6553.5} {
		regs := EncodeFull(Reading{VoltageDC: v})
		out, err := DecodeFull(regs)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if math.Abs(out.VoltageDC-v) > 0.1 {
			t.Fatalf("V_dc %v decoded to %v, off by more than one step", v, out.VoltageDC)
		}
	}
}

func TestClampU16(t *testing.T) {
	cases := []struct {
		in   float64
		want uint16
	}{
		{-5, 0},
		{0, 0},
		{12.4, 12},
		{12.5, 13},
		{65535, 65535},
		{70000, 65535},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := ClampU16(c.in); got != c.want {
			t.Fatalf("ClampU16(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDecodeWrongLength(t *testing.T) {
	if _, err := DecodeFull([]uint16{1, 2, 3}); !errors.Is(err, ErrBlockLen) {
		t.Fatalf("expected ErrBlockLen, got %v", err)
	}
	if _, err := DecodeReduced(make([]uint16, 8)); !errors.Is(err, ErrBlockLen) {
		t.Fatalf("expected ErrBlockLen, got %v", err)
	}
}

func TestReadingField(t *testing.T) {
	r := Reading{PowerAC: 800, VoltageDC: 20.5, CurrentDC: 1.2, Irradiance: 600}
	if v, ok := r.Field(FieldVoltageDC); !ok || v != 20.5 {
		t.Fatalf("Field(V_dc) = %v, %v", v, ok)
	}
	if _, ok := r.Field("frequency"); ok {
		t.Fatalf("unknown field should not resolve")
	}
}
