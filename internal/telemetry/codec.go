package telemetry

import (
	"errors"
	"fmt"
	"math"
)

// Register block lengths. The full block is what the sensor tier
// writes; the reduced block is what the field controller relays to
// the substation tier.
const (
	FullBlockLen    = 8
	ReducedBlockLen = 5
)

// Fixed-point scale factors.
const (
	ScaleVoltage = 10
	ScaleCurrent = 100
	ScaleTemp    = 10
)

var ErrBlockLen = errors.New("telemetry: unexpected register count")

// ClampU16 rounds to the nearest integer and clamps into [0, 65535].
func ClampU16(v float64) uint16 {
	r := math.Round(v)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 65535 {
		return 65535
	}
	return uint16(r)
}

// SplitTimestamp splits unix seconds into two registers, high word first.
func SplitTimestamp(ts int64) (hi, lo uint16) {
	v := uint32(ts)
	return uint16(v >> 16), uint16(v & 0xFFFF)
}

// JoinTimestamp reassembles unix seconds from a SplitTimestamp pair.
func JoinTimestamp(hi, lo uint16) int64 {
	return int64(uint32(hi)<<16 | uint32(lo))
}

// EncodeFull packs a reading into the 8-register block.
func EncodeFull(r Reading) []uint16 {
	hi, lo := SplitTimestamp(r.Timestamp)
	return []uint16{
		ClampU16(r.PowerAC),
		ClampU16(r.PowerDC),
		ClampU16(r.VoltageDC * ScaleVoltage),
		ClampU16(r.CurrentDC * ScaleCurrent),
		ClampU16(r.Irradiance),
		ClampU16(r.CellTemp * ScaleTemp),
		hi,
		lo,
	}
}

// Decode picks the block layout by register count.
func Decode(regs []uint16) (Reading, error) {
	switch len(regs) {
	case FullBlockLen:
		return DecodeFull(regs)
	case ReducedBlockLen:
		return DecodeReduced(regs)
	}
	return Reading{}, fmt.Errorf("%w: got %d", ErrBlockLen, len(regs))
}

// DecodeFull unpacks the 8-register block.
func DecodeFull(regs []uint16) (Reading, error) {
	if len(regs) != FullBlockLen {
		return Reading{}, fmt.Errorf("%w: got %d, want %d", ErrBlockLen, len(regs), FullBlockLen)
	}
	return Reading{
		PowerAC:    float64(regs[0]),
		PowerDC:    float64(regs[1]),
		VoltageDC:  float64(regs[2]) / ScaleVoltage,
		CurrentDC:  float64(regs[3]) / ScaleCurrent,
		Irradiance: float64(regs[4]),
		CellTemp:   float64(regs[5]) / ScaleTemp,
		Timestamp:  JoinTimestamp(regs[6], regs[7]),
	}, nil
}

// EncodeReduced packs a reading into the 5-register block. Only the
// low timestamp word survives.
func EncodeReduced(r Reading) []uint16 {
	_, lo := SplitTimestamp(r.Timestamp)
	return []uint16{
		ClampU16(r.PowerAC),
		ClampU16(r.VoltageDC * ScaleVoltage),
		ClampU16(r.CurrentDC * ScaleCurrent),
		ClampU16(r.Irradiance),
		lo,
	}
}

// DecodeReduced unpacks the 5-register block. The timestamp is the low
// 16 bits only, not a usable wall-clock instant.
func DecodeReduced(regs []uint16) (Reading, error) {
	if len(regs) != ReducedBlockLen {
		return Reading{}, fmt.Errorf("%w: got %d, want %d", ErrBlockLen, len(regs), ReducedBlockLen)
	}
	return Reading{
		PowerAC:    float64(regs[0]),
		VoltageDC:  float64(regs[1]) / ScaleVoltage,
		CurrentDC:  float64(regs[2]) / ScaleCurrent,
		Irradiance: float64(regs[3]),
		Timestamp:  int64(regs[4]),
	}, nil
}
