package telemetry

import "time"

// Logical field names shared by the translation mapping and the
// validation bounds tables.
const (
	FieldPowerAC    = "P_ac"
	FieldPowerDC    = "P_dc"
	FieldVoltageDC  = "V_dc"
	FieldCurrentDC  = "I_dc"
	FieldIrradiance = "G"
	FieldCellTemp   = "T_cell"
)

// Reading is one decoded production sample.
type Reading struct {
	PowerAC    float64 // W
	PowerDC    float64 // W
	VoltageDC  float64 // V
	CurrentDC  float64 // A
	Irradiance float64 // W/m2
	CellTemp   float64 // degC
	Timestamp  int64   // unix seconds from the source clock
}

// KnownField reports whether name is one of the logical field names.
func KnownField(name string) bool {
	_, ok := Reading{}.Field(name)
	return ok
}

// Field returns the physical value for a logical field name.
func (r Reading) Field(name string) (float64, bool) {
	switch name {
	case FieldPowerAC:
		return r.PowerAC, true
	case FieldPowerDC:
		return r.PowerDC, true
	case FieldVoltageDC:
		return r.VoltageDC, true
	case FieldCurrentDC:
		return r.CurrentDC, true
	case FieldIrradiance:
		return r.Irradiance, true
	case FieldCellTemp:
		return r.CellTemp, true
	}
	return 0, false
}

// Record is one buffered telemetry sample: the raw watched-range
// snapshot plus its two clocks.
type Record struct {
	Registers       []uint16
	SourceTimestamp time.Time
	ReceivedAt      time.Time
}
