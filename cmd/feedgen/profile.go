package main

import (
	"time"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

// Array parameters for the generated feed. Sized so every sample stays
// inside the default substation validation bounds.
const (
	ratedPowerDC   = 2000.0 // W
	inverterEff    = 0.96
	peakIrradiance = 1000.0 // W/m2
	baseVoltageDC  = 46.0   // V
	voltageSwingDC = 6.0    // V
	baseCellTemp   = 20.0   // degC
	tempSwing      = 25.0   // degC
)

// hourlyShape is the clear-sky production factor per local hour,
// interpolated linearly between entries. A fixed table, not a solar
// model.
var hourlyShape = [24]float64{
	0, 0, 0, 0, 0, 0,
	0.05, 0.15, 0.35, 0.55, 0.75, 0.90,
	1.00, 0.95, 0.85, 0.65, 0.45, 0.25,
	0.10, 0.02, 0, 0, 0, 0,
}

// shapeAt interpolates the production factor for one instant.
func shapeAt(t time.Time) float64 {
	h := t.Hour()
	frac := float64(t.Minute())/60 + float64(t.Second())/3600
	cur := hourlyShape[h]
	next := hourlyShape[(h+1)%24]
	return cur + (next-cur)*frac
}

// readingAt builds the sample for one instant.
func readingAt(t time.Time) telemetry.Reading {
	s := shapeAt(t)
	pdc := ratedPowerDC * s
	vdc := baseVoltageDC + voltageSwingDC*s
	idc := 0.0
	if pdc > 0 {
		idc = pdc / vdc
	}
	return telemetry.Reading{
		PowerAC:    pdc * inverterEff,
		PowerDC:    pdc,
		VoltageDC:  vdc,
		CurrentDC:  idc,
		Irradiance: peakIrradiance * s,
		CellTemp:   baseCellTemp + tempSwing*s,
		Timestamp:  t.Unix(),
	}
}
