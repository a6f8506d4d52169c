package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

// Value kinds a mapping entry may carry.
const (
	KindFloat     = "float"
	KindTimestamp = "timestamp"
	KindQuality   = "quality"
)

// MappingEntry binds one decoded field to a named object on the
// protection relay. The path is opaque here; the downstream capability
// interprets it.
type MappingEntry struct {
	Field string `yaml:"field"`
	Path  string `yaml:"path"`
	Kind  string `yaml:"type"`
}

// Bounds is the closed plausibility window for one field.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Mapping is the substation translation table: which fields get
// written where, and what values are believable.
type Mapping struct {
	Entries []MappingEntry    `yaml:"mappings"`
	Bounds  map[string]Bounds `yaml:"bounds"`
}

// DefaultMapping mirrors the relay's measurement logical node.
func DefaultMapping() Mapping {
	return Mapping{
		Entries: []MappingEntry{
			{Field: telemetry.FieldPowerAC, Path: "MMXU1$MX$TotW$mag$f", Kind: KindFloat},
			{Field: telemetry.FieldVoltageDC, Path: "MMXU1$MX$PhV$phsA$cVal$mag$f", Kind: KindFloat},
			{Field: telemetry.FieldCurrentDC, Path: "MMXU1$MX$A$phsA$cVal$mag$f", Kind: KindFloat},
		},
		Bounds: DefaultBounds(),
	}
}

// DefaultBounds covers every field the reduced feed decodes.
func DefaultBounds() map[string]Bounds {
	return map[string]Bounds{
		telemetry.FieldPowerAC:    {Min: 0, Max: 10000},
		telemetry.FieldVoltageDC:  {Min: 0, Max: 100},
		telemetry.FieldCurrentDC:  {Min: 0, Max: 50},
		telemetry.FieldIrradiance: {Min: 0, Max: 1500},
	}
}

// LoadMapping reads a mapping file and overlays the defaults: a file
// may redefine the entry list, individual bounds, or both.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping load failed (%s): %w", path, err)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("mapping parse failed (%s): %w", path, err)
	}
	m = m.WithDefaults()
	if err := ValidateMapping(m); err != nil {
		return Mapping{}, fmt.Errorf("mapping invalid (%s): %w", path, err)
	}
	return m, nil
}

// WithDefaults fills an empty entry list, missing entry kinds, and any
// missing bounds.
func (m Mapping) WithDefaults() Mapping {
	if len(m.Entries) == 0 {
		m.Entries = DefaultMapping().Entries
	}
	for i := range m.Entries {
		if strings.TrimSpace(m.Entries[i].Kind) == "" {
			m.Entries[i].Kind = KindFloat
		}
	}
	if m.Bounds == nil {
		m.Bounds = make(map[string]Bounds, 4)
	}
	for field, b := range DefaultBounds() {
		if _, ok := m.Bounds[field]; !ok {
			m.Bounds[field] = b
		}
	}
	return m
}

func ValidateMapping(m Mapping) error {
	for i, entry := range m.Entries {
		if strings.TrimSpace(entry.Path) == "" {
			return fmt.Errorf("mapping[%d] missing path", i)
		}
		switch entry.Kind {
		case KindFloat:
			if !telemetry.KnownField(entry.Field) {
				return fmt.Errorf("mapping[%d] unknown field %q", i, entry.Field)
			}
		case KindTimestamp, KindQuality:
		default:
			return fmt.Errorf("mapping[%d] unknown type %q", i, entry.Kind)
		}
	}
	for field, b := range m.Bounds {
		if !telemetry.KnownField(field) {
			return fmt.Errorf("bounds for unknown field %q", field)
		}
		if b.Min >= b.Max {
			return fmt.Errorf("bounds for %s: min %v not below max %v", field, b.Min, b.Max)
		}
	}
	return nil
}
