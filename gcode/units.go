package gcode

import (
	"fmt"
	"strings"
)

const millimetersPerInch = 25.4

type Units int

const (
	UnitsMillimeters Units = iota
	UnitsInches
)

func (u Units) String() string {
	switch u {
	case UnitsMillimeters:
		return "mm"
	case UnitsInches:
		return "inch"
	}
	return "unknown"
}

// ParseUnits accepts "mm" / "inch" (and their common variants).
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mm", "millimeter", "millimeters", "g21":
		return UnitsMillimeters, nil
	case "inch", "inches", "in", "g20":
		return UnitsInches, nil
	}
	return 0, fmt.Errorf("invalid units: %#v", s)
}

// Command returns the G-code command that selects the units.
func (u Units) Command() string {
	if u == UnitsInches {
		return "G20"
	}
	return "G21"
}

// ScaleTo returns the factor that converts a value in u to a value in to.
func (u Units) ScaleTo(to Units) float64 {
	if u == to {
		return 1
	}
	if u == UnitsMillimeters {
		return 1 / millimetersPerInch
	}
	return millimetersPerInch
}

func (u Units) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Units) UnmarshalText(text []byte) error {
	units, err := ParseUnits(string(text))
	if err != nil {
		return err
	}
	*u = units
	return nil
}
