package marlin

import (
	"github.com/fornellas/mgs/gcode"
)

// Coordinates is a XYZ position tagged with its units.
type Coordinates struct {
	X     float64     `json:"x" cbor:"x"`
	Y     float64     `json:"y" cbor:"y"`
	Z     float64     `json:"z" cbor:"z"`
	Units gcode.Units `json:"units" cbor:"units"`
}

// In returns the coordinates converted to units.
func (c Coordinates) In(units gcode.Units) Coordinates {
	scale := c.Units.ScaleTo(units)
	return Coordinates{
		X:     c.X * scale,
		Y:     c.Y * scale,
		Z:     c.Z * scale,
		Units: units,
	}
}

// PartialPosition is a position where each axis is optional.
type PartialPosition struct {
	X     *float64
	Y     *float64
	Z     *float64
	Units gcode.Units
}

// NewPartialPosition creates a position for the given axis values. Axes set to nil are omitted.
func NewPartialPosition(x, y, z *float64, units gcode.Units) PartialPosition {
	return PartialPosition{X: x, Y: y, Z: z, Units: units}
}

// Words returns the axis words for the axes that are set, in XYZ order.
func (p PartialPosition) Words() []*gcode.Word {
	var words []*gcode.Word
	for _, axis := range []struct {
		letter rune
		value  *float64
	}{
		{'X', p.X},
		{'Y', p.Y},
		{'Z', p.Z},
	} {
		if axis.value != nil {
			words = append(words, gcode.NewWord(axis.letter, *axis.value))
		}
	}
	return words
}

// FormattedGcode returns the axis words, eg: "X10 Z-2.5". It is empty when no axis is set.
func (p PartialPosition) FormattedGcode() string {
	return gcode.NewBlock(p.Words()...).String()
}
