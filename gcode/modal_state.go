package gcode

import "strings"

type DistanceMode int

const (
	DistanceModeAbsolute DistanceMode = iota
	DistanceModeRelative
)

func (d DistanceMode) String() string {
	switch d {
	case DistanceModeAbsolute:
		return "absolute"
	case DistanceModeRelative:
		return "relative"
	}
	return "unknown"
}

// ModalState holds the G-code modes that persist across blocks.
type ModalState struct {
	Units        Units
	DistanceMode DistanceMode
}

func NewModalState() *ModalState {
	return &ModalState{
		Units:        UnitsMillimeters,
		DistanceMode: DistanceModeAbsolute,
	}
}

// Update applies the modal commands in block.
func (m *ModalState) Update(block *Block) {
	for _, w := range block.Commands() {
		switch w.String() {
		case "G20":
			m.Units = UnitsInches
		case "G21":
			m.Units = UnitsMillimeters
		case "G90":
			m.DistanceMode = DistanceModeAbsolute
		case "G91":
			m.DistanceMode = DistanceModeRelative
		}
	}
}

// UpdateLine parses line and applies it. Lines that are not G-code (eg: "?") return an error and
// leave the state untouched.
func (m *ModalState) UpdateLine(line string) error {
	block, err := ParseBlock(StripComments(line))
	if err != nil {
		return err
	}
	m.Update(block)
	return nil
}

// StripComments removes ';' and '(...)' comments and surrounding space.
func StripComments(line string) string {
	if idx := strings.IndexByte(line, ';'); idx != -1 {
		line = line[:idx]
	}
	var b strings.Builder
	inParens := false
	for _, c := range line {
		switch {
		case c == '(':
			inParens = true
		case c == ')':
			inParens = false
		case !inParens:
			b.WriteRune(c)
		}
	}
	return strings.TrimSpace(b.String())
}
