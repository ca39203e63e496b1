package marlin

import (
	"strconv"

	"github.com/fornellas/mgs/gcode"
)

// StatusSnapshot is an immutable view of the machine status. It is replaced wholesale, never
// mutated.
type StatusSnapshot struct {
	State        State       `json:"state" cbor:"state"`
	MachineCoord Coordinates `json:"machineCoord" cbor:"machineCoord"`
	WorkCoord    Coordinates `json:"workCoord" cbor:"workCoord"`
	FeedRate     *float64    `json:"feedRate,omitempty" cbor:"feedRate,omitempty"`
}

// NewStatusSnapshot returns the snapshot for a freshly opened connection.
func NewStatusSnapshot() *StatusSnapshot {
	return &StatusSnapshot{
		State:        StateDisconnected,
		MachineCoord: Coordinates{Units: gcode.UnitsMillimeters},
		WorkCoord:    Coordinates{Units: gcode.UnitsMillimeters},
	}
}

// WithState returns a copy of the snapshot with the given state.
func (s *StatusSnapshot) WithState(state State) *StatusSnapshot {
	snapshot := *s
	snapshot.State = state
	return &snapshot
}

type statusReportFields struct {
	x, y, z  *float64
	feedRate *float64
	state    *FirmwareState
}

func parseStatusReportFields(statusReport string) (fields statusReportFields, found bool) {
	for _, match := range statusReportTokenRegexp.FindAllStringSubmatch(statusReport, -1) {
		name, value := match[1], match[2]
		var dst **float64
		switch name {
		case "X":
			dst = &fields.x
		case "Y":
			dst = &fields.y
		case "Z":
			dst = &fields.z
		case "F":
			dst = &fields.feedRate
		case "S", "S_XYZ":
			if fields.state != nil {
				continue
			}
			code, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			state := FirmwareState(code)
			fields.state = &state
			found = true
			continue
		default:
			continue
		}
		// The polled form repeats XYZ after "Count" with step counts: first occurrence wins.
		if *dst != nil {
			continue
		}
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		*dst = &number
		found = true
	}
	return
}

// ParseStatusReport parses either status report form:
//
//	X:0.00 Y:0.00 Z:0.00 E:0.00 Count X:0 Y:0 Z:0
//	<<X:10.00 Y:0.00 Z:0.00 E:0.00 F:1.00 S_XYZ:3>>
//
// Fields are matched by name, so extra or missing fields are tolerated: missing axes and feed rate
// keep their previous values and a missing or unmapped state code keeps the previous state.
//
// When nothing can be extracted, previous is returned as is and parsed is false.
//
// Coordinates are always tagged as millimeters: reportingUnits is not applied.
func ParseStatusReport(
	previous *StatusSnapshot, statusReport string, reportingUnits gcode.Units,
) (snapshot *StatusSnapshot, parsed bool) {
	fields, found := parseStatusReportFields(statusReport)
	if !found {
		return previous, false
	}

	position := previous.MachineCoord.In(gcode.UnitsMillimeters)
	if fields.x != nil {
		position.X = *fields.x
	}
	if fields.y != nil {
		position.Y = *fields.y
	}
	if fields.z != nil {
		position.Z = *fields.z
	}

	feedRate := previous.FeedRate
	if fields.feedRate != nil {
		feedRate = fields.feedRate
	}

	state := previous.State
	if fields.state != nil {
		state = fields.state.Apply(previous.State)
	}

	return &StatusSnapshot{
		State:        state,
		MachineCoord: position,
		WorkCoord:    position,
		FeedRate:     feedRate,
	}, true
}
