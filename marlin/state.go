package marlin

import "fmt"

// State is the abstract machine state, common to all firmwares.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateIdle
	StateRun
	StateHold
	StateDoor
	StateAlarm
	StateHome
	StateJog
)

var stateStringsMap = map[State]string{
	StateUnknown:      "Unknown",
	StateDisconnected: "Disconnected",
	StateIdle:         "Idle",
	StateRun:          "Run",
	StateHold:         "Hold",
	StateDoor:         "Door",
	StateAlarm:        "Alarm",
	StateHome:         "Home",
	StateJog:          "Jog",
}

func (s State) String() string {
	if str, ok := stateStringsMap[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, str := range stateStringsMap {
		if str == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state: %#v", string(text))
}

// FirmwareState is the machine state code reported by the firmware in the S_XYZ field.
type FirmwareState int

const (
	// Machine is initializing.
	FirmwareStateInit FirmwareState = iota
	// Machine is ready for use.
	FirmwareStateReset
	// Alarm state (soft shut down).
	FirmwareStateAlarm
	// Program stop or no more blocks (M0, M1, M60).
	FirmwareStateIdle
	// Program end via M2, M30.
	FirmwareStateEnd
	// Motion is running.
	FirmwareStateRunning
	// Motion is holding.
	FirmwareStateHold
	// Probe cycle active.
	FirmwareStateProbe
	// Machine is running (cycling).
	FirmwareStateCycling
	// Machine is homing.
	FirmwareStateHoming
	// Machine is jogging.
	FirmwareStateJogging
	// Hard alarm state (shut down).
	FirmwareStateError
)

var firmwareStateStringsMap = map[FirmwareState]string{
	FirmwareStateInit:    "Init",
	FirmwareStateReset:   "Reset",
	FirmwareStateAlarm:   "Alarm",
	FirmwareStateIdle:    "Idle",
	FirmwareStateEnd:     "End",
	FirmwareStateRunning: "Running",
	FirmwareStateHold:    "Hold",
	FirmwareStateProbe:   "Probe",
	FirmwareStateCycling: "Cycling",
	FirmwareStateHoming:  "Homing",
	FirmwareStateJogging: "Jogging",
	FirmwareStateError:   "Error",
}

func (s FirmwareState) String() string {
	if str, ok := firmwareStateStringsMap[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

// State returns the abstract state for the firmware state. ok is false for codes that do not map
// to an abstract state (including unknown codes): the previous state must be kept.
func (s FirmwareState) State() (state State, ok bool) {
	switch s {
	case FirmwareStateAlarm, FirmwareStateError:
		return StateAlarm, true
	case FirmwareStateIdle:
		return StateIdle, true
	case FirmwareStateRunning:
		return StateRun, true
	case FirmwareStateHold:
		return StateHold, true
	case FirmwareStateHoming:
		return StateHome, true
	case FirmwareStateJogging:
		return StateJog, true
	case FirmwareStateInit, FirmwareStateReset, FirmwareStateEnd, FirmwareStateProbe, FirmwareStateCycling:
		return StateUnknown, false
	default:
		return StateUnknown, false
	}
}

// Apply returns the state that results from receiving s while in previous.
func (s FirmwareState) Apply(previous State) State {
	if state, ok := s.State(); ok {
		return state
	}
	return previous
}
