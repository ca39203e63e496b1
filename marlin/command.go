package marlin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fornellas/mgs/gcode"
)

var ErrInvalidCommand = errors.New("invalid command")

// DispatchChannel is how a command is delivered to the firmware.
type DispatchChannel int

const (
	// Ordinary FIFO of queued program commands, pausable.
	DispatchChannelStreamed DispatchChannel = iota
	// Sent as soon as possible, ahead of streamed commands.
	DispatchChannelImmediate
	// Written straight to the port, bypassing any local queueing.
	DispatchChannelRealtime
)

var dispatchChannelStringsMap = map[DispatchChannel]string{
	DispatchChannelStreamed:  "Streamed",
	DispatchChannelImmediate: "Immediate",
	DispatchChannelRealtime:  "Realtime",
}

func (d DispatchChannel) String() string {
	if str, ok := dispatchChannelStringsMap[d]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%d)", int(d))
}

// Command is a single line to be sent to the firmware.
type Command struct {
	Text    string
	Channel DispatchChannel
	// The command changes modal state only for its own purpose (eg: jogging), and such change
	// must not be recorded.
	TransientModalChange bool
}

func (c *Command) String() string {
	return c.Text
}

// CommandCreator creates commands from text.
type CommandCreator struct{}

func NewCommandCreator() *CommandCreator {
	return &CommandCreator{}
}

// CreateCommand returns a streamed command for the given single line text.
func (cc *CommandCreator) CreateCommand(text string) (*Command, error) {
	if strings.ContainsAny(text, "\r\n") {
		return nil, fmt.Errorf("%w: must be a single line: %#v", ErrInvalidCommand, text)
	}
	text = strings.Trim(text, " \t")
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	return &Command{Text: text}, nil
}

const (
	CommandSetCoordinate       = "G92"
	CommandAbsoluteCoordinates = "G90"
	CommandRelativeCoordinates = "G91"
	CommandReturnToXYZero      = "G0 X0 Y0"
	CommandReturnToZZero       = "G0 Z0"
	// Program stop: the firmware answers with "echo:busy: paused for user" until resumed.
	CommandProgramStop = "M0"
	// Resume from a user pause.
	CommandResume = "M108"
	// Request a live status report.
	CommandStatusRequest = "?"
)

// UnitsCommand returns the command to switch to units.
func UnitsCommand(units gcode.Units) string {
	return units.Command()
}

// MoveCommand generates a motion command (eg: "G0", "G1") to position. Units are not included, as
// the firmware does not accept them on the same line. feedRate is only added when positive.
func MoveCommand(motion string, feedRate float64, position PartialPosition) string {
	block, err := gcode.ParseBlock(motion)
	if err != nil {
		panic(fmt.Sprintf("bug: invalid motion command %#v: %s", motion, err))
	}
	block.AppendWords(position.Words()...)
	if feedRate > 0 {
		block.AppendWords(gcode.NewWord('F', feedRate))
	}
	return block.String()
}

// SetCoordinateCommand returns the command that sets the work position for the given axes, or an
// empty string if no axis is given.
func SetCoordinateCommand(offsets PartialPosition) string {
	coords := offsets.FormattedGcode()
	if strings.TrimSpace(coords) == "" {
		return ""
	}
	return CommandSetCoordinate + " " + coords
}
