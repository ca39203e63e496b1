package controller

import (
	"context"
	"fmt"

	"github.com/fornellas/mgs/gcode"
	"github.com/fornellas/mgs/marlin"
)

// Transport is the line oriented connection to the firmware, eg: marlin.Marlin.
type Transport interface {
	// Connect opens the connection, returning a channel where every response line is delivered.
	// The channel is closed when the connection is lost or Disconnect is called.
	Connect(ctx context.Context) (<-chan string, error)
	Disconnect(ctx context.Context) error
	Connected() bool
}

// StreamEngine dispatches commands over the immediate, realtime and streamed channels, eg:
// marlin.Communicator.
type StreamEngine interface {
	SendImmediate(command *marlin.Command) error
	SendRealtime(command *marlin.Command) error
	PauseSend()
	ResumeSend() error
	SetBusy(busy bool) error
	CommandComplete(response string) (*marlin.Command, error)
	ActiveCommandCount() int
	IsStreaming() bool
	CheckStreamFinished() bool
	Reset()
}

// CommandFactory converts text into a Command.
type CommandFactory interface {
	CreateCommand(text string) (*marlin.Command, error)
}

// FirmwareSettings exposes the firmware configuration known to the host.
type FirmwareSettings interface {
	ReportingUnits() gcode.Units
}

// StaticFirmwareSettings is a FirmwareSettings with fixed values.
type StaticFirmwareSettings struct {
	Units gcode.Units
}

func (s StaticFirmwareSettings) ReportingUnits() gcode.Units {
	return s.Units
}

// Localizer returns the user facing string for key.
type Localizer interface {
	Localize(key string) string
}

const (
	StringErrorResponse          = "controller.error.response"
	StringExceptionSendingStatus = "controller.exception.sendingstatus"
	StringStreamFinished         = "controller.stream.finished"
)

// Strings is a Localizer backed by a map. Unknown keys are returned as is.
type Strings map[string]string

func (s Strings) Localize(key string) string {
	if value, ok := s[key]; ok {
		return value
	}
	return key
}

var DefaultStrings = Strings{
	StringErrorResponse:          "Error while processing response",
	StringExceptionSendingStatus: "Error while sending status request",
	StringStreamFinished:         "Stream finished",
}

func localizef(localizer Localizer, key string, format string, a ...any) string {
	return localizer.Localize(key) + " " + fmt.Sprintf(format, a...)
}
