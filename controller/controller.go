package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/mgs/broker"
	"github.com/fornellas/mgs/gcode"
	"github.com/fornellas/mgs/marlin"
)

// ControlState is the coarse sending state of the controller.
type ControlState int

const (
	ControlStateIdle ControlState = iota
	ControlStateSending
	ControlStateSendingPaused
)

var controlStateStringsMap = map[ControlState]string{
	ControlStateIdle:          "Idle",
	ControlStateSending:       "Sending",
	ControlStateSendingPaused: "Sending Paused",
}

func (s ControlState) String() string {
	if str, ok := controlStateStringsMap[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

type Options struct {
	// Interval between status requests, DefaultPollInterval if zero.
	PollInterval time.Duration
	// Defaults to millimeters.
	FirmwareSettings FirmwareSettings
	// Defaults to DefaultStrings.
	Localizer Localizer
	// Defaults to marlin.NewCommandCreator().
	CommandFactory CommandFactory
	// Defaults to LogConsole.
	Console Console
}

// Controller drives a Marlin family firmware: it routes every response received from the
// transport, keeps the machine status, polls for status reports and exposes machine operations.
type Controller struct {
	transport Transport
	engine    StreamEngine
	options   Options
	broker    *broker.Broker[*marlin.StatusSnapshot]

	pauseResume *PauseResume

	mu         sync.Mutex
	snapshot   *marlin.StatusSnapshot
	modalState *gcode.ModalState
	poller     *Poller
	doneCh     chan struct{}
}

func NewController(transport Transport, engine StreamEngine, options Options) *Controller {
	if options.FirmwareSettings == nil {
		options.FirmwareSettings = StaticFirmwareSettings{Units: gcode.UnitsMillimeters}
	}
	if options.Localizer == nil {
		options.Localizer = DefaultStrings
	}
	if options.CommandFactory == nil {
		options.CommandFactory = marlin.NewCommandCreator()
	}
	if options.Console == nil {
		options.Console = LogConsole{}
	}
	return &Controller{
		transport:   transport,
		engine:      engine,
		options:     options,
		broker:      broker.NewBroker[*marlin.StatusSnapshot](),
		pauseResume: NewPauseResume(engine, options.CommandFactory),
		snapshot:    marlin.NewStatusSnapshot(),
		modalState:  gcode.NewModalState(),
	}
}

// Subscribe returns a channel that receives every new StatusSnapshot. Slow subscribers miss the
// oldest snapshots.
func (c *Controller) Subscribe(name string, size int) <-chan *marlin.StatusSnapshot {
	return c.broker.Subscribe(name, size)
}

func (c *Controller) Unsubscribe(name string) {
	c.broker.Unsubscribe(name)
}

// Status returns the last StatusSnapshot.
func (c *Controller) Status() *marlin.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// ModalState returns a copy of the recorded modal state.
func (c *Controller) ModalState() gcode.ModalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.modalState
}

func (c *Controller) ControlState() ControlState {
	state := c.Status().State
	switch state {
	case marlin.StateRun:
		return ControlStateSending
	case marlin.StateHold, marlin.StateDoor:
		return ControlStateSendingPaused
	case marlin.StateIdle:
		if c.engine.IsStreaming() {
			return ControlStateSendingPaused
		}
		return ControlStateIdle
	default:
		return ControlStateIdle
	}
}

func (c *Controller) setState(state marlin.State) {
	c.mu.Lock()
	if c.snapshot.State == state {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshot.WithState(state)
	c.snapshot = snapshot
	c.mu.Unlock()
	c.broker.Publish(snapshot)
}

func (c *Controller) requestStatus(ctx context.Context) error {
	command, err := c.options.CommandFactory.CreateCommand(marlin.CommandStatusRequest)
	if err != nil {
		return err
	}
	return c.engine.SendImmediate(command)
}

// Open connects the transport and starts polling for status. Responses are handled on a
// background goroutine until Close is called or the connection is lost.
func (c *Controller) Open(ctx context.Context) error {
	ctx, logger := log.MustWithGroup(ctx, "Controller")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doneCh != nil {
		return fmt.Errorf("%w: already open", ErrConnection)
	}

	logger.Info("Opening")
	responseCh, err := c.transport.Connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.engine.Reset()
	c.pauseResume.Reset()
	c.snapshot = marlin.NewStatusSnapshot()
	c.modalState = gcode.NewModalState()

	c.poller = NewPoller(c.options.PollInterval, c.requestStatus, c.options.Console, c.options.Localizer)
	c.poller.Start(ctx)

	poller := c.poller
	doneCh := make(chan struct{})
	c.doneCh = doneCh
	go func() {
		defer close(doneCh)
		for response := range responseCh {
			c.HandleResponse(ctx, response)
		}
		logger.Debug("Response channel closed")
		poller.Stop()
	}()

	return nil
}

// IsOpen returns whether the connection is open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCh != nil && c.transport.Connected()
}

// Done returns a channel that is closed when responses stop being received, either after Close
// or when the connection is lost. It returns nil if not open.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCh
}

// Close stops polling and disconnects the transport.
func (c *Controller) Close(ctx context.Context) error {
	ctx, logger := log.MustWithGroup(ctx, "Controller")

	c.mu.Lock()
	poller := c.poller
	doneCh := c.doneCh
	c.poller = nil
	c.doneCh = nil
	c.mu.Unlock()

	if doneCh == nil {
		return nil
	}

	logger.Info("Closing", "status-subscribers", c.broker.Subscribers())
	poller.Stop()

	var err error
	if disconnectErr := c.transport.Disconnect(ctx); disconnectErr != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, disconnectErr)
	}
	<-doneCh

	c.engine.Reset()
	c.pauseResume.Reset()
	c.setState(marlin.StateDisconnected)

	return err
}

func (c *Controller) dispatchError(ctx context.Context, response string, err error) {
	message := fmt.Sprintf("%s <%s>: %s", c.options.Localizer.Localize(StringErrorResponse), response, err)
	log.MustLogger(ctx).Error("Failed to handle response", "response", response, "err", err)
	c.options.Console.Error(ctx, message)
}

// HandleResponse routes a single response received from the firmware. It never fails: errors are
// logged and sent to the console.
func (c *Controller) HandleResponse(ctx context.Context, response string) {
	defer func() {
		if r := recover(); r != nil {
			log.MustLogger(ctx).Debug("Panic", "recovered", r, "stack", string(debug.Stack()))
			c.dispatchError(ctx, response, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := c.dispatch(ctx, response); err != nil {
		c.dispatchError(ctx, response, err)
	}
}

func (c *Controller) recordModalState(ctx context.Context, command *marlin.Command) {
	if command == nil || command.TransientModalChange {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.modalState.UpdateLine(command.Text); err != nil {
		log.MustLogger(ctx).Debug("Not recording modal state", "command", command.Text, "err", err)
	}
}

func (c *Controller) dispatch(ctx context.Context, response string) error {
	logger := log.MustLogger(ctx)
	responseType := marlin.ClassifyResponse(response)
	logger.Debug("Handling", "response", response, "type", responseType)

	if responseType == marlin.ResponseTypeStatusReport {
		c.options.Console.Verbose(ctx, response)
	} else {
		c.options.Console.Info(ctx, response)
	}

	switch responseType {
	case marlin.ResponseTypeOk:
		command, err := c.engine.CommandComplete(response)
		if err != nil {
			if !errors.Is(err, marlin.ErrNoActiveCommand) {
				return err
			}
			logger.Debug("Unexpected ok", "err", err)
		} else {
			logger.Debug("Command complete", "command", command, "active", c.engine.ActiveCommandCount())
		}
		c.recordModalState(ctx, command)
		c.pauseResume.Ok()
		return c.engine.SetBusy(false)
	case marlin.ResponseTypePausedForUser:
		if !c.pauseResume.PausedForUser(ctx) {
			return nil
		}
		c.setState(marlin.StateHold)
		return c.engine.SetBusy(false)
	case marlin.ResponseTypeBusy:
		c.setState(marlin.StateRun)
	case marlin.ResponseTypeStatusReport:
		c.handleStatusReport(ctx, response)
		if c.engine.CheckStreamFinished() {
			c.options.Console.Info(ctx, c.options.Localizer.Localize(StringStreamFinished))
		}
	}
	return nil
}

func (c *Controller) handleStatusReport(ctx context.Context, response string) {
	units := c.options.FirmwareSettings.ReportingUnits()

	c.mu.Lock()
	snapshot, parsed := marlin.ParseStatusReport(c.snapshot, response, units)
	if !parsed {
		c.mu.Unlock()
		log.MustLogger(ctx).Debug("Unparsed status report", "response", response)
		return
	}
	c.snapshot = snapshot
	poller := c.poller
	c.mu.Unlock()

	if poller != nil {
		poller.Reset()
	}
	c.broker.Publish(snapshot)
}

func (c *Controller) sendImmediate(ctx context.Context, text string, transient bool) error {
	command, err := c.options.CommandFactory.CreateCommand(text)
	if err != nil {
		return err
	}
	command.TransientModalChange = transient
	log.MustLogger(ctx).Debug("Sending", "command", command.Text, "transient", transient)
	return c.engine.SendImmediate(command)
}

// Jog moves the machine relative to its current position by distance.
func (c *Controller) Jog(ctx context.Context, distance marlin.PartialPosition, feedRate float64) error {
	ctx, logger := log.MustWithGroup(ctx, "Jog")
	logger.Info("Jogging", "distance", distance.FormattedGcode(), "units", distance.Units, "feed-rate", feedRate)
	for _, text := range []string{
		marlin.CommandRelativeCoordinates,
		// units must be a separate command from the move
		marlin.UnitsCommand(distance.Units),
		marlin.MoveCommand("G1", feedRate, distance),
	} {
		if err := c.sendImmediate(ctx, text, true); err != nil {
			return fmt.Errorf("jog: %w", err)
		}
	}
	return nil
}

// SetWorkPosition sets the work coordinates for the given axes to the given values. It does
// nothing if no axis is given.
func (c *Controller) SetWorkPosition(ctx context.Context, offsets marlin.PartialPosition) error {
	if !c.IsOpen() {
		return fmt.Errorf("set work position: %w", ErrNotConnected)
	}
	text := marlin.SetCoordinateCommand(offsets)
	if text == "" {
		return nil
	}
	if err := c.sendImmediate(ctx, text, false); err != nil {
		return fmt.Errorf("set work position: %w", err)
	}
	return nil
}

// ReturnToHome moves to work zero, first raising Z to safetyHeightMm when it is below it. It
// only moves when the machine is idle, and does nothing otherwise.
func (c *Controller) ReturnToHome(ctx context.Context, safetyHeightMm float64) error {
	ctx, logger := log.MustWithGroup(ctx, "Return to home")

	c.mu.Lock()
	snapshot := c.snapshot
	units := c.modalState.Units
	c.mu.Unlock()

	if snapshot.State != marlin.StateIdle {
		logger.Info("Skipping: machine not idle", "state", snapshot.State)
		return nil
	}

	safetyHeight := safetyHeightMm * gcode.UnitsMillimeters.ScaleTo(units)
	workZ := snapshot.WorkCoord.In(units).Z

	var texts []string
	if workZ < safetyHeight {
		raise := marlin.CommandReturnToZZero
		if safetyHeight > 0 {
			raise = marlin.MoveCommand("G0", 0, marlin.NewPartialPosition(nil, nil, &safetyHeight, units))
		}
		texts = append(texts, marlin.CommandAbsoluteCoordinates, raise)
	}
	texts = append(texts,
		marlin.CommandAbsoluteCoordinates,
		marlin.CommandReturnToXYZero,
		marlin.CommandAbsoluteCoordinates,
		marlin.CommandReturnToZZero,
	)

	logger.Info("Returning", "work-z", workZ, "safety-height", safetyHeight, "units", units)
	for _, text := range texts {
		if err := c.sendImmediate(ctx, text, false); err != nil {
			return fmt.Errorf("return to home: %w", err)
		}
	}
	return nil
}

// Pause requests the firmware to pause the program.
func (c *Controller) Pause(ctx context.Context) error {
	return c.pauseResume.RequestPause(ctx)
}

// Resume requests the firmware to resume a paused program.
func (c *Controller) Resume(ctx context.Context) error {
	return c.pauseResume.RequestResume(ctx)
}

// SendCommand sends text as an immediate command.
func (c *Controller) SendCommand(ctx context.Context, text string) error {
	if err := c.sendImmediate(ctx, text, false); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// RequestStatus sends a status request right away, outside of polling.
func (c *Controller) RequestStatus(ctx context.Context) error {
	if err := c.requestStatus(ctx); err != nil {
		return fmt.Errorf("request status: %w", err)
	}
	return nil
}
