package marlin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/mgs/gcode"
)

var ErrNoActiveCommand = errors.New("no active command")
var ErrAlreadyStreaming = errors.New("already streaming")

// LineWriter writes a single line to the firmware.
type LineWriter interface {
	WriteLine(line string) error
}

// Communicator sends commands to the firmware over its three dispatch channels. Streamed commands
// are sent one at a time: the next one is only sent after the previous is acknowledged with "ok".
type Communicator struct {
	mu     sync.Mutex
	writer LineWriter

	queue     []*Command
	active    []*Command
	paused    bool
	busy      bool
	streaming bool
	doneCh    chan struct{}
}

func NewCommunicator(writer LineWriter) *Communicator {
	return &Communicator{
		writer: writer,
	}
}

func (c *Communicator) writeCommandLocked(command *Command) error {
	if err := c.writer.WriteLine(command.Text); err != nil {
		return fmt.Errorf("communicator: %s: %w", command, err)
	}
	if command.Channel != DispatchChannelRealtime {
		c.active = append(c.active, command)
	}
	return nil
}

func (c *Communicator) streamNextLocked() error {
	for !c.paused && !c.busy && len(c.active) == 0 && len(c.queue) > 0 {
		command := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.writeCommandLocked(command); err != nil {
			return err
		}
	}
	return nil
}

// QueueCommand appends a command to the streamed FIFO. Commands are only sent after
// StreamCommands is called.
func (c *Communicator) QueueCommand(command *Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	command.Channel = DispatchChannelStreamed
	c.queue = append(c.queue, command)
}

func (c *Communicator) startStreamingLocked() error {
	if c.streaming {
		return ErrAlreadyStreaming
	}
	c.streaming = true
	c.doneCh = make(chan struct{})
	return c.streamNextLocked()
}

// StreamCommands starts sending queued commands.
func (c *Communicator) StreamCommands() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startStreamingLocked()
}

// SendImmediate writes the command right away, ahead of queued streamed commands.
func (c *Communicator) SendImmediate(command *Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	command.Channel = DispatchChannelImmediate
	return c.writeCommandLocked(command)
}

// SendRealtime writes the command straight to the port. It is not tracked for acknowledgment and
// is not affected by pause or busy state.
func (c *Communicator) SendRealtime(command *Command) error {
	command.Channel = DispatchChannelRealtime
	if err := c.writer.WriteLine(command.Text); err != nil {
		return fmt.Errorf("communicator: %s: %w", command, err)
	}
	return nil
}

// CommandComplete marks the oldest sent command as acknowledged and sends the next streamed
// command, if any.
func (c *Communicator) CommandComplete(response string) (*Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) == 0 {
		return nil, fmt.Errorf("communicator: %#v: %w", response, ErrNoActiveCommand)
	}
	command := c.active[0]
	c.active = c.active[1:]
	return command, c.streamNextLocked()
}

// PauseSend stops sending streamed commands.
func (c *Communicator) PauseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// ResumeSend resumes sending streamed commands.
func (c *Communicator) ResumeSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return c.streamNextLocked()
}

func (c *Communicator) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetBusy holds streamed commands while the firmware reports it is busy.
func (c *Communicator) SetBusy(busy bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = busy
	return c.streamNextLocked()
}

func (c *Communicator) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// ActiveCommandCount returns the number of sent commands waiting for acknowledgment.
func (c *Communicator) ActiveCommandCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// QueuedCommandCount returns the number of streamed commands not yet sent.
func (c *Communicator) QueuedCommandCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// CheckStreamFinished returns true once, when a stream has every command sent and acknowledged.
func (c *Communicator) CheckStreamFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming || len(c.queue) > 0 || len(c.active) > 0 {
		return false
	}
	c.streaming = false
	close(c.doneCh)
	return true
}

// Cancel drops all queued streamed commands. Commands already sent are still waited for.
func (c *Communicator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
}

// Reset drops all state, for a new connection.
func (c *Communicator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	c.active = nil
	c.paused = false
	c.busy = false
	if c.streaming {
		c.streaming = false
		close(c.doneCh)
	}
}

// StreamProgram queues every line of the G-code program, starts streaming and waits for the
// stream to finish. Cancelling ctx drops the commands not yet sent.
func (c *Communicator) StreamProgram(ctx context.Context, commandFactory func(string) (*Command, error), r io.Reader) error {
	ctx, logger := log.MustWithGroup(ctx, "Program Streamer")

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	c.mu.Unlock()

	programReader := gcode.NewProgramReader(r)
	for {
		line, lineNum, err := programReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("stream program: read error: %w", err)
		}
		command, err := commandFactory(line)
		if err != nil {
			return fmt.Errorf("stream program: line %d: %w", lineNum, err)
		}
		c.QueueCommand(command)
	}
	logger.Info("Streaming", "commands", c.QueuedCommandCount())

	c.mu.Lock()
	err := c.startStreamingLocked()
	doneCh := c.doneCh
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("stream program: %w", err)
	}

	select {
	case <-doneCh:
		logger.Info("Finished")
		return nil
	case <-ctx.Done():
		logger.Info("Cancelling", "queued", c.QueuedCommandCount(), "active", c.ActiveCommandCount())
		c.Cancel()
		return fmt.Errorf("stream program: %w", ctx.Err())
	}
}
