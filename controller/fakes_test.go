package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/mgs/marlin"
)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeTransport struct {
	mu         sync.Mutex
	responseCh chan string
	connectErr error
}

func (f *fakeTransport) Connect(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.responseCh = make(chan string, 10)
	return f.responseCh, nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responseCh != nil {
		close(f.responseCh)
		f.responseCh = nil
	}
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responseCh != nil
}

// Lose closes the response channel, as a transport does on read errors.
func (f *fakeTransport) Lose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.responseCh)
	f.responseCh = nil
}

func (f *fakeTransport) Send(response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responseCh <- response
}

type sentCommand struct {
	Channel   marlin.DispatchChannel
	Text      string
	Transient bool
}

type fakeEngine struct {
	mu        sync.Mutex
	sent      []sentCommand
	active    []*marlin.Command
	paused    bool
	busy      bool
	streaming bool
	resets    int
	sendErr   error
}

func (f *fakeEngine) record(command *marlin.Command, channel marlin.DispatchChannel) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	command.Channel = channel
	f.sent = append(f.sent, sentCommand{
		Channel:   channel,
		Text:      command.Text,
		Transient: command.TransientModalChange,
	})
	if channel != marlin.DispatchChannelRealtime {
		f.active = append(f.active, command)
	}
	return nil
}

func (f *fakeEngine) SendImmediate(command *marlin.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(command, marlin.DispatchChannelImmediate)
}

func (f *fakeEngine) SendRealtime(command *marlin.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(command, marlin.DispatchChannelRealtime)
}

func (f *fakeEngine) PauseSend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeEngine) ResumeSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeEngine) SetBusy(busy bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = busy
	return nil
}

func (f *fakeEngine) CommandComplete(response string) (*marlin.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.active) == 0 {
		return nil, marlin.ErrNoActiveCommand
	}
	command := f.active[0]
	f.active = f.active[1:]
	return command, nil
}

func (f *fakeEngine) ActiveCommandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *fakeEngine) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeEngine) CheckStreamFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streaming && len(f.active) == 0 {
		f.streaming = false
		return true
	}
	return false
}

func (f *fakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	f.paused = false
	f.busy = false
	f.resets++
}

func (f *fakeEngine) Sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand{}, f.sent...)
}

func (f *fakeEngine) SentTexts() []string {
	var texts []string
	for _, s := range f.Sent() {
		texts = append(texts, s.Text)
	}
	return texts
}

func (f *fakeEngine) ClearSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func (f *fakeEngine) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeEngine) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

type consoleMessage struct {
	Level string
	Msg   string
}

type fakeConsole struct {
	mu       sync.Mutex
	messages []consoleMessage
}

func (f *fakeConsole) add(level, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, consoleMessage{Level: level, Msg: msg})
}

func (f *fakeConsole) Info(ctx context.Context, msg string)    { f.add("info", msg) }
func (f *fakeConsole) Verbose(ctx context.Context, msg string) { f.add("verbose", msg) }
func (f *fakeConsole) Error(ctx context.Context, msg string)   { f.add("error", msg) }

func (f *fakeConsole) Messages() []consoleMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]consoleMessage{}, f.messages...)
}

var errFakeFactory = errors.New("fake factory error")

type failingCommandFactory struct{}

func (failingCommandFactory) CreateCommand(text string) (*marlin.Command, error) {
	return nil, errFakeFactory
}
