package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/mgs/marlin"
)

// PauseResume coordinates pausing the stream, initiated either by the user or by the firmware
// (M0 makes it report "paused for user"), and resuming it with M108.
//
// After a resume is requested and until the next "ok", "paused for user" responses are stale and
// must not pause the stream again.
type PauseResume struct {
	mu       sync.Mutex
	engine   StreamEngine
	factory  CommandFactory
	resuming bool
}

func NewPauseResume(engine StreamEngine, factory CommandFactory) *PauseResume {
	return &PauseResume{
		engine:  engine,
		factory: factory,
	}
}

// PausedForUser handles the firmware waiting for the user. It returns whether the stream was
// paused.
func (pr *PauseResume) PausedForUser(ctx context.Context) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.resuming {
		log.MustLogger(ctx).Debug("Ignoring pause while resuming")
		return false
	}
	pr.engine.PauseSend()
	return true
}

// Ok ends the resuming window.
func (pr *PauseResume) Ok() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.resuming = false
}

// RequestPause asks the firmware to stop. The stream is only paused when the firmware reports
// it is paused for the user.
func (pr *PauseResume) RequestPause(ctx context.Context) error {
	log.MustLogger(ctx).Info("Pausing")
	command, err := pr.factory.CreateCommand(marlin.CommandProgramStop)
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if err := pr.engine.SendImmediate(command); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// RequestResume sends the resume command over the realtime channel and resumes the stream.
func (pr *PauseResume) RequestResume(ctx context.Context) error {
	log.MustLogger(ctx).Info("Resuming")
	command, err := pr.factory.CreateCommand(marlin.CommandResume)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if err := pr.engine.SendRealtime(command); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	pr.resuming = true
	if err := pr.engine.ResumeSend(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func (pr *PauseResume) Resuming() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.resuming
}

// Reset drops an in flight resume, for a new connection.
func (pr *PauseResume) Reset() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.resuming = false
}
