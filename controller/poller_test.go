package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSender struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *countingSender) Send(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.err
}

func (s *countingSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestPollerTick(t *testing.T) {
	ctx := testContext(t)
	sender := &countingSender{}
	p := NewPoller(time.Hour, sender.Send, &fakeConsole{}, DefaultStrings)

	p.Tick(ctx)
	require.Equal(t, 1, sender.Count())
	require.Equal(t, 1, p.OutstandingPolls())

	for tick := 2; tick < MaxOutstandingPolls; tick++ {
		p.Tick(ctx)
		require.Equal(t, tick, p.OutstandingPolls())
	}
	require.Equal(t, 1, sender.Count())

	// tick 20
	p.Tick(ctx)
	require.Equal(t, 0, p.OutstandingPolls())
	require.Equal(t, 1, sender.Count())

	// tick 21
	p.Tick(ctx)
	require.Equal(t, 2, sender.Count())
	require.Equal(t, 1, p.OutstandingPolls())
}

func TestPollerReset(t *testing.T) {
	ctx := testContext(t)
	sender := &countingSender{}
	p := NewPoller(time.Hour, sender.Send, &fakeConsole{}, DefaultStrings)

	for range 7 {
		p.Tick(ctx)
	}
	require.Equal(t, 7, p.OutstandingPolls())
	p.Reset()
	require.Equal(t, 0, p.OutstandingPolls())

	p.Tick(ctx)
	require.Equal(t, 2, sender.Count())
}

func TestPollerSendError(t *testing.T) {
	ctx := testContext(t)
	sender := &countingSender{err: errors.New("port closed")}
	console := &fakeConsole{}
	p := NewPoller(time.Hour, sender.Send, console, DefaultStrings)

	p.Tick(ctx)
	require.Equal(t, []consoleMessage{{
		Level: "info",
		Msg:   "Error while sending status request (port closed)",
	}}, console.Messages())
	require.Equal(t, 1, p.OutstandingPolls())
}

func TestPollerStartStop(t *testing.T) {
	ctx := testContext(t)
	sender := &countingSender{}
	p := NewPoller(time.Millisecond, sender.Send, &fakeConsole{}, DefaultStrings)

	p.Stop()
	require.False(t, p.Running())

	p.Start(ctx)
	p.Start(ctx)
	require.True(t, p.Running())
	require.Eventually(t, func() bool {
		return sender.Count() >= 1
	}, time.Second, time.Millisecond)

	p.Stop()
	p.Stop()
	require.False(t, p.Running())
}
