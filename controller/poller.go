package controller

import (
	"context"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"
)

// MaxOutstandingPolls is the number of ticks after which a status request with no response is
// assumed lost, and a new one is sent.
const MaxOutstandingPolls = 20

const DefaultPollInterval = 2 * time.Second

// Poller periodically requests a status report from the firmware. Only one request is
// outstanding at a time: a new one is sent when the previous response arrives (Reset) or after
// MaxOutstandingPolls ticks.
type Poller struct {
	mu       sync.Mutex
	interval time.Duration
	sendFn   func(context.Context) error
	console  Console
	strings  Localizer
	counter  int
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

func NewPoller(interval time.Duration, sendFn func(context.Context) error, console Console, strings Localizer) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		sendFn:   sendFn,
		console:  console,
		strings:  strings,
	}
}

// Tick runs a single polling step.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	if p.counter != 0 {
		p.counter++
		if p.counter >= MaxOutstandingPolls {
			log.MustLogger(ctx).Debug("Status request assumed lost")
			p.counter = 0
		}
		p.mu.Unlock()
		return
	}
	p.counter = 1
	p.mu.Unlock()

	if err := p.sendFn(ctx); err != nil {
		p.console.Info(ctx, localizef(p.strings, StringExceptionSendingStatus, "(%s)", err))
	}
}

// Reset marks the outstanding status request as answered.
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter = 0
}

func (p *Poller) OutstandingPolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Start begins ticking at the poll interval. It does nothing if already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, logger := log.MustWithGroup(ctx, "Poller")
	logger.Debug("Starting", "interval", p.interval)
	p.counter = 0
	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	doneCh := make(chan struct{})
	p.doneCh = doneCh
	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Tick(ctx)
			case <-ctx.Done():
				logger.Debug("Stopped")
				return
			}
		}
	}()
}

// Stop stops ticking and waits for an in progress tick to finish. It does nothing if not
// running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	doneCh := p.doneCh
	p.cancel = nil
	p.doneCh = nil
	p.mu.Unlock()
	<-doneCh
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
