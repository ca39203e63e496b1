package worker_manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fornellas/slogxt/log"
)

type workerType struct {
	name  string
	fn    func(context.Context) error
	errCh chan error
}

// WorkerManager runs a group of workers together: when any of them returns, all others are
// cancelled.
type WorkerManager struct {
	mu         sync.Mutex
	workers    []*workerType
	cancelFunc context.CancelFunc
}

// NewWorkerManager creates a new WorkerManager.
func NewWorkerManager() *WorkerManager {
	return &WorkerManager{}
}

func (wm *WorkerManager) AddWorker(name string, fn func(context.Context) error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.workers = append(wm.workers, &workerType{name: name, fn: fn})
}

func (wm *WorkerManager) Start(ctx context.Context) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	ctx, logger := log.MustWithGroup(ctx, "Worker Manager")
	ctx, wm.cancelFunc = context.WithCancel(ctx)
	cancelFunc := wm.cancelFunc
	logger.Debug("Starting workers")
	for _, worker := range wm.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, worker.name)
		worker.errCh = make(chan error, 1)
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					workerLogger.Error("Panic", "recovered", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("panic: %v", r)
				}
				workerLogger.Debug("Finished", "err", err)
				cancelFunc()
				worker.errCh <- err
			}()
			workerLogger.Debug("Starting")
			err = worker.fn(workerCtx)
		}()
	}
	logger.Debug("All workers started")
}

// Cancel signals all workers to return.
func (wm *WorkerManager) Cancel() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if wm.cancelFunc != nil {
		wm.cancelFunc()
	}
}

// Wait blocks until all workers return. Errors are joined together, each prefixed by the worker
// name; context.Canceled is not reported.
func (wm *WorkerManager) Wait(ctx context.Context) error {
	logger := log.MustLogger(ctx).WithGroup("Worker Manager")
	logger.Debug("Waiting for all workers")

	wm.mu.Lock()
	workers := wm.workers
	wm.workers = nil
	wm.mu.Unlock()

	var errs []error
	for _, worker := range workers {
		err := <-worker.errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("%s: %w", worker.name, err))
		}
	}
	logger.Debug("All workers returned")
	return errors.Join(errs...)
}
