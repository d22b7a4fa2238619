package contracts

import (
	"context"
	"sync"

	"github.com/ericksa/contractd/internal/metrics"
	"go.uber.org/zap"
)

// Job is a unit of background work. Its error never reaches the code that
// dispatched it; it goes to the dispatcher's error hook.
type Job func(ctx context.Context) error

// Dispatcher runs jobs on their own goroutines, detached from the request
// that started them but cancelled when the dispatcher's base context ends.
type Dispatcher struct {
	base    context.Context
	logger  *zap.Logger
	metrics *metrics.Collector
	onError func(name string, err error)

	wg sync.WaitGroup
}

func NewDispatcher(base context.Context, logger *zap.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{base: base, logger: logger, metrics: m}
}

// OnError installs a hook called with the name and error of every failed job.
// It must be set before the first Go call.
func (d *Dispatcher) OnError(fn func(name string, err error)) {
	d.onError = fn
}

// Go starts job in the background. Values of parent, such as request ids, are
// kept; its cancellation is not.
func (d *Dispatcher) Go(parent context.Context, name string, job Job) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(d.base, cancel)

	d.wg.Add(1)
	d.metrics.JobStarted()
	go func() {
		defer d.wg.Done()
		defer d.metrics.JobFinished()
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()

		if err := job(ctx); err != nil {
			d.logger.Warn("background job failed", zap.String("job", name), zap.Error(err))
			if d.onError != nil {
				d.onError(name, err)
			}
		}
	}()
}

// Wait blocks until every dispatched job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
