// Package journal records finished scheduler executions into storage.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"swbf2sched/internal/eventbus"
	"swbf2sched/internal/storage"
	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
)

const (
	defaultBuffer = 256
	writeTimeout  = 2 * time.Second
)

// Recorder appends task.finished and task.failed events to a store.
// Events dropped by the bus under load are not recorded.
type Recorder struct {
	store storage.Store
	log   logx.Logger

	errLimiter *rate.Limiter

	recorded atomic.Uint64
	failed   atomic.Uint64
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	return &Recorder{
		store:      store,
		log:        log,
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Attach subscribes to bus right away and returns the consume loop, which
// runs until ctx is done and then unsubscribes.
func (r *Recorder) Attach(bus eventbus.Bus) func(ctx context.Context) {
	events, unsub := bus.Subscribe(defaultBuffer, eventbus.TypeTaskFinished, eventbus.TypeTaskFailed)
	return func(ctx context.Context) {
		defer unsub()
		r.consume(ctx, events)
	}
}

func (r *Recorder) consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Record(ctx, e)
		}
	}
}

// Record stores e if it carries a task outcome.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	te, ok := e.Data.(scheduler.TaskEvent)
	if !ok {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := r.store.AppendRun(wctx, runRecord(te))
	cancel()
	if err != nil {
		r.failed.Add(1)
		if r.errLimiter.Allow() {
			r.log.Warn("run journal write failed", logx.String("task", te.Name), logx.Err(err), logx.Uint64("failed_total", r.failed.Load()))
		}
		return
	}
	r.recorded.Add(1)
}

// Stats returns (recorded, failed) write counts.
func (r *Recorder) Stats() (uint64, uint64) { return r.recorded.Load(), r.failed.Load() }

func runRecord(te scheduler.TaskEvent) storage.RunRecord {
	return storage.RunRecord{
		ID:       te.ID,
		Name:     te.Name,
		Kind:     te.Kind,
		Fired:    te.Fired,
		Started:  te.Started,
		Duration: te.Duration,
		Error:    te.Error,
		Panicked: te.Panicked,
	}
}
