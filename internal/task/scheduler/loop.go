package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"swbf2sched/internal/eventbus"
	logx "swbf2sched/pkg/logx"
)

// run is the worker body. It returns nil on a clean stop; a panic in the loop
// bookkeeping escapes to the supervisor, which restarts run.
func (s *Service) run(ctx context.Context, stopCh <-chan struct{}) error {
	s.workerID.Store(goroutineID())
	defer s.workerID.Store(0)

	t := time.NewTimer(s.TickDelay())
	t.Stop()
	defer t.Stop()

	for {
		// A closed stopCh wins over pending work.
		select {
		case <-ctx.Done():
			return s.canceled(stopCh)
		case <-stopCh:
			return nil
		default:
		}

		s.step(ctx)

		t.Reset(s.TickDelay())
		select {
		case <-ctx.Done():
			return s.canceled(stopCh)
		case <-stopCh:
			return nil
		case <-t.C:
		}
	}
}

// canceled handles a worker exit caused by the Start context rather than Stop.
func (s *Service) canceled(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return nil
	default:
	}
	if s.running.CompareAndSwap(true, false) {
		s.log.Warn("scheduler context canceled; worker exited", logx.Int("queued", s.queueLen()), logx.Int("live", s.liveLen()))
		s.publish(eventbus.TypeSchedulerStopped, nil)
	}
	return nil
}

// step runs one loop iteration. Worker only.
func (s *Service) step(ctx context.Context) {
	s.iterations.Add(1)

	s.liveMu.Lock()
	snapshot := make([]*Unit, len(s.live))
	copy(snapshot, s.live)
	s.liveMu.Unlock()

	if u := s.dequeue(); u != nil {
		s.dispatch(ctx, u)
	}

	exec := func(u *Unit) { s.execute(ctx, u) }
	for _, u := range snapshot {
		if u.Removed() {
			continue
		}
		u.Tick(exec)
	}

	s.compact()
}

func (s *Service) dequeue() *Unit {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.pending.Length() == 0 {
		return nil
	}
	u, _ := s.pending.Remove().(*Unit)
	s.met.setPending(s.pending.Length())
	return u
}

// dispatch handles a freshly dequeued unit: one-shots run and are dropped,
// repeating and delayed units are promoted. Promotion is the unit's first tick.
func (s *Service) dispatch(ctx context.Context, u *Unit) {
	exec := func(u *Unit) { s.execute(ctx, u) }

	// Retired by its owner while still queued.
	if u.Removed() {
		s.evicted(u)
		return
	}

	if u.kind == KindOneShot {
		u.Tick(exec)
		return
	}

	s.log.Trace("task.promoted", logx.String("task", u.name), logx.String("id", u.id), logx.Int("interval", u.interval))
	s.publish(eventbus.TypeTaskPromoted, taskEvent(u))

	u.Tick(exec)
	if u.Removed() {
		s.evicted(u)
		return
	}

	s.liveMu.Lock()
	s.live = append(s.live, u)
	s.liveMu.Unlock()
}

// compact drops removed units from the live set.
func (s *Service) compact() {
	var gone []*Unit

	s.liveMu.Lock()
	kept := s.live[:0]
	for _, u := range s.live {
		if u.Removed() {
			gone = append(gone, u)
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(s.live); i++ {
		s.live[i] = nil
	}
	s.live = kept
	n := len(kept)
	s.liveMu.Unlock()

	s.met.iteration(n)
	for _, u := range gone {
		s.evicted(u)
	}
}

func (s *Service) evicted(u *Unit) {
	s.log.Trace("task.evicted", logx.String("task", u.name), logx.String("id", u.id), logx.Uint64("fired", u.fired))
	ev := taskEvent(u)
	ev.Fired = u.fired
	s.publish(eventbus.TypeTaskEvicted, ev)
}

// execute runs the unit's action with fault isolation and records the outcome.
func (s *Service) execute(ctx context.Context, u *Unit) {
	// Cleared by another goroutine between the snapshot check and now.
	if u.kind != KindOneShot && u.Removed() {
		return
	}

	start := time.Now()
	err := s.invoke(ctx, u)
	dur := time.Since(start)

	s.executed.Add(1)
	item := HistoryItem{ID: u.id, Name: u.name, Kind: u.kind.String(), Fired: u.fired, Started: start, Duration: dur}
	ev := taskEvent(u)
	ev.Fired, ev.Started, ev.Duration = u.fired, start, dur

	if err != nil {
		item.Error = err.Error()
		item.Panicked = IsPanic(err)
		ev.Error, ev.Panicked = item.Error, item.Panicked

		s.failed.Add(1)
		if item.Panicked {
			s.panicked.Add(1)
		}
		s.reportFault(u, err, dur)
		s.met.observe(u.kind, resultFor(err), dur)
		s.publish(eventbus.TypeTaskFailed, ev)
	} else {
		if dur >= slowActionThreshold {
			s.log.Info("task.completed", logx.String("task", u.name), logx.String("kind", u.kind.String()), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", u.name), logx.String("kind", u.kind.String()), logx.Duration("dur", dur))
		}
		s.met.observe(u.kind, resultOK, dur)
		s.publish(eventbus.TypeTaskFinished, ev)
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// invoke calls the action, turning a panic into a *PanicError.
func (s *Service) invoke(ctx context.Context, u *Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return u.action(ctx)
}

// reportFault logs a failed action. Bursts of faults are throttled so a
// repeating unit failing every tick cannot flood the log.
func (s *Service) reportFault(u *Unit, err error, dur time.Duration) {
	if !s.faultLimiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	fields := []logx.Field{
		logx.String("task", u.name),
		logx.String("id", u.id),
		logx.String("kind", u.kind.String()),
		logx.Duration("dur", dur),
		logx.Err(err),
	}
	if pe, ok := err.(*PanicError); ok {
		s.log.Error("task.panic", append(fields, logx.Stack(pe.Stack))...)
		return
	}
	s.log.Warn("task.failed", fields...)
}
