package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"swbf2sched/internal/eventbus"
	rtsup "swbf2sched/internal/runtime/supervisor"
	logx "swbf2sched/pkg/logx"
)

const workerName = "worker"

type Service struct {
	// mu serializes Start/Stop. Nothing the worker calls takes it.
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	met *Metrics

	tickDelay atomic.Int64

	qmu     sync.Mutex
	pending *queue.Queue

	liveMu sync.Mutex
	live   []*Unit

	sup      atomic.Pointer[rtsup.Supervisor]
	stopCh   chan struct{}
	running  atomic.Bool
	workerID atomic.Uint64

	faultLimiter *rate.Limiter

	iterations atomic.Uint64
	submitted  atomic.Uint64
	executed   atomic.Uint64
	failed     atomic.Uint64
	panicked   atomic.Uint64
	suppressed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

// WithMetrics makes the scheduler report into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.met = m }
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		pending:      queue.New(),
		faultLimiter: rate.NewLimiter(rate.Limit(cfg.FaultLogRate), faultLogBurst),
	}
	s.tickDelay.Store(int64(cfg.TickDelay))
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start spawns the worker goroutine. The worker stops when Stop is called or
// ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.IsRunningOnWorker() {
		return ErrAlreadyRunning
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.sup.Load(); old != nil {
		if old.Context().Err() == nil {
			return ErrAlreadyRunning
		}
		// The previous Start context was canceled; reap its worker before
		// a new one takes the worker identity.
		_ = old.Wait(context.Background())
		s.sup.Store(nil)
		s.stopCh = nil
	}

	stopCh := make(chan struct{})
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler.supervisor"))),
		rtsup.WithCancelOnError(false),
	)
	s.stopCh = stopCh
	s.sup.Store(sup)
	s.running.Store(true)

	// A panic in loop bookkeeping restarts the loop; restarts are sequential,
	// so there is never more than one worker.
	sup.GoRestart(workerName, func(c context.Context) error {
		return s.run(c, stopCh)
	},
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(s.TickDelay(), time.Second),
	)

	s.log.Info("scheduler started", logx.String("name", s.cfg.Name), logx.Duration("tick_delay", s.TickDelay()), logx.Int("queued", s.queueLen()))
	s.publish(eventbus.TypeSchedulerStarted, nil)
	return nil
}

// Stop halts the worker and waits for it to exit. When Stop returns nil no
// action is running and none will run until the next Start. Queued and live
// units are kept.
//
// Stop is a no-op on a scheduler that is not running. Called from an action
// it returns ErrStopFromWorker. If ctx ends first, Stop returns ctx.Err(); the
// worker has been told to stop and a later Stop call completes the wait.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.IsRunningOnWorker() {
		return ErrStopFromWorker
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sup := s.sup.Load()
	if sup == nil {
		return nil
	}
	if s.running.CompareAndSwap(true, false) {
		close(s.stopCh)
		sup.Cancel()
	}

	start := time.Now()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
	s.sup.Store(nil)
	s.stopCh = nil

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Int("queued", s.queueLen()), logx.Int("live", s.liveLen()))
	s.publish(eventbus.TypeSchedulerStopped, nil)
	return nil
}

// Close stops the scheduler without a deadline.
func (s *Service) Close() error { return s.Stop(context.Background()) }

// Running reports whether the worker is running. It turns false on Stop and
// when the context passed to Start is canceled.
func (s *Service) Running() bool {
	sup := s.sup.Load()
	return s.running.Load() && sup != nil && sup.Context().Err() == nil
}

// IsRunningOnWorker reports whether the caller runs on the scheduler's worker
// goroutine, i.e. inside an action.
func (s *Service) IsRunningOnWorker() bool {
	id := s.workerID.Load()
	return id != 0 && goroutineID() == id
}

// Submit enqueues u. Safe from any goroutine, including the worker.
func (s *Service) Submit(u *Unit) error {
	if u == nil {
		return ErrNilUnit
	}
	if u.queued.Swap(true) {
		return ErrAlreadySubmitted
	}

	s.qmu.Lock()
	s.pending.Add(u)
	n := s.pending.Length()
	s.qmu.Unlock()

	s.submitted.Add(1)
	s.met.submit(u.kind, n)
	s.log.Trace("task.submitted", logx.String("task", u.name), logx.String("id", u.id), logx.String("kind", u.kind.String()), logx.Int("queued", n))
	s.publish(eventbus.TypeTaskSubmitted, taskEvent(u))
	return nil
}

func (s *Service) SubmitOneShot(action Action, opts ...UnitOption) error {
	u, err := NewOneShot(action, opts...)
	if err != nil {
		return err
	}
	return s.Submit(u)
}

func (s *Service) SubmitRepeating(action Action, interval int, opts ...UnitOption) error {
	u, err := NewRepeating(action, interval, opts...)
	if err != nil {
		return err
	}
	return s.Submit(u)
}

func (s *Service) SubmitDelayed(action Action, interval int, opts ...UnitOption) error {
	u, err := NewDelayed(action, interval, opts...)
	if err != nil {
		return err
	}
	return s.Submit(u)
}

// ClearRepeating drops every live repeating and delayed unit. None of them
// fires once ClearRepeating returns (an action already executing finishes).
// Units still waiting in the submission queue are not affected.
func (s *Service) ClearRepeating() {
	s.liveMu.Lock()
	cleared := s.live
	s.live = nil
	for _, u := range cleared {
		u.Remove()
	}
	s.liveMu.Unlock()

	s.met.setLive(0)
	s.log.Debug("live units cleared", logx.Int("count", len(cleared)))
	s.publish(eventbus.TypeSchedulerCleared, map[string]int{"count": len(cleared)})
}

// TickDelay returns the current minimum sleep between loop iterations.
func (s *Service) TickDelay() time.Duration { return time.Duration(s.tickDelay.Load()) }

// SetTickDelay changes the tick delay; the worker picks it up on its next sleep.
// d <= 0 restores the default.
func (s *Service) SetTickDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultTickDelay
	}
	if prev := time.Duration(s.tickDelay.Swap(int64(d))); prev != d {
		s.log.Info("tick delay changed", logx.Duration("from", prev), logx.Duration("to", d))
	}
}

// TicksFor converts d into a tick count at the current tick delay, rounding
// up. The result is at least 1.
func (s *Service) TicksFor(d time.Duration) int {
	td := s.TickDelay()
	if d <= 0 || td <= 0 {
		return 1
	}
	n := int((d + td - 1) / td)
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	var restarts uint64
	if sup := s.sup.Load(); sup != nil {
		restarts = sup.Stats(workerName).Restarts
	}

	return Snapshot{
		Name:                s.cfg.Name,
		Running:             s.Running(),
		TickDelay:           s.TickDelay(),
		Iterations:          s.iterations.Load(),
		QueueLen:            s.queueLen(),
		LiveCount:           s.liveLen(),
		Submitted:           s.submitted.Load(),
		Executed:            s.executed.Load(),
		Failed:              s.failed.Load(),
		Panicked:            s.panicked.Load(),
		FaultLogsSuppressed: s.suppressed.Load(),
		LoopRestarts:        restarts,
		History:             h,
	}
}

func (s *Service) queueLen() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return s.pending.Length()
}

func (s *Service) liveLen() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return len(s.live)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func taskEvent(u *Unit) TaskEvent {
	return TaskEvent{ID: u.id, Name: u.name, Kind: u.kind.String(), Interval: u.interval}
}

// Run starts a scheduler, hands it to fn and stops it on every exit path,
// including a panic in fn.
func Run(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus, fn func(ctx context.Context, s *Service) error, opts ...Option) (err error) {
	s := New(cfg, log, bus, opts...)
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := s.Close(); err == nil {
			err = stopErr
		}
	}()
	return fn(ctx, s)
}
