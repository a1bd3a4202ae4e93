package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
)

// Scheduler is the part of *scheduler.Service the runner needs.
type Scheduler interface {
	Submit(u *scheduler.Unit) error
	SubmitOneShot(action scheduler.Action, opts ...scheduler.UnitOption) error
	ClearRepeating()
	TicksFor(d time.Duration) int
}

// Runner feeds config-defined jobs into a scheduler.
//
// The first Apply submits every job. Later calls replace the job set: the
// previous repeating and delayed units are retired (live or still queued) and
// resubmitted, cron entries are rebuilt, and "once" jobs are not run again.
type Runner struct {
	sched Scheduler
	log   logx.Logger

	mu     sync.Mutex
	loaded bool
	c      *cron.Cron
	jobs   []Job
	units  []*scheduler.Unit

	// Cron one-shots fired by an older Apply may still be queued; their
	// actions check the generation and do nothing.
	gen atomic.Uint64
}

func NewRunner(sched Scheduler, log logx.Logger) *Runner {
	return &Runner{sched: sched, log: log}
}

// Apply validates defs and swaps the active job set. On a validation error the
// previous set stays active.
func (r *Runner) Apply(ctx context.Context, defs []Definition) error {
	jobs, err := Compile(defs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	first := !r.loaded
	if !first {
		for _, u := range r.units {
			u.Remove()
		}
		r.units = nil
		r.sched.ClearRepeating()
		r.stopCronLocked(ctx)
	}
	gen := r.gen.Add(1)

	c := cron.New(cron.WithParser(cronParser), cron.WithLogger(cronLogger{r.log}), cron.WithChain(cron.Recover(cronLogger{r.log})))
	var submitted, scheduled int
	for _, j := range jobs {
		fn := r.guard(gen, j.Func(r.log))
		opt := scheduler.WithName(j.Name)

		switch j.Schedule.Kind {
		case ScheduleOnce:
			if !first {
				continue
			}
			err = r.sched.SubmitOneShot(fn, opt)
		case ScheduleAfter:
			err = r.submit(scheduler.NewDelayed(fn, j.Schedule.Resolve(r.sched.TicksFor), opt))
		case ScheduleEvery:
			err = r.submit(scheduler.NewRepeating(fn, j.Schedule.Resolve(r.sched.TicksFor), opt))
		case ScheduleCron:
			name := j.Name
			_, err = c.AddFunc(j.Schedule.Cron, func() {
				if err := r.sched.SubmitOneShot(fn, scheduler.WithName(name)); err != nil {
					r.log.Warn("cron submit failed", logx.String("job", name), logx.Err(err))
				}
			})
			if err == nil {
				scheduled++
			}
		}
		if err != nil {
			r.log.Warn("job not scheduled", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		if j.Schedule.Kind != ScheduleCron {
			submitted++
		}
	}
	c.Start()
	r.c = c
	r.jobs = jobs
	r.loaded = true

	r.log.Info("jobs applied", logx.Bool("reload", !first), logx.Int("jobs", len(jobs)), logx.Int("submitted", submitted), logx.Int("cron", scheduled))
	return nil
}

func (r *Runner) submit(u *scheduler.Unit, err error) error {
	if err != nil {
		return err
	}
	if err := r.sched.Submit(u); err != nil {
		return err
	}
	r.units = append(r.units, u)
	return nil
}

// TickBound reports whether any active job converts a wall-clock amount into
// ticks, i.e. whether the job set must be re-applied when the tick delay changes.
func (r *Runner) TickBound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		switch j.Schedule.Kind {
		case ScheduleAfter, ScheduleEvery:
			if j.Schedule.Source == "duration" || j.Schedule.Source == "hhmm" {
				return true
			}
		}
	}
	return false
}

// Jobs returns the active job set.
func (r *Runner) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...)
}

// Stop halts cron triggering. Units already submitted are left to the scheduler.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCronLocked(ctx)
}

func (r *Runner) stopCronLocked(ctx context.Context) {
	if r.c == nil {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
	r.c = nil
}

func (r *Runner) guard(gen uint64, fn scheduler.Action) scheduler.Action {
	return func(ctx context.Context) error {
		if r.gen.Load() != gen {
			return nil
		}
		return fn(ctx)
	}
}

// cronLogger routes robfig/cron's logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
