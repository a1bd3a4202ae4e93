package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the three unit variants.
type Kind int

const (
	KindOneShot Kind = iota
	KindRepeating
	KindDelayed
)

func (k Kind) String() string {
	switch k {
	case KindOneShot:
		return "oneshot"
	case KindRepeating:
		return "repeating"
	case KindDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// Action is the work carried by a unit. ctx is canceled when the scheduler stops.
type Action func(ctx context.Context) error

// Unit is a schedulable piece of work. Identity is the pointer: every
// submission needs its own Unit.
type Unit struct {
	id       string
	name     string
	kind     Kind
	action   Action
	interval int

	createdAt time.Time
	queued    atomic.Bool
	remove    atomic.Bool

	// Worker-owned.
	counter int
	fired   uint64
}

type UnitOption func(*Unit)

// WithName labels the unit in logs, events and history.
func WithName(name string) UnitOption {
	return func(u *Unit) {
		if n := strings.TrimSpace(name); n != "" {
			u.name = n
		}
	}
}

// WithID overrides the generated unit id.
func WithID(id string) UnitOption {
	return func(u *Unit) {
		if v := strings.TrimSpace(id); v != "" {
			u.id = v
		}
	}
}

func NewOneShot(action Action, opts ...UnitOption) (*Unit, error) {
	return newUnit(KindOneShot, action, 1, opts)
}

// NewRepeating returns a unit firing every interval ticks. An interval of 0 is
// treated as 1.
func NewRepeating(action Action, interval int, opts ...UnitOption) (*Unit, error) {
	return newUnit(KindRepeating, action, interval, opts)
}

// NewDelayed returns a unit firing once, interval ticks after promotion.
func NewDelayed(action Action, interval int, opts ...UnitOption) (*Unit, error) {
	return newUnit(KindDelayed, action, interval, opts)
}

func newUnit(kind Kind, action Action, interval int, opts []UnitOption) (*Unit, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	if interval < 0 {
		return nil, ErrInvalidInterval
	}
	if interval == 0 {
		interval = 1
	}
	u := &Unit{
		id:        uuid.NewString(),
		name:      kind.String(),
		kind:      kind,
		action:    action,
		interval:  interval,
		createdAt: time.Now(),
	}
	for _, o := range opts {
		if o != nil {
			o(u)
		}
	}
	return u, nil
}

func (u *Unit) ID() string           { return u.id }
func (u *Unit) Name() string         { return u.name }
func (u *Unit) Kind() Kind           { return u.kind }
func (u *Unit) Interval() int        { return u.interval }
func (u *Unit) CreatedAt() time.Time { return u.createdAt }

// Removed reports whether the unit must leave (or never enter) the live set.
// Once true it stays true.
func (u *Unit) Removed() bool { return u.remove.Load() }

// Tick advances the unit by one tick and calls exec when the unit is due.
// It reports whether the unit fired.
//
// One-shot units are always due. Delayed units mark themselves removed after
// firing. exec must not panic; the scheduler passes a fault-isolating runner.
func (u *Unit) Tick(exec func(*Unit)) bool {
	u.counter++
	if u.counter < u.interval {
		return false
	}
	u.fired++
	exec(u)
	u.counter = 0
	if u.kind != KindRepeating {
		u.remove.Store(true)
	}
	return true
}

// Fired returns how often the unit fired. Only meaningful on the worker or
// after the scheduler stopped.
func (u *Unit) Fired() uint64 { return u.fired }

// Remove retires the unit: it never fires again and leaves the live set (or
// is dropped at dequeue) on the next iteration. An action already executing
// finishes. Only callers that build units themselves hold one to call this on.
func (u *Unit) Remove() { u.remove.Store(true) }
