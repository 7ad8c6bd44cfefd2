package command

import (
	"sync"
	"time"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/schema"
)

// Origin identifies where a command instance came from.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginCloud Origin = "cloud"
)

// Instance is one command, tracked from creation through a terminal
// state (spec.md §3's Command instance).
type Instance struct {
	mu sync.Mutex

	ID           string
	Name         string // "trait.command"
	Component    string // dotted path
	Origin       Origin
	Parameters   jsonval.Value
	Progress     jsonval.Value
	Results      jsonval.Value
	State        State
	Err          *errs.Error
	CreationTime time.Time

	def     schema.CommandDef
	queue   *Queue
	changed []func(*Instance)
}

// Handle is a non-owning reference to a command instance: holding one
// doesn't keep the instance alive past its 5-minute removal grace, and
// Get reports false once the queue has destroyed it — the idiomatic-Go
// stand-in for a weak pointer.
type Handle struct {
	queue *Queue
	id    string
}

// Get resolves the handle, returning false if the instance has been
// removed from its queue.
func (h Handle) Get() (*Instance, bool) {
	if h.queue == nil {
		return nil, false
	}
	return h.queue.Find(h.id)
}

// Handle returns a non-owning reference to this instance.
func (c *Instance) Handle() Handle {
	return Handle{queue: c.queue, id: c.ID}
}

// OnChanged registers a callback fired after every successful
// lifecycle transition.
func (c *Instance) OnChanged(cb func(*Instance)) {
	c.mu.Lock()
	c.changed = append(c.changed, cb)
	c.mu.Unlock()
}

func (c *Instance) fireChanged() {
	c.mu.Lock()
	cbs := append([]func(*Instance){}, c.changed...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(c)
	}
}

// SetProgress validates patch against the command's progress schema,
// transitions to inProgress, and fires change callbacks.
func (c *Instance) SetProgress(patch jsonval.Value) error {
	return c.transition(InProgress, func() error {
		if err := validateAgainst(patch, c.def.Progress); err != nil {
			return err
		}
		c.Progress = patch
		return nil
	})
}

// Complete validates results against the command's results schema,
// transitions to done, and schedules self-removal after the grace
// period.
func (c *Instance) Complete(results jsonval.Value) error {
	err := c.transition(Done, func() error {
		if err := validateAgainst(results, c.def.Results); err != nil {
			return err
		}
		c.Results = results
		return nil
	})
	if err == nil {
		c.scheduleRemoval()
	}
	return err
}

// Pause moves the command to paused.
func (c *Instance) Pause() error {
	return c.transition(Paused, nil)
}

// SetError moves the command to the error state, recording cause.
func (c *Instance) SetError(cause *errs.Error) error {
	return c.transition(Error, func() error {
		c.Err = cause
		return nil
	})
}

// Abort force-terminates the command with cause and schedules removal.
func (c *Instance) Abort(cause *errs.Error) error {
	err := c.transition(Aborted, func() error {
		c.Err = cause
		return nil
	})
	if err == nil {
		c.scheduleRemoval()
	}
	return err
}

// Cancel terminates the command without an error and schedules removal.
func (c *Instance) Cancel() error {
	err := c.transition(Cancelled, nil)
	if err == nil {
		c.scheduleRemoval()
	}
	return err
}

// expire moves the command to expired and schedules its removal. No
// code path in this module calls it; commands never expire on a timer.
func (c *Instance) expire() error {
	err := c.transition(Expired, nil)
	if err == nil {
		c.scheduleRemoval()
	}
	return err
}

func (c *Instance) transition(to State, mutate func() error) error {
	c.mu.Lock()
	from := c.State
	if !canTransition(from, to) {
		c.mu.Unlock()
		return transitionError(from, to)
	}
	if mutate != nil {
		if err := mutate(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.State = to
	c.mu.Unlock()
	c.fireChanged()
	return nil
}

func (c *Instance) scheduleRemoval() {
	if c.queue != nil {
		c.queue.scheduleRemoval(c.ID)
	}
}

func validateAgainst(v jsonval.Value, sch jsonval.Value) error {
	if sch.Kind() != jsonval.KindObject {
		return nil
	}
	return schema.Validate(v, sch)
}
