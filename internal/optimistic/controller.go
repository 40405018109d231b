// Package optimistic applies field edits locally before they are persisted, coalesces
// bursts of edits into one write and rolls back when the write fails.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// ErrStopped is returned by Mutate after the controller has been stopped.
var ErrStopped = errors.New("controller stopped")

const (
	// DefaultDelay is the quiet interval after the last edit before a write is sent.
	DefaultDelay = 500 * time.Millisecond
	// DefaultTimeout bounds a single persist call.
	DefaultTimeout = 10 * time.Second
)

// Key identifies an editable field instance.
type Key struct {
	EntityID string
	Field    string
}

func (k Key) String() string {
	return k.EntityID + "." + k.Field
}

// FailureFunc is told about a write that failed and was rolled back.
type FailureFunc func(key Key, err error)

type options struct {
	delay     time.Duration
	timeout   time.Duration
	onFailure FailureFunc
	log       *logger.Logger
	ctx       context.Context
}

// Option configures a Controller.
type Option func(*options)

// WithDelay sets the debounce quiet interval.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithTimeout sets the per-write timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithFailureNotice sets the callback raised after a rollback.
func WithFailureNotice(fn FailureFunc) Option {
	return func(o *options) { o.onFailure = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithContext sets the parent context of persist calls.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// record is the optimistic edit record of a burst.
type record[T comparable] struct {
	previous  T
	candidate T
	pending   bool
}

// Controller owns the displayed value of one field and its write lifecycle.
//
// apply is called with the controller lock held and must not call back into the
// controller.
type Controller[T comparable] struct {
	key     Key
	apply   func(T)
	persist func(context.Context, T) error
	opts    options

	mu       sync.Mutex
	current  T
	edit     *record[T]
	gen      uint64
	timer    *time.Timer
	inflight bool
	dirty    bool
	stopped  bool
}

// New creates a controller showing initial.
func New[T comparable](key Key, initial T, apply func(T), persist func(context.Context, T) error, opts ...Option) *Controller[T] {
	o := options{
		delay:   DefaultDelay,
		timeout: DefaultTimeout,
		log:     logger.Global(),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if apply == nil {
		apply = func(T) {}
	}
	return &Controller[T]{
		key:     key,
		apply:   apply,
		persist: persist,
		opts:    o,
		current: initial,
	}
}

// Key returns the field instance the controller edits.
func (c *Controller[T]) Key() Key {
	return c.key
}

// Value returns the currently displayed value.
func (c *Controller[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pending reports whether an edit has not yet been acknowledged.
func (c *Controller[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.edit != nil
}

// Mutate shows v immediately and schedules a write of the latest value once edits
// stop arriving for the debounce interval.
func (c *Controller[T]) Mutate(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.edit == nil {
		c.edit = &record[T]{previous: c.current}
	}
	c.current = v
	c.edit.candidate = v
	c.edit.pending = true
	c.gen++

	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.delay, func() { c.fire(gen) })

	c.apply(v)
	return nil
}

// Reset replaces the displayed value with an authoritative one, discarding any burst
// that has not been written yet. It reports false and changes nothing while a write is
// in flight or after Stop; the caller should reset again once Pending is false.
func (c *Controller[T]) Reset(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.inflight {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	c.edit = nil
	c.current = v
	c.apply(v)
	return true
}

// Stop cancels any pending write. A write already in flight completes, but its outcome
// is no longer applied.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.dirty = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Controller[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || c.edit == nil || !c.edit.pending {
		c.mu.Unlock()
		return
	}
	if c.inflight {
		c.dirty = true
		c.mu.Unlock()
		return
	}
	sent, val := c.beginLocked()
	c.mu.Unlock()

	c.run(sent, val)
}

func (c *Controller[T]) beginLocked() (uint64, T) {
	c.inflight = true
	c.edit.pending = false
	return c.gen, c.current
}

func (c *Controller[T]) run(sent uint64, val T) {
	for {
		err := c.write(val)

		c.mu.Lock()
		c.inflight = false
		notice := c.settleLocked(sent, val, err)
		again := c.dirty && !c.stopped && c.edit != nil && c.edit.pending
		c.dirty = false
		if again {
			sent, val = c.beginLocked()
		}
		c.mu.Unlock()

		if notice != nil {
			notice()
		}
		if !again {
			return
		}
	}
}

func (c *Controller[T]) write(val T) (err error) {
	ctx, cancel := context.WithTimeout(c.opts.ctx, c.opts.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persist panicked: %v", r)
		}
	}()
	return c.persist(ctx, val)
}

// settleLocked applies the outcome of a write sent at generation sent. It returns the
// failure notice to raise once the lock is released, if any.
func (c *Controller[T]) settleLocked(sent uint64, val T, err error) func() {
	superseded := c.gen != sent
	log := c.opts.log.With(zap.Stringer("key", c.key))

	if err == nil {
		if superseded && c.edit != nil {
			// The written value is now authoritative; a later failure reverts to it.
			c.edit.previous = val
		} else {
			c.edit = nil
		}
		return nil
	}

	if superseded {
		log.Warn("write failed but a newer edit is pending", zap.Error(err))
		return nil
	}

	if c.edit == nil {
		return nil
	}
	prev := c.edit.previous
	c.edit = nil
	c.current = prev
	if c.stopped {
		log.Debug("write failed after stop; skipping rollback", zap.Error(err))
		return nil
	}
	c.apply(prev)
	log.Warn("write failed; rolled back", zap.Error(err))

	if c.opts.onFailure == nil {
		return nil
	}
	key, onFailure := c.key, c.opts.onFailure
	return func() { onFailure(key, err) }
}
