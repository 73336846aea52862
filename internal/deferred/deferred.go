// Package deferred moves work out of input edge handlers ("interrupt
// context") into a dispatch goroutine.
//
// Post never blocks and never allocates: the channel has a fixed capacity
// and a full channel drops the event and counts it.
package deferred

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrChannelFull is returned by Post when the event was dropped.
	ErrChannelFull = errors.New("deferred: channel full")

	// ErrChannelClosed is returned by Post after Close.
	ErrChannelClosed = errors.New("deferred: channel closed")
)

// Kind tags an Event.
type Kind uint8

const (
	KindReset Kind = iota + 1
	KindGearChanged
	KindRotationTick
	KindCall
)

func (k Kind) String() string {
	switch k {
	case KindReset:
		return "reset"
	case KindGearChanged:
		return "gear-changed"
	case KindRotationTick:
		return "rotation-tick"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// Event is a unit of deferred work captured at interrupt time.
type Event struct {
	Kind Kind
	// Time is the clock reading when the edge happened.
	Time time.Duration
	// Gear is set for KindGearChanged.
	Gear uint8
	// Fn is set for KindCall.
	Fn func()
}

// Handler processes one event in task context.
type Handler func(Event)

// DefaultCapacity is the default event queue depth.
const DefaultCapacity = 32

// Channel is a fixed-capacity FIFO of events. Any number of goroutines may
// Post; exactly one goroutine should dispatch.
type Channel struct {
	name    string
	events  chan Event
	closed  atomic.Bool
	dropped atomic.Uint64
	posted  atomic.Uint64

	dropLog rate.Sometimes
	log     zerolog.Logger
}

// New creates a channel holding up to capacity pending events.
func New(name string, capacity int, logger zerolog.Logger) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		name:    name,
		events:  make(chan Event, capacity),
		dropLog: rate.Sometimes{First: 1, Interval: time.Second},
		log:     logger.With().Str("component", "deferred").Str("channel", name).Logger(),
	}
}

// Post enqueues ev. It is safe to call from edge handlers: it never blocks.
// A full channel drops ev, counts it and returns ErrChannelFull.
func (c *Channel) Post(ev Event) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case c.events <- ev:
		c.posted.Add(1)
		return nil
	default:
		n := c.dropped.Add(1)
		c.dropLog.Do(func() {
			c.log.Warn().Str("kind", ev.Kind.String()).Uint64("dropped", n).Msg("channel full, dropping event")
		})
		return ErrChannelFull
	}
}

// Call posts fn to run in task context.
func (c *Channel) Call(fn func()) error {
	return c.Post(Event{Kind: KindCall, Fn: fn})
}

// DispatchForever runs each event in FIFO order until ctx is done.
// KindCall events run their Fn; all other kinds are passed to h.
func (c *Channel) DispatchForever(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.dispatch(ev, h)
		}
	}
}

// DispatchPending runs h for every event queued at the time of the call and
// returns how many ran. It never waits for new events.
func (c *Channel) DispatchPending(h Handler) int {
	n := len(c.events)
	for i := 0; i < n; i++ {
		select {
		case ev := <-c.events:
			c.dispatch(ev, h)
		default:
			return i
		}
	}
	return n
}

// Events exposes the receive side so a dispatcher can select on it together
// with other wake-up sources. Received events must be passed to Dispatch.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Dispatch runs one event received from Events.
func (c *Channel) Dispatch(ev Event, h Handler) {
	c.dispatch(ev, h)
}

func (c *Channel) dispatch(ev Event, h Handler) {
	if ev.Kind == KindCall {
		if ev.Fn != nil {
			ev.Fn()
		}
		return
	}
	if h != nil {
		h(ev)
	}
}

// Close rejects further posts. Pending events stay dispatchable.
func (c *Channel) Close() {
	c.closed.Store(true)
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Len returns the number of pending events.
func (c *Channel) Len() int { return len(c.events) }

// Cap returns the channel capacity.
func (c *Channel) Cap() int { return cap(c.events) }

// Dropped returns how many events were dropped because the channel was full.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Posted returns how many events were accepted.
func (c *Channel) Posted() uint64 { return c.posted.Load() }
