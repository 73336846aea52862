// Package processing turns raw speed samples into averaged data on its own
// goroutine. Producers hand samples over through a bounded mailbox and never
// share the averaging state.
package processing

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrMailboxFull is returned by Submit when the sample was dropped.
var ErrMailboxFull = errors.New("processing: mailbox full")

const (
	// DefaultWindow is the number of samples averaged.
	DefaultWindow = 10
	// DefaultMailboxSize is the processed-data mailbox depth.
	DefaultMailboxSize = 32
)

// Sample is one speed reading taken by the speed task.
type Sample struct {
	At    time.Duration
	Speed float64
}

// ProcessedData is the result published after every sample.
type ProcessedData struct {
	AverageSpeed float64
	Samples      uint64
	At           time.Duration
}

// Processor averages speed samples. Run must be called on exactly one
// goroutine; Submit and Latest are safe from anywhere.
type Processor struct {
	mailbox chan Sample
	window  int
	avg     *movingaverage.MovingAverage
	count   uint64

	latest   atomic.Pointer[ProcessedData]
	dropped  atomic.Uint64
	onResult func(ProcessedData)

	dropLog rate.Sometimes
	log     zerolog.Logger
}

// New creates a processor averaging over window samples with a mailbox of
// mailboxSize. Zero values select the defaults. onResult, if set, runs on the
// processing goroutine for every result.
func New(window, mailboxSize int, onResult func(ProcessedData), logger zerolog.Logger) *Processor {
	if window <= 0 {
		window = DefaultWindow
	}
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	p := &Processor{
		mailbox:  make(chan Sample, mailboxSize),
		window:   window,
		avg:      movingaverage.New(window),
		onResult: onResult,
		dropLog:  rate.Sometimes{First: 1, Interval: time.Second},
		log:      logger.With().Str("component", "processing").Logger(),
	}
	p.latest.Store(&ProcessedData{})
	return p
}

// Submit hands s to the processing goroutine without blocking.
func (p *Processor) Submit(s Sample) error {
	select {
	case p.mailbox <- s:
		return nil
	default:
		n := p.dropped.Add(1)
		p.dropLog.Do(func() {
			p.log.Warn().Uint64("dropped", n).Msg("mailbox full, dropping speed sample")
		})
		return ErrMailboxFull
	}
}

// Run processes samples until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Debug().Int("window", p.window).Msg("processing started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-p.mailbox:
			p.process(s)
		}
	}
}

func (p *Processor) process(s Sample) {
	p.avg.Add(s.Speed)
	p.count++
	data := ProcessedData{
		AverageSpeed: p.avg.Avg(),
		Samples:      p.count,
		At:           s.At,
	}
	p.latest.Store(&data)
	p.log.Debug().
		Float64("speed", s.Speed).
		Float64("average_speed", data.AverageSpeed).
		Msg("processed speed sample")
	if p.onResult != nil {
		p.onResult(data)
	}
}

// Latest returns the most recent result.
func (p *Processor) Latest() ProcessedData {
	return *p.latest.Load()
}

// Dropped returns how many samples were dropped on a full mailbox.
func (p *Processor) Dropped() uint64 {
	return p.dropped.Load()
}
