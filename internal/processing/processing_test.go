package processing

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var nopLog = zerolog.New(io.Discard)

func TestAverageOverWindow(t *testing.T) {
	p := New(4, 16, nil, nopLog)

	for i, v := range []float64{10, 20, 30, 40} {
		p.process(Sample{At: time.Duration(i) * time.Second, Speed: v})
	}
	if got := p.Latest().AverageSpeed; math.Abs(got-25) > 1e-9 {
		t.Errorf("expected average 25, got %v", got)
	}

	// The oldest sample falls out of the window.
	p.process(Sample{Speed: 50})
	got := p.Latest()
	if math.Abs(got.AverageSpeed-35) > 1e-9 {
		t.Errorf("expected average 35 after window slides, got %v", got.AverageSpeed)
	}
	if got.Samples != 5 {
		t.Errorf("expected 5 samples, got %d", got.Samples)
	}
}

func TestLatestBeforeAnySample(t *testing.T) {
	p := New(0, 0, nil, nopLog)
	if got := p.Latest(); got != (ProcessedData{}) {
		t.Errorf("expected zero data, got %+v", got)
	}
	if p.window != DefaultWindow || cap(p.mailbox) != DefaultMailboxSize {
		t.Errorf("defaults not applied: window=%d mailbox=%d", p.window, cap(p.mailbox))
	}
}

func TestSubmitDropsWhenFull(t *testing.T) {
	p := New(10, 2, nil, nopLog)
	for i := 0; i < 2; i++ {
		if err := p.Submit(Sample{Speed: 1}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := p.Submit(Sample{Speed: 1}); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("expected ErrMailboxFull, got %v", err)
	}
	if p.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", p.Dropped())
	}
}

func TestRunDeliversResults(t *testing.T) {
	results := make(chan ProcessedData, 8)
	p := New(10, 8, func(d ProcessedData) { results <- d }, nopLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Submit(Sample{Speed: 30})
	p.Submit(Sample{Speed: 36})

	var last ProcessedData
	for i := 0; i < 2; i++ {
		select {
		case last = <-results:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
	if math.Abs(last.AverageSpeed-33) > 1e-9 {
		t.Errorf("expected average 33, got %v", last.AverageSpeed)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
