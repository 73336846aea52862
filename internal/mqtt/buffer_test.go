package mqtt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func event(b byte) bufferedMsg {
	return bufferedMsg{topic: TopicSystem, payload: []byte{b}, qos: 1}
}

func state(b byte) bufferedMsg {
	return bufferedMsg{topic: Topic, payload: []byte{b}}
}

func payloads(msgs []bufferedMsg) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.Write(m.payload)
	}
	return sb.String()
}

func TestOutboxEmptyDrain(t *testing.T) {
	o := newOutbox(10, zerolog.Nop())
	if got := o.drain(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxKeepsEventsInOrder(t *testing.T) {
	o := newOutbox(10, zerolog.Nop())
	for _, b := range []byte("abcde") {
		o.push(event(b))
	}
	if o.len() != 5 {
		t.Fatalf("expected 5 queued, got %d", o.len())
	}
	if got := payloads(o.drain()); got != "abcde" {
		t.Errorf("expected abcde, got %q", got)
	}
	if o.len() != 0 || o.drain() != nil {
		t.Error("expected outbox empty after drain")
	}
}

func TestOutboxStateSnapshotsCoalesce(t *testing.T) {
	o := newOutbox(10, zerolog.Nop())
	o.push(state('1'))
	o.push(event('S'))
	o.push(state('2'))
	o.push(event('H'))
	o.push(state('3'))

	got := o.drain()
	if payloads(got) != "SH3" {
		t.Fatalf("expected events then the newest state, got %q", payloads(got))
	}
	if got[2].topic != Topic || got[0].qos != 1 {
		t.Errorf("fields not preserved: %+v", got)
	}
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	o := newOutbox(3, zerolog.Nop())
	for _, b := range []byte("abcdef") {
		o.push(event(b))
	}
	if got := payloads(o.drain()); got != "def" {
		t.Errorf("expected the newest 3, got %q", got)
	}

	// A state snapshot replaces its predecessor before anything is dropped.
	o.push(event('x'))
	o.push(state('1'))
	o.push(event('y'))
	o.push(state('2'))
	if got := payloads(o.drain()); got != "xy2" {
		t.Errorf("expected xy2, got %q", got)
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(2, zerolog.Nop())
	o.push(bufferedMsg{topic: TopicSystem, payload: []byte(`{"test":true}`), qos: 1, retained: true})

	got := o.drain()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != TopicSystem || string(got[0].payload) != `{"test":true}` || got[0].qos != 1 || !got[0].retained {
		t.Errorf("unexpected message: %+v", got[0])
	}
}

func TestOutboxZeroLimit(t *testing.T) {
	o := newOutbox(0, zerolog.Nop())
	o.push(event('a'))
	o.push(event('b'))
	if got := payloads(o.drain()); got != "b" {
		t.Errorf("expected only the newest message, got %q", got)
	}
}

func TestOutboxOverflowWarnsOncePerDrain(t *testing.T) {
	var buf bytes.Buffer
	o := newOutbox(2, zerolog.New(&buf))
	for i := 0; i < 6; i++ {
		o.push(event(byte(i)))
	}
	if n := strings.Count(buf.String(), "outbox full"); n != 1 {
		t.Errorf("expected 1 overflow warning, got %d", n)
	}

	o.drain()
	if !strings.Contains(buf.String(), `"dropped":4`) {
		t.Errorf("expected drop count on drain, got %s", buf.String())
	}
	for i := 0; i < 3; i++ {
		o.push(event(byte(i)))
	}
	if n := strings.Count(buf.String(), "outbox full"); n != 2 {
		t.Errorf("expected a new warning after drain, got %d total", n)
	}
}
