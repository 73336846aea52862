package mqtt

import "github.com/rs/zerolog"

// bufferedMsg is a message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// superseded reports whether a newer message on the same topic makes m
// worthless. Only state snapshots are; lifecycle events all matter.
func (m bufferedMsg) superseded() bool {
	return m.topic == Topic
}

// outbox queues messages while the broker is unreachable. A new state
// snapshot replaces the queued one, so telemetry never crowds out
// lifecycle events. Past capacity the oldest message is dropped.
// The caller synchronizes.
type outbox struct {
	msgs    []bufferedMsg
	limit   int
	dropped int
	warned  bool
	log     zerolog.Logger
}

func newOutbox(limit int, logger zerolog.Logger) *outbox {
	if limit <= 0 {
		limit = 1
	}
	return &outbox{msgs: make([]bufferedMsg, 0, limit), limit: limit, log: logger}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.superseded() {
		for i := range o.msgs {
			if o.msgs[i].topic == msg.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) == o.limit {
		o.dropped++
		if !o.warned {
			o.warned = true
			o.log.Warn().Int("capacity", o.limit).Str("topic", o.msgs[0].topic).Msg("outbox full, dropping oldest")
		}
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.limit)
	if o.dropped > 0 {
		o.log.Info().Int("dropped", o.dropped).Msg("outbox drained after overflow")
	}
	o.dropped = 0
	o.warned = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
