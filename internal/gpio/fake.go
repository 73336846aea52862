package gpio

import "sync"

// FakeInput is a test double that delivers presses on demand.
type FakeInput struct {
	mu      sync.Mutex
	handler Handler
	presses map[Button]int
	closed  bool
}

// NewFakeInput creates a FakeInput delivering to h.
func NewFakeInput(h Handler) *FakeInput {
	return &FakeInput{handler: h, presses: make(map[Button]int)}
}

// Press delivers one press of b synchronously. Presses after Close are
// ignored, like a released line.
func (f *FakeInput) Press(b Button) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.presses[b]++
	h := f.handler
	f.mu.Unlock()
	h(b)
}

// Presses returns how many presses of b were delivered.
func (f *FakeInput) Presses(b Button) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presses[b]
}

// Closed reports whether Close was called.
func (f *FakeInput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close stops delivery.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
