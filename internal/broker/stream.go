package broker

import "sync"

// TerminalEvent is delivered exactly once per subscribed request.
type TerminalEvent struct {
	RequestID string
	Content   string
	Err       error
}

// subscription is the single callback pair registered for a request.
type subscription struct {
	onChunk    func(string)
	onTerminal func(TerminalEvent)
}

// streamBroker routes subprocess output to at most one subscriber per
// request id. Chunks are delivered in production order; the terminal event
// fires exactly once, after which further publishes are no-ops.
type streamBroker struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

func newStreamBroker() *streamBroker {
	return &streamBroker{subs: make(map[string]*subscription)}
}

// subscribe registers the callback pair for id and reports whether it did.
// A second subscribe for a live id is ignored and returns false; the caller
// must not tear down a subscription it did not register.
func (s *streamBroker) subscribe(id string, onChunk func(string), onTerminal func(TerminalEvent)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; exists {
		return false
	}
	s.subs[id] = &subscription{onChunk: onChunk, onTerminal: onTerminal}
	return true
}

// publish delivers one chunk to the subscriber for id, if any. Chunks for a
// single request are always published from that request's executor
// goroutine, which preserves production order.
func (s *streamBroker) publish(id string, chunk string) {
	s.mu.Lock()
	sub := s.subs[id]
	s.mu.Unlock()
	if sub != nil && sub.onChunk != nil {
		sub.onChunk(chunk)
	}
}

// terminate unregisters the subscription for id and delivers the terminal
// event. The unregister-before-deliver order makes the terminal exactly-once
// and turns any late publish into a no-op.
func (s *streamBroker) terminate(id string, ev TerminalEvent) {
	s.mu.Lock()
	sub := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if sub != nil && sub.onTerminal != nil {
		sub.onTerminal(ev)
	}
}
