package events

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events during a staged operation so they can be published
// only after the operation's state changes commit. A failed operation drops
// the buffer along with the staged writes.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.events = append(b.events, ev)
}

// Drain returns the buffered events and clears the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	drained := b.events
	b.events = nil
	return drained
}

// Len reports how many events are waiting to be drained.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.events)
}
