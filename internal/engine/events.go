package engine

// EventKind names what changed.
type EventKind string

const (
	EventRegistryChanged  EventKind = "registry_changed"
	EventRefreshed        EventKind = "refreshed"
	EventStatusChanged    EventKind = "status_changed"
	EventOverridesChanged EventKind = "overrides_changed"
)

// Event is delivered to subscribers after a change.
type Event struct {
	Kind   EventKind `json:"kind"`
	ToolID string    `json:"toolId,omitempty"`
}

// Subscribe registers fn to be called after every change. Callbacks run on
// the goroutine that made the change and must not block. The returned func
// unsubscribes.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) notify(ev Event) {
	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
