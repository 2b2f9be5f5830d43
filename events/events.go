// Package events carries pipeline and session outcomes to whoever reacts to
// them (navigation, notifications) without the producers importing those
// packages.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TypeSessionInvalidated Type = "session.invalidated"
	TypeLoggedIn           Type = "session.logged_in"
	TypeLoggedOut          Type = "session.logged_out"
	TypeForbidden          Type = "http.forbidden"
	TypeNotFound           Type = "http.not_found"
	TypeServerError        Type = "http.server_error"
	TypeNotify             Type = "notify"
)

// Event is implemented by every payload published on a Bus.
type Event interface {
	Type() Type
}

// SessionInvalidated is published when a 401 or a failed refresh ends the session.
// ReturnTo is the location the user should come back to after signing in.
type SessionInvalidated struct {
	Reason   string
	ReturnTo string
}

type LoggedIn struct {
	UserID string
}

type LoggedOut struct {
	UserID string
}

type Forbidden struct {
	Path string
}

type NotFound struct {
	Path string
}

type ServerError struct {
	Status  int
	Message string
}

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notify asks the notification sink to show Message.
type Notify struct {
	Level   Level
	Message string
}

func (SessionInvalidated) Type() Type { return TypeSessionInvalidated }
func (LoggedIn) Type() Type           { return TypeLoggedIn }
func (LoggedOut) Type() Type          { return TypeLoggedOut }
func (Forbidden) Type() Type          { return TypeForbidden }
func (NotFound) Type() Type           { return TypeNotFound }
func (ServerError) Type() Type        { return TypeServerError }
func (Notify) Type() Type             { return TypeNotify }

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Envelope records a published event.
type Envelope struct {
	Event     Event
	Timestamp time.Time
}

type subscription struct {
	id    uint64
	types map[Type]struct{}
	fn    Handler
}

// Bus is a synchronous in-process publisher. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for the given types, or every type when none are
// given. The returned function removes the subscription.
func (b *Bus) Subscribe(fn Handler, types ...Type) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to matching subscribers in subscription order. A nil Bus
// drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil {
			targets = append(targets, s.fn)
			continue
		}
		if _, ok := s.types[e.Type()]; ok {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(e)
	}
}

// Recorder collects every event published on a bus. Used by tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

// Record subscribes r to b.
func (r *Recorder) Record(b *Bus) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, Envelope{Event: e, Timestamp: time.Now()})
	})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	for i, env := range r.events {
		out[i] = env.Event
	}
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
