// Package notify is the single-slot notification sink shown by the shell.
// A new notification replaces the current one, and each dismisses itself
// after its duration.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/citycard-gateway/events"
)

const DefaultDuration = 3 * time.Second

type Notification struct {
	ID        string        `json:"id"`
	Level     events.Level  `json:"type"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

type Sink struct {
	mu       sync.Mutex
	current  *Notification
	timer    *time.Timer
	duration time.Duration
	onChange func(*Notification)
	logger   zerolog.Logger
}

type Option func(*Sink)

func WithDuration(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.duration = d
		}
	}
}

// WithOnChange registers fn to run whenever the slot changes. fn receives nil
// when the slot is cleared. It runs without the sink lock held.
func WithOnChange(fn func(*Notification)) Option {
	return func(s *Sink) { s.onChange = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

func New(opts ...Option) *Sink {
	s := &Sink{duration: DefaultDuration, logger: log.Logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Attach shows every Notify event published on bus.
func (s *Sink) Attach(bus *events.Bus) (unsubscribe func()) {
	return bus.Subscribe(func(e events.Event) {
		if n, ok := e.(events.Notify); ok {
			s.Show(n.Level, n.Message, 0)
		}
	}, events.TypeNotify)
}

// Show replaces the current notification. A zero duration uses the sink default.
func (s *Sink) Show(level events.Level, message string, duration time.Duration) *Notification {
	if level == "" {
		level = events.LevelInfo
	}
	if duration <= 0 {
		duration = s.duration
	}
	n := &Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		Duration:  duration,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.current = n
	s.timer = time.AfterFunc(duration, func() { s.expire(n.ID) })
	onChange := s.onChange
	s.mu.Unlock()

	s.logger.Debug().Str("level", string(level)).Str("id", n.ID).Msg(message)
	if onChange != nil {
		onChange(n)
	}
	return n
}

func (s *Sink) Success(message string) *Notification {
	return s.Show(events.LevelSuccess, message, 0)
}

func (s *Sink) Error(message string) *Notification {
	return s.Show(events.LevelError, message, 0)
}

func (s *Sink) Warning(message string) *Notification {
	return s.Show(events.LevelWarning, message, 0)
}

func (s *Sink) Info(message string) *Notification {
	return s.Show(events.LevelInfo, message, 0)
}

// Current returns a copy of the notification on display, or nil.
func (s *Sink) Current() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

func (s *Sink) Clear() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	had := s.current != nil
	s.current = nil
	onChange := s.onChange
	s.mu.Unlock()

	if had && onChange != nil {
		onChange(nil)
	}
}

// Close stops the pending dismiss timer.
func (s *Sink) Close() {
	s.Clear()
}

// expire clears the slot only if id is still the notification on display, so
// an older timer never dismisses a newer notification.
func (s *Sink) expire(id string) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.timer = nil
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(nil)
	}
}
