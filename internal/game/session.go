package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/dice"
	"github.com/cory-johannsen/gamehost/internal/monitor"
)

// Stats is a point-in-time view of a session used for diagnostics and
// archiving. Zero times mean "not yet".
type Stats struct {
	ID             string
	Community      string
	Room           string
	Host           string
	Ref            string
	Title          string
	StartedAt      time.Time
	EndedAt        time.Time
	LastActivityAt time.Time
	Idle           time.Duration
	Total          time.Duration
}

// Params describes a session to create.
type Params struct {
	Community string
	Room      string
	Host      string
	Ref       string
	// Title must come from the library entry.
	Title   string
	Factory Factory
	Monitor *monitor.Monitor
	Dice    *dice.Roller
	Logger  *zap.Logger
	// Clock defaults to time.Now.
	Clock Clock
}

// Session wraps one module instance. Its shims always run, whether or not the
// module overrides the corresponding hook.
type Session struct {
	id        uuid.UUID
	community string
	room      string
	host      string
	ref       string
	title     string

	module  Module
	monitor *monitor.Monitor
	clock   Clock
	logger  *zap.Logger

	// hookMu serialises module hook calls.
	hookMu sync.Mutex

	mu             sync.Mutex
	startedAt      time.Time
	endedAt        time.Time
	lastActivityAt time.Time
	idle           time.Duration
	total          time.Duration
	ended          bool
}

// NewSession constructs the module through p.Factory.
//
// Precondition: p.Factory, p.Monitor and p.Logger must be non-nil.
// Postcondition: The module is built but not started; on error no session is returned.
func NewSession(p Params) (*Session, error) {
	if p.Factory == nil {
		return nil, fmt.Errorf("game: session for %q has no factory", p.Ref)
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	id := uuid.New()
	s := &Session{
		id:        id,
		community: p.Community,
		room:      p.Room,
		host:      p.Host,
		ref:       p.Ref,
		title:     p.Title,
		monitor:   p.Monitor,
		clock:     clock,
		logger: p.Logger.With(
			zap.String("session_id", id.String()),
			zap.String("room", p.Room),
			zap.String("ref", p.Ref),
		),
	}
	mod, err := p.Factory(Env{
		Monitor: p.Monitor,
		Room:    p.Room,
		Host:    p.Host,
		Ref:     p.Ref,
		Title:   p.Title,
		Logger:  s.logger,
		Dice:    p.Dice,
		Clock:   clock,
		Stats:   s.Stats,
	})
	if err != nil {
		return nil, fmt.Errorf("game: constructing %q: %w", p.Ref, err)
	}
	if mod == nil {
		return nil, fmt.Errorf("game: factory for %q returned no module", p.Ref)
	}
	s.module = mod
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// Room returns the room the session is bound to.
func (s *Session) Room() string { return s.room }

// Ref returns the library reference of the running module.
func (s *Session) Ref() string { return s.ref }

// Title returns the library entry's title.
func (s *Session) Title() string { return s.title }

// Host returns the id of the user who started the session.
func (s *Session) Host() string { return s.host }

// Monitor returns the session's render surface.
func (s *Session) Monitor() *monitor.Monitor { return s.monitor }

// Startup stamps startedAt and runs the start hook.
func (s *Session) Startup(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.clock()
	s.mu.Unlock()
	return s.invoke("start", func() error { return s.module.Start(ctx) })
}

// Shutdown stamps endedAt, runs the end hook and releases the monitor.
//
// Postcondition: The monitor is released even when the end hook fails. A
// second call is a no-op.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.endedAt = s.clock()
	s.mu.Unlock()

	hookErr := s.invoke("end", func() error { return s.module.End(ctx) })
	var releaseErr error
	if err := s.monitor.Release(ctx); err != nil {
		releaseErr = fmt.Errorf("game: releasing monitor: %w", err)
	}
	return errors.Join(hookErr, releaseErr)
}

// OnMessage stamps lastActivityAt and runs the message hook.
func (s *Session) OnMessage(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.lastActivityAt = s.clock()
	s.mu.Unlock()
	return s.invoke("message", func() error { return s.module.Message(ctx, userID, text) })
}

// Join runs the join hook.
func (s *Session) Join(ctx context.Context, userID string) error {
	if s.isEnded() {
		return nil
	}
	return s.invoke("join", func() error { return s.module.Join(ctx, userID) })
}

// Leave runs the leave hook.
func (s *Session) Leave(ctx context.Context, userID string) error {
	if s.isEnded() {
		return nil
	}
	return s.invoke("leave", func() error { return s.module.Leave(ctx, userID) })
}

// OnSecondTick recomputes the idle and total durations, then runs the
// every_second hook. Ticks delivered after Shutdown are ignored.
func (s *Session) OnSecondTick(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	now := s.clock()
	since := s.lastActivityAt
	if since.IsZero() {
		since = s.startedAt
	}
	s.idle = now.Sub(since)
	s.total = now.Sub(s.startedAt)
	s.mu.Unlock()
	return s.invoke("every_second", func() error { return s.module.EverySecond(ctx) })
}

// OnMinuteTick runs the every_minute hook.
func (s *Session) OnMinuteTick(ctx context.Context) error {
	if s.isEnded() {
		return nil
	}
	return s.invoke("every_minute", func() error { return s.module.EveryMinute(ctx) })
}

// Stats returns the session's current timing snapshot.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:             s.id.String(),
		Community:      s.community,
		Room:           s.room,
		Host:           s.host,
		Ref:            s.ref,
		Title:          s.title,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		LastActivityAt: s.lastActivityAt,
		Idle:           s.idle,
		Total:          s.total,
	}
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// invoke runs one hook under hookMu, converting a panic into an error.
func (s *Session) invoke(hook string, fn func() error) (err error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("game: %s hook of %q panicked: %v", hook, s.ref, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("game: %s hook of %q: %w", hook, s.ref, err)
	}
	return nil
}
