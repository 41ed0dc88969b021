// Package session runs game sessions for one community at a time and keeps
// the process-wide registry of those per-community managers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/chat"
	"github.com/cory-johannsen/gamehost/internal/dice"
	"github.com/cory-johannsen/gamehost/internal/eventbus"
	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/monitor"
	"github.com/cory-johannsen/gamehost/internal/observability"
	"github.com/cory-johannsen/gamehost/internal/plugin"
)

var (
	// ErrSessionAlreadyRunning is returned when the room already hosts a session.
	ErrSessionAlreadyRunning = errors.New("a game is already running in this room")
	// ErrInvalidReference is returned when the requested game is not in the library.
	ErrInvalidReference = errors.New("no game with that reference")
	// ErrManagerClosed is returned by every operation after Close.
	ErrManagerClosed = errors.New("session manager closed")
)

// TicksPerMinute is the number of second events between minute events.
const TicksPerMinute = 60

// State is a manager's position in its idle state machine.
type State int

const (
	// StateIdle means no sessions and the idle clock is running.
	StateIdle State = iota
	// StateActive means at least one session is running.
	StateActive
	// StateDead means the idle timeout elapsed and the tick loop has stopped.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock returns the current time.
type Clock func() time.Time

// TickSource starts a ticker with period d and returns its channel and a stop func.
type TickSource func(d time.Duration) (<-chan time.Time, func())

// TickerSource is the TickSource backed by time.NewTicker.
func TickerSource(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Archiver receives the final stats of every ended session.
type Archiver interface {
	Archive(ctx context.Context, stats game.Stats) error
}

// Config holds the timing and rendering settings shared by all managers.
type Config struct {
	IdleTimeout  time.Duration
	TickInterval time.Duration
	ScreenSize   int
}

// Options configures a Manager. Catalog, Platform and Logger are required.
type Options struct {
	Community string
	Catalog   *plugin.Catalog
	Platform  chat.Platform
	Config    Config
	Logger    *zap.Logger
	Dice      *dice.Roller
	// Clock defaults to time.Now.
	Clock Clock
	// Ticks defaults to TickerSource.
	Ticks    TickSource
	Archiver Archiver
	Metrics  *observability.Metrics
}

type running struct {
	sess   *game.Session
	second eventbus.Handle
	minute eventbus.Handle
}

// Manager owns every session of one community, the community's event bus and
// the tick loop that drives it.
//
// Invariant: dead is only true while sessions has been empty for at least
// IdleTimeout. The session map, idle clock and dead flag change only under mu.
type Manager struct {
	community string
	catalog   *plugin.Catalog
	platform  chat.Platform
	cfg       Config
	logger    *zap.Logger
	dice      *dice.Roller
	clock     Clock
	ticks     TickSource
	archiver  Archiver
	metrics   *observability.Metrics
	bus       *eventbus.Bus

	mu        sync.Mutex
	sessions  map[string]*running
	idleSince time.Time
	dead      bool
	closed    bool
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
}

// NewManager creates a manager and starts its tick loop.
//
// Precondition: opts.Catalog, opts.Platform and opts.Logger must be non-nil;
// opts.Config.TickInterval > 0.
// Postcondition: The manager is Idle with its idle clock started.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Ticks == nil {
		opts.Ticks = TickerSource
	}
	if opts.Dice == nil {
		opts.Dice = dice.NewRoller(dice.NewCryptoSource(), opts.Logger)
	}
	if opts.Config.ScreenSize <= 0 {
		opts.Config.ScreenSize = 10
	}
	logger := opts.Logger.With(zap.String("community", opts.Community))
	m := &Manager{
		community: opts.Community,
		catalog:   opts.Catalog,
		platform:  opts.Platform,
		cfg:       opts.Config,
		logger:    logger,
		dice:      opts.Dice,
		clock:     opts.Clock,
		ticks:     opts.Ticks,
		archiver:  opts.Archiver,
		metrics:   opts.Metrics,
		bus:       eventbus.New(logger),
		sessions:  make(map[string]*running),
	}
	m.mu.Lock()
	m.idleSince = m.clock()
	m.startLoopLocked()
	m.mu.Unlock()
	return m
}

// Community returns the id of the community this manager serves.
func (m *Manager) Community() string { return m.community }

// Bus returns the manager's event bus.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// State reports the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.dead:
		return StateDead
	case len(m.sessions) > 0:
		return StateActive
	default:
		return StateIdle
	}
}

// IdleSince returns when the idle clock started; ok is false while sessions run.
func (m *Manager) IdleSince() (since time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleSince, !m.idleSince.IsZero()
}

// StartGame starts the game ref in roomID on behalf of userID.
//
// Postcondition: On success the session is running, registered for ticks and
// stored under roomID. On ErrSessionAlreadyRunning or ErrInvalidReference no
// session is created. If the start hook fails the session is shut down and
// removed and the hook error is returned.
func (m *Manager) StartGame(ctx context.Context, roomID, userID, ref string) (*game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.dead {
		m.wakeLocked()
	}
	if _, busy := m.sessions[roomID]; busy {
		m.metrics.SessionRejected("already_running")
		return nil, ErrSessionAlreadyRunning
	}
	entry, ok := m.catalog.Lookup(ref)
	if !ok {
		m.metrics.SessionRejected("invalid_reference")
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	sess, err := game.NewSession(game.Params{
		Community: m.community,
		Room:      roomID,
		Host:      userID,
		Ref:       entry.Ref,
		Title:     entry.Title,
		Factory:   entry.Factory,
		Monitor:   monitor.New(m.platform.Room(m.community, roomID), m.cfg.ScreenSize, m.logger),
		Dice:      m.dice,
		Logger:    m.logger,
		Clock:     game.Clock(m.clock),
	})
	if err != nil {
		m.metrics.SessionRejected("construct_failed")
		return nil, err
	}

	m.sessions[roomID] = &running{sess: sess}
	m.idleSince = time.Time{}

	if err := sess.Startup(ctx); err != nil {
		delete(m.sessions, roomID)
		if len(m.sessions) == 0 {
			m.idleSince = m.clock()
		}
		m.metrics.HookFailed("start")
		if shutErr := sess.Shutdown(ctx); shutErr != nil {
			m.logger.Warn("cleanup after failed start", zap.String("room", roomID), zap.Error(shutErr))
		}
		return nil, err
	}

	r := m.sessions[roomID]
	r.second = m.bus.Subscribe(eventbus.EventSecond, m.hook("every_second", sess.OnSecondTick))
	r.minute = m.bus.Subscribe(eventbus.EventMinute, m.hook("every_minute", sess.OnMinuteTick))

	m.metrics.SessionStarted(entry.Ref)
	m.logger.Info("game started",
		zap.String("room", roomID),
		zap.String("user", userID),
		zap.String("ref", entry.Ref),
		zap.String("session_id", sess.ID().String()),
	)
	return sess, nil
}

// EndGame ends the session in roomID. Ending a room without a session is a
// logged no-op.
//
// Postcondition: The session is unsubscribed, shut down and removed.
func (m *Manager) EndGame(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	r, ok := m.sessions[roomID]
	if !ok {
		m.mu.Unlock()
		m.logger.Info("end requested with no game running",
			zap.String("room", roomID),
			zap.String("user", userID),
		)
		return nil
	}
	m.detachLocked(roomID, r)
	m.mu.Unlock()

	m.logger.Info("game ending",
		zap.String("room", roomID),
		zap.String("user", userID),
		zap.String("ref", r.sess.Ref()),
	)
	return m.finish(ctx, r.sess)
}

// RoomMessage forwards a chat line to the room's session, if any.
func (m *Manager) RoomMessage(ctx context.Context, roomID, userID, text string) error {
	sess, ok := m.Session(roomID)
	if !ok {
		return nil
	}
	if err := sess.OnMessage(ctx, userID, text); err != nil {
		m.metrics.HookFailed("message")
		return err
	}
	return nil
}

// JoinGame runs the join hook of the room's session.
func (m *Manager) JoinGame(ctx context.Context, roomID, userID string) (bool, error) {
	sess, ok := m.Session(roomID)
	if !ok {
		return false, nil
	}
	if err := sess.Join(ctx, userID); err != nil {
		m.metrics.HookFailed("join")
		return true, err
	}
	return true, nil
}

// LeaveGame runs the leave hook of the room's session.
func (m *Manager) LeaveGame(ctx context.Context, roomID, userID string) (bool, error) {
	sess, ok := m.Session(roomID)
	if !ok {
		return false, nil
	}
	if err := sess.Leave(ctx, userID); err != nil {
		m.metrics.HookFailed("leave")
		return true, err
	}
	return true, nil
}

// Session returns the session running in roomID.
func (m *Manager) Session(roomID string) (*game.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[roomID]
	if !ok {
		return nil, false
	}
	return r.sess, true
}

// Sessions returns stats for every running session, ordered by room.
func (m *Manager) Sessions() []game.Stats {
	m.mu.Lock()
	out := make([]game.Stats, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.sess.Stats())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Close stops the tick loop and ends every session.
//
// Postcondition: Later operations return ErrManagerClosed. Close is idempotent.
// If ctx expires while a tick hook is still running, Close returns ctx.Err()
// and the sessions are ended as soon as the loop exits.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.stopLoop != nil {
		m.stopLoop()
	}
	done := m.loopDone
	rooms := make([]string, 0, len(m.sessions))
	for room := range m.sessions {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	ending := make([]*game.Session, 0, len(rooms))
	for _, room := range rooms {
		r := m.sessions[room]
		m.detachLocked(room, r)
		ending = append(ending, r.sess)
	}
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			// A tick hook is still running; the detached sessions end once it returns.
			m.logger.Warn("tick loop busy at close, ending sessions in background",
				zap.Int("sessions", len(ending)),
			)
			go func() {
				<-done
				_ = m.finishAll(context.WithoutCancel(ctx), ending)
			}()
			return ctx.Err()
		}
	}
	return m.finishAll(ctx, ending)
}

// finishAll ends detached sessions in order and joins their errors.
func (m *Manager) finishAll(ctx context.Context, ending []*game.Session) error {
	var errs []error
	for _, sess := range ending {
		if err := m.finish(ctx, sess); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("session manager closed", zap.Int("ended", len(ending)))
	return errors.Join(errs...)
}

// closeIfDead closes the manager only if it is still dead, checking and
// marking it closed in one critical section.
//
// Postcondition: Returns true iff the manager was dead and is now closed. A
// manager woken concurrently is left untouched.
func (m *Manager) closeIfDead() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dead || m.closed {
		return false
	}
	m.closed = true
	m.logger.Info("session manager closed", zap.Int("ended", 0))
	return true
}

// detachLocked removes a session from the map and the bus. Caller holds mu.
func (m *Manager) detachLocked(roomID string, r *running) {
	delete(m.sessions, roomID)
	if r.second != (eventbus.Handle{}) {
		m.bus.Unsubscribe(r.second)
		m.bus.Unsubscribe(r.minute)
	}
	if len(m.sessions) == 0 && !m.closed {
		m.idleSince = m.clock()
	}
}

// finish shuts a detached session down and archives it.
func (m *Manager) finish(ctx context.Context, sess *game.Session) error {
	err := sess.Shutdown(ctx)
	if err != nil {
		m.metrics.HookFailed("end")
	}
	m.metrics.SessionEnded(sess.Ref())
	if m.archiver != nil {
		if aerr := m.archiver.Archive(ctx, sess.Stats()); aerr != nil {
			m.logger.Warn("archiving session failed",
				zap.String("session_id", sess.ID().String()),
				zap.Error(aerr),
			)
		}
	}
	return err
}

// hook adapts a session tick method to a bus callback.
func (m *Manager) hook(name string, fn func(context.Context) error) eventbus.Callback {
	return func(ctx context.Context, _ any) error {
		if err := fn(ctx); err != nil {
			m.metrics.HookFailed(name)
			return err
		}
		return nil
	}
}

// wakeLocked restarts a dead manager. Caller holds mu.
func (m *Manager) wakeLocked() {
	m.dead = false
	m.idleSince = m.clock()
	m.startLoopLocked()
	m.metrics.ManagerWoken()
	m.logger.Info("session manager woken")
}

// startLoopLocked launches a tick loop. Caller holds mu.
func (m *Manager) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	tick, stop := m.ticks(m.cfg.TickInterval)
	m.stopLoop = cancel
	m.loopDone = done
	go m.run(ctx, done, tick, stop)
}

// run emits a second event per tick and a minute event every TicksPerMinute
// ticks until the manager goes dead or ctx is cancelled.
func (m *Manager) run(ctx context.Context, done chan struct{}, tick <-chan time.Time, stop func()) {
	defer close(done)
	defer stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}

		if err := m.bus.Emit(ctx, eventbus.EventSecond, nil); err != nil {
			return
		}
		m.metrics.TickEmitted(string(eventbus.EventSecond))
		count++
		if count >= TicksPerMinute {
			count = 0
			if err := m.bus.Emit(ctx, eventbus.EventMinute, nil); err != nil {
				return
			}
			m.metrics.TickEmitted(string(eventbus.EventMinute))
		}

		if m.hibernateIfIdle() {
			return
		}
	}
}

// hibernateIfIdle marks the manager dead when it has had no sessions for
// IdleTimeout. It reports whether the loop must exit.
func (m *Manager) hibernateIfIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return true
	}
	if len(m.sessions) > 0 || m.idleSince.IsZero() {
		return false
	}
	idle := m.clock().Sub(m.idleSince)
	if idle < m.cfg.IdleTimeout {
		return false
	}
	m.dead = true
	m.stopLoop()
	m.stopLoop = nil
	m.metrics.ManagerHibernated()
	m.logger.Info("session manager hibernating", zap.Duration("idle", idle))
	return true
}
