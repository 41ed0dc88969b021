// Package monitor renders a game session's state into a single chat message
// that is edited in place while it stays the newest message in its room.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/chat"
)

// ErrReleased is returned by every surface operation after Release.
var ErrReleased = errors.New("monitor: released")

// Monitor owns the live message surface of one game session.
//
// Invariant: at most one create/edit/delete runs at a time, and the
// read-latest, decide, act sequence happens under one lock so no caller acts
// on a handle another caller is about to replace.
type Monitor struct {
	mu       sync.Mutex
	room     chat.Room
	current  chat.MessageID
	released bool

	screen *Screen
	logger *zap.Logger
}

// New creates a Monitor for room with a screenSize×screenSize grid.
//
// Precondition: room and logger must be non-nil; screenSize > 0.
// Postcondition: No message exists until the first send.
func New(room chat.Room, screenSize int, logger *zap.Logger) *Monitor {
	return &Monitor{
		room:   room,
		screen: NewScreen(screenSize),
		logger: logger,
	}
}

// Screen returns the grid rendered by SendGameFrame.
func (m *Monitor) Screen() *Screen { return m.screen }

// Current returns the id of the tracked live message, if any.
func (m *Monitor) Current() (chat.MessageID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

// Send renders content onto the live surface.
func (m *Monitor) Send(ctx context.Context, content string) error {
	return m.publish(ctx, content)
}

// SendGameFrame renders the screen grid inside a code block.
func (m *Monitor) SendGameFrame(ctx context.Context) error {
	return m.publish(ctx, "```\n"+m.screen.String()+"\n```")
}

// SendNote renders a plain text note onto the live surface.
func (m *Monitor) SendNote(ctx context.Context, note string) error {
	return m.publish(ctx, note)
}

// SendEndCard posts a permanent message that the monitor never edits or deletes.
func (m *Monitor) SendEndCard(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	if _, err := m.room.Send(ctx, content); err != nil {
		return fmt.Errorf("monitor: sending end card: %w", err)
	}
	return nil
}

// Clean deletes the live surface if one exists. A message that is already
// gone counts as deleted.
func (m *Monitor) Clean(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	return m.dropCurrent(ctx)
}

// Release deletes the live surface and disables the monitor.
//
// Postcondition: Later calls return ErrReleased. Calling Release twice is a no-op.
func (m *Monitor) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	m.released = true
	return m.dropCurrent(ctx)
}

func (m *Monitor) publish(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}

	if m.current != "" {
		latest, ok, err := m.room.Latest(ctx)
		if err != nil {
			return fmt.Errorf("monitor: reading latest message: %w", err)
		}
		if !ok || latest != m.current {
			// Something else was posted after our surface; move it to the bottom.
			if err := m.dropCurrent(ctx); err != nil {
				return err
			}
		}
	}

	if m.current == "" {
		id, err := m.room.Send(ctx, content)
		if err != nil {
			return fmt.Errorf("monitor: creating surface: %w", err)
		}
		m.current = id
		return nil
	}

	err := m.room.Edit(ctx, m.current, content)
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		m.logger.Debug("monitor: surface vanished before edit",
			zap.String("message", string(m.current)),
		)
		m.current = ""
		id, err := m.room.Send(ctx, content)
		if err != nil {
			return fmt.Errorf("monitor: recreating surface: %w", err)
		}
		m.current = id
		return nil
	case err != nil:
		return fmt.Errorf("monitor: editing surface: %w", err)
	}
	return nil
}

// dropCurrent deletes the tracked message. Caller must hold m.mu.
func (m *Monitor) dropCurrent(ctx context.Context) error {
	if m.current == "" {
		return nil
	}
	err := m.room.Delete(ctx, m.current)
	if err != nil && !errors.Is(err, chat.ErrMessageNotFound) {
		return fmt.Errorf("monitor: deleting surface: %w", err)
	}
	if err != nil {
		m.logger.Debug("monitor: surface already gone",
			zap.String("message", string(m.current)),
		)
	}
	m.current = ""
	return nil
}
