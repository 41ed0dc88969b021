package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Op is the kind of change applied to a room.
type Op string

const (
	OpSend   Op = "send"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Change describes one mutation of room history.
type Change struct {
	Op        Op
	Community string
	Room      string
	ID        MessageID
	// Author is empty for messages sent by the host itself.
	Author  string
	Content string
}

// Message is a stored room message.
type Message struct {
	ID      MessageID
	Author  string
	Content string
}

type roomKey struct {
	community string
	room      string
}

type roomLog struct {
	order []MessageID
	byID  map[MessageID]*Message
}

// DefaultHistoryLimit is the per-room message cap used unless WithHistoryLimit
// overrides it.
const DefaultHistoryLimit = 200

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithHistoryLimit keeps at most n messages per room. Values below 1 are ignored.
func WithHistoryLimit(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.limit = n
		}
	}
}

// Memory is an in-memory Platform. It keeps a bounded window of the live
// history of every room and notifies a listener of each change. All methods
// are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	limit    int
	rooms    map[roomKey]*roomLog
	listener func(Change)
}

// NewMemory creates an empty Memory platform.
//
// Postcondition: Returns a non-nil Memory with no rooms. Each room keeps its
// most recent DefaultHistoryLimit messages unless an option says otherwise.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{limit: DefaultHistoryLimit, rooms: make(map[roomKey]*roomLog)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange installs fn as the change listener, replacing any previous one.
// fn is called after the change is applied and outside the history lock.
func (m *Memory) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Room returns the capability for the given room. Rooms are created lazily.
func (m *Memory) Room(communityID, roomID string) Room {
	return &memoryRoom{mem: m, key: roomKey{community: communityID, room: roomID}}
}

// Post records a message authored by someone other than the host, such as a
// user's chat line delivered by the platform.
//
// Postcondition: The message becomes the latest in the room.
func (m *Memory) Post(communityID, roomID, author, content string) MessageID {
	return m.append(roomKey{community: communityID, room: roomID}, author, content)
}

// History returns the live messages in a room, oldest first.
func (m *Memory) History(communityID, roomID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.rooms[roomKey{community: communityID, room: roomID}]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(log.order))
	for _, id := range log.order {
		out = append(out, *log.byID[id])
	}
	return out
}

// trim drops the oldest messages until at most limit remain. Dropped
// messages are retention, not deletions, so no change is reported.
func (l *roomLog) trim(limit int) {
	drop := len(l.order) - limit
	if drop <= 0 {
		return
	}
	for _, id := range l.order[:drop] {
		delete(l.byID, id)
	}
	n := copy(l.order, l.order[drop:])
	clear(l.order[n:])
	l.order = l.order[:n]
}

func (m *Memory) logFor(key roomKey) *roomLog {
	log, ok := m.rooms[key]
	if !ok {
		log = &roomLog{byID: make(map[MessageID]*Message)}
		m.rooms[key] = log
	}
	return log
}

func (m *Memory) append(key roomKey, author, content string) MessageID {
	id := MessageID(uuid.NewString())

	m.mu.Lock()
	log := m.logFor(key)
	log.order = append(log.order, id)
	log.byID[id] = &Message{ID: id, Author: author, Content: content}
	log.trim(m.limit)
	listener := m.listener
	m.mu.Unlock()

	m.notify(listener, Change{Op: OpSend, Community: key.community, Room: key.room, ID: id, Author: author, Content: content})
	return id
}

func (m *Memory) edit(key roomKey, id MessageID, content string) error {
	m.mu.Lock()
	log := m.logFor(key)
	msg, ok := log.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrMessageNotFound
	}
	msg.Content = content
	listener := m.listener
	m.mu.Unlock()

	m.notify(listener, Change{Op: OpEdit, Community: key.community, Room: key.room, ID: id, Author: msg.Author, Content: content})
	return nil
}

func (m *Memory) remove(key roomKey, id MessageID) error {
	m.mu.Lock()
	log := m.logFor(key)
	if _, ok := log.byID[id]; !ok {
		m.mu.Unlock()
		return ErrMessageNotFound
	}
	delete(log.byID, id)
	for i, existing := range log.order {
		if existing == id {
			log.order = append(log.order[:i], log.order[i+1:]...)
			break
		}
	}
	listener := m.listener
	m.mu.Unlock()

	m.notify(listener, Change{Op: OpDelete, Community: key.community, Room: key.room, ID: id})
	return nil
}

func (m *Memory) latest(key roomKey) (MessageID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.rooms[key]
	if !ok || len(log.order) == 0 {
		return "", false
	}
	return log.order[len(log.order)-1], true
}

func (m *Memory) notify(listener func(Change), c Change) {
	if listener != nil {
		listener(c)
	}
}

type memoryRoom struct {
	mem *Memory
	key roomKey
}

func (r *memoryRoom) Send(ctx context.Context, content string) (MessageID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.mem.append(r.key, "", content), nil
}

func (r *memoryRoom) Edit(ctx context.Context, id MessageID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mem.edit(r.key, id, content)
}

func (r *memoryRoom) Delete(ctx context.Context, id MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mem.remove(r.key, id)
}

func (r *memoryRoom) Latest(ctx context.Context) (MessageID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id, ok := r.mem.latest(r.key)
	return id, ok, nil
}
