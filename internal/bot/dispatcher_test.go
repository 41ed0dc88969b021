package bot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/gamehost/internal/bot"
	"github.com/cory-johannsen/gamehost/internal/chat"
	"github.com/cory-johannsen/gamehost/internal/command"
	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/plugin"
	"github.com/cory-johannsen/gamehost/internal/session"
)

type echoModule struct {
	game.BaseModule
	env game.Env
	mu  sync.Mutex
	log []string
}

func (m *echoModule) Start(ctx context.Context) error {
	return m.env.Monitor.Send(ctx, "echo ready")
}

func (m *echoModule) Message(ctx context.Context, user, text string) error {
	m.mu.Lock()
	m.log = append(m.log, user+":"+text)
	m.mu.Unlock()
	return m.env.Monitor.Send(ctx, "echo: "+text)
}

func (m *echoModule) Join(ctx context.Context, user string) error {
	return m.env.Monitor.SendNote(ctx, user+" joined")
}

type historyStub struct {
	stats []game.Stats
	err   error
}

func (h historyStub) Recent(context.Context, string, int) ([]game.Stats, error) {
	return h.stats, h.err
}

type fixture struct {
	d        *bot.Dispatcher
	mem      *chat.Memory
	managers *session.Registry
}

func newFixture(t *testing.T, mutate func(*bot.Options)) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := chat.NewMemory()
	catalog := plugin.NewCatalog("",
		plugin.LibraryEntry{Ref: "echo", Title: "Echo", Factory: func(env game.Env) (game.Module, error) {
			return &echoModule{env: env}, nil
		}},
		plugin.LibraryEntry{Ref: "TicTacToe", Title: "Tic Tac Toe", Factory: func(env game.Env) (game.Module, error) {
			return &echoModule{env: env}, nil
		}},
	)
	managers := session.NewRegistry(session.Options{
		Catalog:  catalog,
		Platform: mem,
		Config:   session.Config{IdleTimeout: time.Minute, TickInterval: time.Second, ScreenSize: 3},
		Logger:   logger,
		Ticks:    func(time.Duration) (<-chan time.Time, func()) { return nil, func() {} },
	})
	t.Cleanup(func() { _ = managers.Close(context.Background()) })

	cmds, err := command.NewRegistry([]command.Command{
		{Name: "play", Aliases: []string{"p"}, Usage: "play <game>", Desc: "Start a game"},
		{Name: "end", Desc: "End the game", Permission: "manage_games"},
		{Name: "join", Desc: "Join"},
		{Name: "leave", Desc: "Leave"},
		{Name: "games", Desc: "List games"},
		{Name: "status", Desc: "Show status"},
		{Name: "history", Desc: "Recent games"},
		{Name: "help", Aliases: []string{"h"}, Desc: "Show help"},
		{Name: "dance", Desc: "No handler"},
	})
	require.NoError(t, err)

	opts := bot.Options{
		Prefix:   "!",
		Commands: cmds,
		Managers: managers,
		Catalog:  catalog,
		Platform: mem,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	d := bot.NewDispatcher(opts)
	d.OnReady(context.Background())
	return fixture{d: d, mem: mem, managers: managers}
}

func (f fixture) say(t *testing.T, room, text string, perms ...string) {
	t.Helper()
	require.NoError(t, f.d.OnMessage(context.Background(), bot.Message{
		Community: "g1", Room: room, User: "u1", Text: text, Permissions: perms,
	}))
}

func (f fixture) last(room string) string {
	h := f.mem.History("g1", room)
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Content
}

func TestPlayAndChat(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!p echo")
	assert.Equal(t, "echo ready", f.last("r1"))

	f.say(t, "r1", "hello there")
	assert.Equal(t, "echo: hello there", f.last("r1"))

	f.say(t, "r1", "!play echo")
	assert.Contains(t, f.last("r1"), "already running")
}

func TestPlay_RefIsCaseSensitive(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!play TicTacToe")
	assert.Equal(t, "echo ready", f.last("r1"))

	m, ok := f.managers.Lookup("g1")
	require.True(t, ok)
	sess, ok := m.Session("r1")
	require.True(t, ok)
	assert.Equal(t, "TicTacToe", sess.Ref())

	f.say(t, "r2", "!play tictactoe")
	assert.Contains(t, f.last("r2"), "!games")
	_, ok = m.Session("r2")
	assert.False(t, ok)
}

func TestPlayErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!play")
	assert.Equal(t, "usage: !play <game>", f.last("r1"))

	f.say(t, "r1", "!play chess")
	assert.Contains(t, f.last("r1"), "!games")
}

func TestChatWithoutManagerDoesNotCreateOne(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "just chatting")
	f.say(t, "r1", "!unknown thing")
	_, ok := f.managers.Lookup("g1")
	assert.False(t, ok)
	assert.Empty(t, f.mem.History("g1", "r1"))
}

func TestEndRequiresPermission(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!play echo")
	f.say(t, "r1", "!end")
	assert.Contains(t, f.last("r1"), `"manage_games"`)

	f.say(t, "r1", "!end", "manage_games")
	m, ok := f.managers.Lookup("g1")
	require.True(t, ok)
	_, running := m.Session("r1")
	assert.False(t, running)

	f.say(t, "r1", "!end", "manage_games")
	assert.Equal(t, "No game is running here.", f.last("r1"))
}

func TestJoinLeaveStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!join")
	assert.Equal(t, "No game is running here.", f.last("r1"))

	f.say(t, "r1", "!play echo")
	f.say(t, "r1", "!join")
	assert.Equal(t, "u1 joined", f.last("r1"))
	f.say(t, "r1", "!leave")

	f.say(t, "r1", "!status")
	assert.Contains(t, f.last("r1"), "Echo (`echo`) started by u1")
	f.say(t, "r2", "!status")
	assert.Equal(t, "No game is running here.", f.last("r2"))
}

func TestGamesAndHelp(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!games")
	assert.Contains(t, f.last("r1"), "`echo`: Echo")

	f.say(t, "r1", "!help")
	assert.Contains(t, f.last("r1"), "!play: Start a game")
	assert.NotContains(t, f.last("r1"), "dance")

	f.say(t, "r1", "!h play")
	assert.Equal(t, "!play <game>: Start a game (aliases: p)", f.last("r1"))
	f.say(t, "r1", "!help nothing")
	assert.Contains(t, f.last("r1"), "No command named")
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.say(t, "r1", "!history")
	assert.Equal(t, "Game history is not enabled.", f.last("r1"))

	ended := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f = newFixture(t, func(o *bot.Options) {
		o.History = historyStub{stats: []game.Stats{{Title: "Echo", Room: "r9", Total: 90 * time.Second, EndedAt: ended}}}
	})
	f.say(t, "r1", "!history")
	assert.Equal(t, "Recent games:\nEcho in <#r9>, 1m30s, ended 2026-05-01T10:00:00Z", f.last("r1"))

	f = newFixture(t, func(o *bot.Options) { o.History = historyStub{err: errors.New("db down")} })
	f.say(t, "r1", "!history")
	assert.Contains(t, f.last("r1"), "db down")
}

func TestWhitelist(t *testing.T) {
	f := newFixture(t, func(o *bot.Options) {
		o.Whitelist = mustWhitelist(t, "other")
	})
	f.say(t, "r1", "!play echo")
	assert.Empty(t, f.mem.History("g1", "r1"))
	_, ok := f.managers.Lookup("g1")
	assert.False(t, ok)
	assert.False(t, f.d.Accepts("g1"))
	assert.True(t, f.d.Accepts("other"))
}

func TestAccepts_NoWhitelistAllowsAll(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.d.Accepts("anyone"))
}
