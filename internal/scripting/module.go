package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/game"
)

// luaModule adapts one Lua class instance to game.Module.
//
// Invariant: L is only touched while mu is held.
type luaModule struct {
	mu     sync.Mutex
	L      *lua.LState
	self   *lua.LTable
	env    game.Env
	limit  int
	logger *zap.Logger
	closed bool

	// ctx is the context of the hook currently running; nil outside hooks.
	ctx context.Context
}

func (m *luaModule) Start(ctx context.Context) error { return m.call(ctx, "start") }

// End runs the end hook and closes the VM.
func (m *luaModule) End(ctx context.Context) error {
	err := m.call(ctx, "end")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.L.Close()
	}
	return err
}

func (m *luaModule) Join(ctx context.Context, userID string) error {
	return m.call(ctx, "join", lua.LString(userID))
}

func (m *luaModule) Leave(ctx context.Context, userID string) error {
	return m.call(ctx, "leave", lua.LString(userID))
}

func (m *luaModule) Message(ctx context.Context, userID, text string) error {
	return m.call(ctx, "message", lua.LString(userID), lua.LString(text))
}

func (m *luaModule) EverySecond(ctx context.Context) error { return m.call(ctx, "every_second") }

func (m *luaModule) EveryMinute(ctx context.Context) error { return m.call(ctx, "every_minute") }

// call invokes self:hook(args...) if the class defines it.
func (m *luaModule) call(ctx context.Context, hook string, args ...lua.LValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	fn, ok := m.L.GetField(m.self, hook).(*lua.LFunction)
	if !ok {
		return nil
	}
	m.ctx = ctx
	defer func() { m.ctx = nil }()
	return runBudgeted(ctx, m.L, m.limit, func() error {
		return m.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, append([]lua.LValue{m.self}, args...)...)
	})
}

var errNotInHook = errors.New("only available inside a hook")

// installAPI defines the monitor and engine globals.
func (m *luaModule) installAPI() {
	L := m.L

	mon := L.NewTable()
	L.SetFuncs(mon, map[string]lua.LGFunction{
		"send": m.surface(func(ctx context.Context, L *lua.LState) error {
			return m.env.Monitor.Send(ctx, L.CheckString(1))
		}),
		"note": m.surface(func(ctx context.Context, L *lua.LState) error {
			return m.env.Monitor.SendNote(ctx, L.CheckString(1))
		}),
		"endcard": m.surface(func(ctx context.Context, L *lua.LState) error {
			return m.env.Monitor.SendEndCard(ctx, L.CheckString(1))
		}),
		"frame": m.surface(func(ctx context.Context, _ *lua.LState) error {
			return m.env.Monitor.SendGameFrame(ctx)
		}),
		"clean": m.surface(func(ctx context.Context, _ *lua.LState) error {
			return m.env.Monitor.Clean(ctx)
		}),
		"set": m.surface(func(_ context.Context, L *lua.LState) error {
			x, y := L.CheckInt(1), L.CheckInt(2)
			return m.env.Monitor.Screen().Set(x-1, y-1, checkRune(L, 3))
		}),
		"fill": m.surface(func(_ context.Context, L *lua.LState) error {
			m.env.Monitor.Screen().Fill(checkRune(L, 1))
			return nil
		}),
		"clear": m.surface(func(context.Context, *lua.LState) error {
			m.env.Monitor.Screen().Clear()
			return nil
		}),
		"get": func(L *lua.LState) int {
			if err := m.requireHook(); err != nil {
				L.RaiseError("monitor.get: %v", err)
				return 0
			}
			ch, ok := m.env.Monitor.Screen().Get(L.CheckInt(1)-1, L.CheckInt(2)-1)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(string(ch)))
			return 1
		},
		"size": func(L *lua.LState) int {
			if err := m.requireHook(); err != nil {
				L.RaiseError("monitor.size: %v", err)
				return 0
			}
			L.Push(lua.LNumber(m.env.Monitor.Screen().Size()))
			return 1
		},
	})
	L.SetGlobal("monitor", mon)

	eng := L.NewTable()
	L.SetFuncs(eng, map[string]lua.LGFunction{
		"roll": func(L *lua.LState) int {
			expr := L.CheckString(1)
			if m.env.Dice == nil {
				L.RaiseError("engine.roll: dice unavailable")
				return 0
			}
			res, err := m.env.Dice.RollExpr(expr)
			if err != nil {
				L.RaiseError("engine.roll: %v", err)
				return 0
			}
			L.Push(lua.LNumber(res.Total()))
			return 1
		},
		"random": func(L *lua.LState) int {
			lo, hi := L.CheckInt(1), L.CheckInt(2)
			if m.env.Dice == nil || lo > hi {
				L.RaiseError("engine.random: invalid range or dice unavailable")
				return 0
			}
			L.Push(lua.LNumber(m.env.Dice.Between(lo, hi)))
			return 1
		},
		"log": func(L *lua.LState) int {
			m.logger.Info("lua", zap.String("msg", L.CheckString(1)))
			return 0
		},
		"elapsed": func(L *lua.LState) int {
			L.Push(lua.LNumber(m.stats().Total.Seconds()))
			return 1
		},
		"idle": func(L *lua.LState) int {
			L.Push(lua.LNumber(m.stats().Idle.Seconds()))
			return 1
		},
		"host": func(L *lua.LState) int {
			L.Push(lua.LString(m.env.Host))
			return 1
		},
		"title": func(L *lua.LState) int {
			L.Push(lua.LString(m.env.Title))
			return 1
		},
	})
	L.SetGlobal("engine", eng)
}

// surface wraps a monitor call so it can only run inside a hook and raises
// its error into Lua.
func (m *luaModule) surface(fn func(ctx context.Context, L *lua.LState) error) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := m.requireHook(); err != nil {
			L.RaiseError("monitor: %v", err)
			return 0
		}
		if err := fn(m.ctx, L); err != nil {
			L.RaiseError("monitor: %v", err)
		}
		return 0
	}
}

func (m *luaModule) requireHook() error {
	if m.ctx == nil || m.env.Monitor == nil {
		return errNotInHook
	}
	return nil
}

func (m *luaModule) stats() game.Stats {
	if m.env.Stats == nil {
		return game.Stats{}
	}
	return m.env.Stats()
}

func checkRune(L *lua.LState, n int) rune {
	s := L.CheckString(n)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) {
		L.ArgError(n, fmt.Sprintf("want a single character, got %q", s))
	}
	return r
}
