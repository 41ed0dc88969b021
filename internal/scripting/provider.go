package scripting

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/plugin"
)

// Provider resolves ".lua" game modules for the plugin loader.
type Provider struct {
	limit  int
	logger *zap.Logger
}

// NewProvider creates a Lua provider.
//
// Precondition: logger must be non-nil; instructionLimit <= 0 selects DefaultInstructionLimit.
func NewProvider(logger *zap.Logger, instructionLimit int) *Provider {
	if instructionLimit <= 0 {
		instructionLimit = DefaultInstructionLimit
	}
	return &Provider{limit: instructionLimit, logger: logger}
}

func (p *Provider) Handles(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".lua")
}

// Resolve compiles the script once and checks, in a throwaway VM, that it
// defines class as a global table.
//
// Postcondition: The returned factory builds a fresh VM per session from the
// compiled chunk; the file is not read again.
func (p *Provider) Resolve(path, class string) (game.Factory, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", plugin.ErrModulePathNotFound, path, err)
	}
	chunk, err := parse.Parse(bytes.NewReader(src), path)
	if err != nil {
		return nil, fmt.Errorf("scripting: parsing %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("scripting: compiling %s: %w", path, err)
	}

	trial := &luaModule{L: NewSandboxedState(), limit: p.limit, logger: p.logger}
	defer trial.L.Close()
	trial.installAPI()
	if _, err := trial.loadClass(proto, class); err != nil {
		return nil, fmt.Errorf("scripting: %s: %w", path, err)
	}

	return func(env game.Env) (game.Module, error) {
		return p.instantiate(proto, path, class, env)
	}, nil
}

func (p *Provider) instantiate(proto *lua.FunctionProto, path, class string, env game.Env) (game.Module, error) {
	logger := p.logger
	if env.Logger != nil {
		logger = env.Logger
	}
	m := &luaModule{
		L:      NewSandboxedState(),
		env:    env,
		limit:  p.limit,
		logger: logger.With(zap.String("script", filepath.Base(path))),
	}
	m.installAPI()

	cls, err := m.loadClass(proto, class)
	if err != nil {
		m.L.Close()
		return nil, fmt.Errorf("scripting: %s: %w", path, err)
	}
	self, err := m.newInstance(cls)
	if err != nil {
		m.L.Close()
		return nil, fmt.Errorf("scripting: %s: constructing %s: %w", path, class, err)
	}
	m.self = self
	return m, nil
}

// loadClass runs the chunk and returns the class table.
func (m *luaModule) loadClass(proto *lua.FunctionProto, class string) (*lua.LTable, error) {
	err := runBudgeted(context.Background(), m.L, m.limit, func() error {
		m.L.Push(m.L.NewFunctionFromProto(proto))
		return m.L.PCall(0, 0, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("running chunk: %w", err)
	}
	cls, ok := m.L.GetGlobal(class).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a global table", plugin.ErrClassNotFound, class)
	}
	return cls, nil
}

// newInstance calls cls.new(cls) when defined, otherwise returns an empty
// table whose metatable indexes cls.
func (m *luaModule) newInstance(cls *lua.LTable) (*lua.LTable, error) {
	ctor, ok := m.L.GetField(cls, "new").(*lua.LFunction)
	if !ok {
		inst := m.L.NewTable()
		mt := m.L.NewTable()
		mt.RawSetString("__index", cls)
		m.L.SetMetatable(inst, mt)
		return inst, nil
	}

	var inst lua.LValue
	err := runBudgeted(context.Background(), m.L, m.limit, func() error {
		if err := m.L.CallByParam(lua.P{Fn: ctor, NRet: 1, Protect: true}, cls); err != nil {
			return err
		}
		inst = m.L.Get(-1)
		m.L.Pop(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	tbl, ok := inst.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("new returned %s, want table", inst.Type())
	}
	return tbl, nil
}
