package scripting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"
)

func TestNewSandboxedState_UnsafeLibsNil(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	for _, name := range []string{"os", "io", "debug", "dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandboxedState_SafeLibsAvailable(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := L.DoString(`
		assert(math.sqrt(4) == 2.0)
		assert(string.upper("hello") == "HELLO")
		local t = {}
		table.insert(t, 1)
		assert(#t == 1)
	`)
	assert.NoError(t, err)
}

func TestRunBudgeted_LimitExceeded(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := runBudgeted(context.Background(), L, 10, func() error {
		return L.DoString(`while true do end`)
	})
	assert.Error(t, err)
}

func TestRunBudgeted_FreshBudgetPerCall(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	require.NoError(t, L.DoString(`function small() local x = 0 for i = 1, 10 do x = x + i end return x end`))
	for i := 0; i < 5; i++ {
		err := runBudgeted(context.Background(), L, 200, func() error {
			return L.CallByParam(lua.P{Fn: L.GetGlobal("small"), NRet: 0, Protect: true})
		})
		require.NoError(t, err, "call %d", i)
	}
}

func TestRunBudgeted_ParentCancellation(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runBudgeted(ctx, L, DefaultInstructionLimit, func() error {
		return L.DoString(`local x = 1 for i = 1, 100 do x = x + 1 end`)
	})
	assert.Error(t, err)
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(rt, "limit")
		L := NewSandboxedState()
		defer L.Close()
		err := runBudgeted(context.Background(), L, limit, func() error {
			return L.DoString(`while true do end`)
		})
		if err == nil {
			rt.Fatalf("expected error with limit=%d", limit)
		}
	})
}
