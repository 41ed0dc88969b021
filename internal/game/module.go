// Package game defines the lifecycle contract every pluggable game module
// implements and the Session wrapper that drives one module in one room.
package game

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/dice"
	"github.com/cory-johannsen/gamehost/internal/monitor"
)

// Module is a game implementation. Every hook is optional from the author's
// point of view: embed BaseModule and override only what the game needs.
//
// Hooks for one session are never called concurrently.
type Module interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	Join(ctx context.Context, userID string) error
	Leave(ctx context.Context, userID string) error
	Message(ctx context.Context, userID, text string) error
	EverySecond(ctx context.Context) error
	EveryMinute(ctx context.Context) error
}

// BaseModule implements every Module hook as a no-op.
type BaseModule struct{}

func (BaseModule) Start(context.Context) error                   { return nil }
func (BaseModule) End(context.Context) error                     { return nil }
func (BaseModule) Join(context.Context, string) error            { return nil }
func (BaseModule) Leave(context.Context, string) error           { return nil }
func (BaseModule) Message(context.Context, string, string) error { return nil }
func (BaseModule) EverySecond(context.Context) error             { return nil }
func (BaseModule) EveryMinute(context.Context) error             { return nil }

// Clock returns the current time.
type Clock func() time.Time

// Env is everything a module receives at construction.
type Env struct {
	// Monitor is the session's render surface.
	Monitor *monitor.Monitor
	// Room is the chat room the session is bound to.
	Room string
	// Host is the user who started the session.
	Host string
	// Ref is the library reference the module was loaded from.
	Ref    string
	Title  string
	Logger *zap.Logger
	Dice   *dice.Roller
	Clock  Clock
	// Stats reports the owning session's current timing snapshot.
	Stats func() Stats
}

// Factory constructs a fresh module instance for one session.
type Factory func(env Env) (Module, error)
