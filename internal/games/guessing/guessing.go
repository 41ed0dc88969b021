// Package guessing is a built-in number guessing game.
package guessing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/plugin"
)

const (
	// Module is the builtin module name; manifests reference it as "builtin:guessing".
	Module = "guessing"
	// Class is the class name manifests use for this game.
	Class = "NumberGame"

	low  = 1
	high = 100
)

// Register adds the game to b.
func Register(b *plugin.Builtins) {
	b.Register(Module, Class, New)
}

// Game asks the room to find a secret number between 1 and 100.
type Game struct {
	game.BaseModule
	env game.Env

	mu      sync.Mutex
	target  int
	lo, hi  int
	guesses int
	solved  bool
}

// New is the game.Factory for Game.
//
// Precondition: env.Monitor and env.Dice must be non-nil.
func New(env game.Env) (game.Module, error) {
	if env.Monitor == nil || env.Dice == nil {
		return nil, errors.New("guessing: monitor and dice are required")
	}
	return &Game{env: env, lo: low, hi: high}, nil
}

func (g *Game) Start(ctx context.Context) error {
	g.mu.Lock()
	g.target = g.env.Dice.Between(low, high)
	g.mu.Unlock()
	return g.env.Monitor.Send(ctx, fmt.Sprintf("**%s**: I'm thinking of a number between %d and %d. Type a guess!", g.env.Title, low, high))
}

func (g *Game) Message(ctx context.Context, userID, text string) error {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil
	}

	g.mu.Lock()
	if g.solved {
		g.mu.Unlock()
		return nil
	}
	g.guesses++
	guesses := g.guesses
	var reply string
	switch {
	case n < g.target:
		if n >= g.lo {
			g.lo = n + 1
		}
		reply = fmt.Sprintf("%s guessed %d: higher! (between %d and %d, %d guesses so far)", userID, n, g.lo, g.hi, guesses)
	case n > g.target:
		if n <= g.hi {
			g.hi = n - 1
		}
		reply = fmt.Sprintf("%s guessed %d: lower! (between %d and %d, %d guesses so far)", userID, n, g.lo, g.hi, guesses)
	default:
		g.solved = true
	}
	target := g.target
	g.mu.Unlock()

	if reply != "" {
		return g.env.Monitor.Send(ctx, reply)
	}
	if err := g.env.Monitor.Clean(ctx); err != nil {
		return err
	}
	return g.env.Monitor.SendEndCard(ctx, fmt.Sprintf("%s found %d in %d guesses!", userID, target, guesses))
}

func (g *Game) EveryMinute(ctx context.Context) error {
	g.mu.Lock()
	solved, lo, hi := g.solved, g.lo, g.hi
	g.mu.Unlock()
	if solved {
		return nil
	}
	return g.env.Monitor.SendNote(ctx, fmt.Sprintf("Still waiting... the number is between %d and %d.", lo, hi))
}

func (g *Game) End(ctx context.Context) error {
	g.mu.Lock()
	solved, target := g.solved, g.target
	g.mu.Unlock()
	if solved {
		return nil
	}
	return g.env.Monitor.SendEndCard(ctx, fmt.Sprintf("Game over. The number was %d.", target))
}

// Solved reports whether someone found the number.
func (g *Game) Solved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.solved
}
