// Package bot turns chat platform events into session manager operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/access"
	"github.com/cory-johannsen/gamehost/internal/chat"
	"github.com/cory-johannsen/gamehost/internal/command"
	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/plugin"
	"github.com/cory-johannsen/gamehost/internal/session"
)

// Message is one inbound chat line.
type Message struct {
	Community   string
	Room        string
	User        string
	Text        string
	Permissions []string
}

// History returns recently finished sessions of a community, newest first.
type History interface {
	Recent(ctx context.Context, community string, limit int) ([]game.Stats, error)
}

// Options configures a Dispatcher. Whitelist and History may be nil.
type Options struct {
	Prefix    string
	Commands  *command.Registry
	Whitelist *access.Whitelist
	Managers  *session.Registry
	Catalog   *plugin.Catalog
	Platform  chat.Platform
	History   History
	Logger    *zap.Logger
}

type handler func(ctx context.Context, msg Message, cmd *command.Command, args command.ParseResult) error

// Dispatcher routes inbound events. It is safe for concurrent use.
type Dispatcher struct {
	opts     Options
	logger   *zap.Logger
	handlers map[string]handler
}

// NewDispatcher wires the built-in command handlers to opts.Commands.
//
// Precondition: Commands, Managers, Catalog, Platform and Logger must be non-nil.
// Postcondition: Manifest commands without a handler are logged and ignored.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{opts: opts, logger: opts.Logger}
	d.handlers = map[string]handler{
		"play":    d.play,
		"end":     d.end,
		"join":    d.join,
		"leave":   d.leave,
		"games":   d.games,
		"status":  d.status,
		"history": d.history,
		"help":    d.help,
	}
	for _, cmd := range opts.Commands.Commands() {
		if _, ok := d.handlers[cmd.Name]; !ok {
			d.logger.Warn("command has no handler; ignoring", zap.String("command", cmd.Name))
		}
	}
	return d
}

// OnReady records that the platform connection is up.
func (d *Dispatcher) OnReady(context.Context) {
	d.logger.Info("platform ready",
		zap.Int("commands", len(d.opts.Commands.Commands())),
		zap.Int("games", d.opts.Catalog.Len()),
		zap.Strings("whitelist", d.opts.Whitelist.IDs()),
	)
}

// Accepts reports whether lines from community are handled, per the whitelist.
func (d *Dispatcher) Accepts(community string) bool {
	return d.opts.Whitelist.Allows(community)
}

// OnMessage handles one chat line. Recoverable failures are reported to the
// room and not returned.
func (d *Dispatcher) OnMessage(ctx context.Context, msg Message) error {
	if !d.Accepts(msg.Community) {
		d.logger.Debug("ignoring message from community not on whitelist", zap.String("community", msg.Community))
		return nil
	}

	parsed, ok := command.Parse(d.opts.Prefix, msg.Text)
	var cmd *command.Command
	if ok {
		cmd, ok = d.opts.Commands.Resolve(parsed.Command)
	}
	if !ok {
		return d.forward(ctx, msg)
	}

	h, ok := d.handlers[cmd.Name]
	if !ok {
		return d.forward(ctx, msg)
	}
	if cmd.Permission != "" && !slices.Contains(msg.Permissions, cmd.Permission) {
		return d.reply(ctx, msg, fmt.Sprintf("You need the %q permission to use %s%s.", cmd.Permission, d.opts.Prefix, cmd.Name))
	}

	if err := h(ctx, msg, cmd, parsed); err != nil {
		d.logger.Info("command failed",
			zap.String("community", msg.Community),
			zap.String("room", msg.Room),
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
		return d.reply(ctx, msg, d.describe(err))
	}
	return nil
}

// forward hands non-command text to the room's session. It never creates a manager.
func (d *Dispatcher) forward(ctx context.Context, msg Message) error {
	m, ok := d.opts.Managers.Lookup(msg.Community)
	if !ok {
		return nil
	}
	if err := m.RoomMessage(ctx, msg.Room, msg.User, msg.Text); err != nil {
		d.logger.Warn("message hook failed",
			zap.String("community", msg.Community),
			zap.String("room", msg.Room),
			zap.Error(err),
		)
	}
	return nil
}

func (d *Dispatcher) describe(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionAlreadyRunning):
		return fmt.Sprintf("A game is already running here. Use %send to stop it first.", d.opts.Prefix)
	case errors.Is(err, session.ErrInvalidReference):
		return fmt.Sprintf("I don't know that game. Use %sgames to see what's available.", d.opts.Prefix)
	case errors.Is(err, errUsage):
		return err.Error()
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg Message, text string) error {
	if _, err := d.opts.Platform.Room(msg.Community, msg.Room).Send(ctx, text); err != nil {
		return fmt.Errorf("replying in %s/%s: %w", msg.Community, msg.Room, err)
	}
	return nil
}

var errUsage = errors.New("usage")

func usageError(cmd *command.Command, prefix string) error {
	usage := cmd.Usage
	if usage == "" {
		usage = cmd.Name
	}
	return fmt.Errorf("%w: %s%s", errUsage, prefix, usage)
}

func (d *Dispatcher) play(ctx context.Context, msg Message, cmd *command.Command, args command.ParseResult) error {
	if len(args.Args) == 0 {
		return usageError(cmd, d.opts.Prefix)
	}
	ref := args.Args[0]
	_, err := d.opts.Managers.Manager(msg.Community).StartGame(ctx, msg.Room, msg.User, ref)
	if errors.Is(err, session.ErrManagerClosed) {
		// The manager was pruned between lookup and start; a fresh one is created.
		_, err = d.opts.Managers.Manager(msg.Community).StartGame(ctx, msg.Room, msg.User, ref)
	}
	return err
}

func (d *Dispatcher) end(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	m, ok := d.opts.Managers.Lookup(msg.Community)
	if ok {
		if _, running := m.Session(msg.Room); running {
			return m.EndGame(ctx, msg.Room, msg.User)
		}
	}
	return d.reply(ctx, msg, "No game is running here.")
}

func (d *Dispatcher) join(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	return d.membership(ctx, msg, (*session.Manager).JoinGame)
}

func (d *Dispatcher) leave(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	return d.membership(ctx, msg, (*session.Manager).LeaveGame)
}

func (d *Dispatcher) membership(ctx context.Context, msg Message, op func(*session.Manager, context.Context, string, string) (bool, error)) error {
	m, ok := d.opts.Managers.Lookup(msg.Community)
	if !ok {
		return d.reply(ctx, msg, "No game is running here.")
	}
	found, err := op(m, ctx, msg.Room, msg.User)
	if err != nil {
		return err
	}
	if !found {
		return d.reply(ctx, msg, "No game is running here.")
	}
	return nil
}

func (d *Dispatcher) games(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	entries := d.opts.Catalog.Entries()
	if len(entries) == 0 {
		return d.reply(ctx, msg, "No games are installed.")
	}
	var b strings.Builder
	b.WriteString("Available games:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n`%s`: %s", e.Ref, e.Title)
	}
	fmt.Fprintf(&b, "\nStart one with %splay <game>.", d.opts.Prefix)
	return d.reply(ctx, msg, b.String())
}

func (d *Dispatcher) status(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	m, ok := d.opts.Managers.Lookup(msg.Community)
	if !ok {
		return d.reply(ctx, msg, "No game is running here.")
	}
	sess, ok := m.Session(msg.Room)
	if !ok {
		return d.reply(ctx, msg, "No game is running here.")
	}
	st := sess.Stats()
	return d.reply(ctx, msg, fmt.Sprintf("%s (`%s`) started by %s, running %s, idle %s.",
		st.Title, st.Ref, st.Host, st.Total.Truncate(time.Second), st.Idle.Truncate(time.Second)))
}

func (d *Dispatcher) history(ctx context.Context, msg Message, _ *command.Command, _ command.ParseResult) error {
	if d.opts.History == nil {
		return d.reply(ctx, msg, "Game history is not enabled.")
	}
	recent, err := d.opts.History.Recent(ctx, msg.Community, 5)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(recent) == 0 {
		return d.reply(ctx, msg, "No games have finished yet.")
	}
	var b strings.Builder
	b.WriteString("Recent games:")
	for _, st := range recent {
		fmt.Fprintf(&b, "\n%s in <#%s>, %s, ended %s",
			st.Title, st.Room, st.Total.Truncate(time.Second), st.EndedAt.UTC().Format(time.RFC3339))
	}
	return d.reply(ctx, msg, b.String())
}

func (d *Dispatcher) help(ctx context.Context, msg Message, _ *command.Command, args command.ParseResult) error {
	if len(args.Args) > 0 {
		cmd, ok := d.opts.Commands.Resolve(strings.ToLower(args.Args[0]))
		if !ok {
			return d.reply(ctx, msg, fmt.Sprintf("No command named %q.", args.Args[0]))
		}
		text := fmt.Sprintf("%s%s: %s", d.opts.Prefix, cmd.Usage, cmd.Desc)
		if cmd.Usage == "" {
			text = fmt.Sprintf("%s%s: %s", d.opts.Prefix, cmd.Name, cmd.Desc)
		}
		if len(cmd.Aliases) > 0 {
			text += fmt.Sprintf(" (aliases: %s)", strings.Join(cmd.Aliases, ", "))
		}
		return d.reply(ctx, msg, text)
	}
	var b strings.Builder
	b.WriteString("Commands:")
	for _, cmd := range d.opts.Commands.Commands() {
		if _, ok := d.handlers[cmd.Name]; !ok {
			continue
		}
		fmt.Fprintf(&b, "\n%s%s: %s", d.opts.Prefix, cmd.Name, cmd.Desc)
	}
	return d.reply(ctx, msg, b.String())
}
