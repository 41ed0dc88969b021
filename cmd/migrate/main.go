// Command migrate manages the Postgres schema behind the session archive, the
// table where the game host records every finished session for !history.
//
// Usage:
//
//	migrate [-config path] [-env file] up [n]
//	migrate [-config path] [-env file] down <n|all>
//	migrate [-config path] [-env file] status
//	migrate [-config path] [-env file] force <version>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/config"
	"github.com/cory-johannsen/gamehost/internal/observability"
	"github.com/cory-johannsen/gamehost/internal/storage/postgres"
)

const (
	actionUp     = "up"
	actionDown   = "down"
	actionStatus = "status"
	actionForce  = "force"
)

// plan is one parsed migrate invocation.
type plan struct {
	action string
	// n is the step count for up and down, or the target version for force.
	n   int
	all bool
}

func (p plan) String() string {
	switch {
	case p.all:
		return p.action + " all"
	case p.action == actionForce, p.n > 0:
		return fmt.Sprintf("%s %d", p.action, p.n)
	default:
		return p.action
	}
}

// parsePlan validates the positional arguments. Rolling back requires an
// explicit count or "all" since it drops archived sessions.
func parsePlan(args []string) (plan, error) {
	if len(args) == 0 {
		return plan{}, errors.New("missing command")
	}
	p := plan{action: args[0]}
	rest := args[1:]
	if len(rest) > 1 {
		return plan{}, fmt.Errorf("%s: too many arguments", p.action)
	}

	switch p.action {
	case actionStatus:
		if len(rest) != 0 {
			return plan{}, errors.New("status takes no arguments")
		}
	case actionUp:
		if len(rest) == 1 {
			n, err := positive(rest[0])
			if err != nil {
				return plan{}, fmt.Errorf("up: %w", err)
			}
			p.n = n
		}
	case actionDown:
		if len(rest) == 0 {
			return plan{}, errors.New(`down: give a step count or "all"`)
		}
		if rest[0] == "all" {
			p.all = true
			break
		}
		n, err := positive(rest[0])
		if err != nil {
			return plan{}, fmt.Errorf("down: %w", err)
		}
		p.n = n
	case actionForce:
		if len(rest) == 0 {
			return plan{}, errors.New("force: missing version")
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil || v < -1 {
			return plan{}, fmt.Errorf("force: invalid version %q", rest[0])
		}
		p.n = v
	default:
		return plan{}, fmt.Errorf("unknown command %q", p.action)
	}
	return p, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid step count %q", s)
	}
	return n, nil
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `Usage: migrate [flags] <command> [arg]

Manages the session archive schema in the database named by the
database section of the configuration.

Commands:
  up [n]            apply all pending migrations, or the next n
  down <n|all>      roll back n migrations, or all of them (drops archived sessions)
  status            print the schema version and a summary of the archive
  force <version>   mark the schema as clean at version after a failed migration

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func main() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "configs/dev.yaml", "path to configuration file")
	envFile := fs.String("env", ".env", "optional dotenv file loaded before the configuration")
	fs.Usage = func() { usage(os.Stderr, fs) }
	_ = fs.Parse(os.Args[1:])

	p, err := parsePlan(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n\n", err)
		fs.Usage()
		os.Exit(2)
	}

	// A missing .env is not an error.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg.Database, p, os.Stdout, logger); err != nil {
		logger.Fatal("session archive migration failed",
			zap.String("command", p.String()),
			zap.String("database", cfg.Database.Name),
			zap.Error(err),
		)
	}
}

// run executes p against the database described by db.
func run(ctx context.Context, db config.DatabaseConfig, p plan, out io.Writer, logger *zap.Logger) error {
	start := time.Now()
	m, err := postgres.NewMigrator(db.DSN())
	if err != nil {
		return err
	}
	defer m.Close()

	switch p.action {
	case actionStatus:
		return status(ctx, db, m, out)
	case actionUp:
		if p.n > 0 {
			err = m.Steps(p.n)
		} else {
			err = m.Up()
		}
	case actionDown:
		if p.all {
			err = m.Down()
		} else {
			err = m.Steps(-p.n)
		}
	case actionForce:
		err = m.Force(p.n)
	}

	unchanged := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !unchanged {
		return fmt.Errorf("%s: %w", p, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	logger.Info("session archive schema migrated",
		zap.String("command", p.String()),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.Bool("changed", !unchanged),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// status reports the schema version and, once the schema is clean, what the
// archive holds.
func status(ctx context.Context, db config.DatabaseConfig, m *migrate.Migrate, out io.Writer) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(out, "schema:  not installed (run: migrate up)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Fprintf(out, "schema:  version %d dirty=%v\n", version, dirty)
	if dirty {
		fmt.Fprintf(out, "archive: unavailable until the schema is repaired (migrate force %d)\n", version)
		return nil
	}

	pool, err := postgres.NewPool(ctx, db)
	if err != nil {
		return err
	}
	defer pool.Close()
	sum, err := postgres.NewSessionArchive(pool.DB()).Summary(ctx)
	if err != nil {
		return err
	}
	writeSummary(out, sum)
	return nil
}

func writeSummary(out io.Writer, sum postgres.ArchiveSummary) {
	if sum.Sessions == 0 {
		fmt.Fprintln(out, "archive: empty")
		return
	}
	fmt.Fprintf(out, "archive: %d sessions from %d communities, last ended %s\n",
		sum.Sessions, sum.Communities, sum.LastEnded.UTC().Format(time.RFC3339))
}
