package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir holds the postgres schema. The SQL uses postgres-only features
// (partial unique indexes, CHECK constraints on jsonb), so sqlite databases
// are built from the gorm models instead.
const DefaultDir = "pkg/migrate/migrations"

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	if dir == "" {
		return nil, errors.New("migrate: dir is required")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("migrate: load %s: %w", dir, err)
	}
	return p, nil
}

// Run executes up, down or status against dir and reports each migration
// touched on out.
func Run(ctx context.Context, db *sql.DB, dir, command string, out io.Writer) error {
	p, err := newProvider(db, dir)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		results, err := p.Up(ctx)
		for _, r := range results {
			fmt.Fprintf(out, "applied %s (%s)\n", r.Source.Path, r.Duration)
		}
		return wrapGoose(command, err)
	case "down":
		r, err := p.Down(ctx)
		if r != nil {
			fmt.Fprintf(out, "reverted %s (%s)\n", r.Source.Path, r.Duration)
		}
		return wrapGoose(command, err)
	case "status":
		statuses, err := p.Status(ctx)
		for _, s := range statuses {
			fmt.Fprintf(out, "%-8s %d %s\n", s.State, s.Source.Version, s.Source.Path)
		}
		return wrapGoose(command, err)
	}
	return fmt.Errorf("migrate: unsupported goose command %q", command)
}

// MigrateToVersion moves the schema up or down to target (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || len(target) != len(versionLayout) {
		return fmt.Errorf("migrate: invalid version %q (want YYYYMMDDHHMMSS)", target)
	}
	p, err := newProvider(db, dir)
	if err != nil {
		return err
	}
	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return wrapGoose("version", err)
	}
	switch {
	case version > current:
		_, err = p.UpTo(ctx, version)
	case version < current:
		_, err = p.DownTo(ctx, version)
	}
	return wrapGoose("version", err)
}

func wrapGoose(command string, err error) error {
	if err == nil || errors.Is(err, goose.ErrNoNextVersion) {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
