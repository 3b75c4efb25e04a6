package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

type command struct {
	needsDB bool
	run     func(ctx context.Context, env *runEnv) error
}

type runEnv struct {
	cfg    *config.Config
	logg   *logger.Logger
	opts   options
	client *db.Client
	sqlDB  *sql.DB
}

var commands = map[string]command{
	"create": {run: func(_ context.Context, env *runEnv) error {
		if env.opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(env.opts.dir, env.opts.name)
		if err == nil {
			fmt.Println("created migration:", path)
		}
		return err
	}},
	"validate": {run: func(_ context.Context, env *runEnv) error {
		if err := migrate.ValidateDir(env.opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}},
	"up":     {needsDB: true, run: upCommand},
	"down":   {needsDB: true, run: gooseCommand("down")},
	"status": {needsDB: true, run: gooseCommand("status")},
	"version": {needsDB: true, run: func(ctx context.Context, env *runEnv) error {
		if env.opts.version == "" {
			return errors.New("missing -version")
		}
		return migrate.MigrateToVersion(ctx, env.sqlDB, env.opts.dir, env.opts.version)
	}},
	"seed": {needsDB: true, run: seedCommand},
}

func main() {
	cmdName := flag.String("cmd", "up", "one of: "+strings.Join(commandNames(), "|"))
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	_ = godotenv.Load()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmdName,
		"driver": cfg.DB.Driver,
	})

	cmd, ok := commands[*cmdName]
	if !ok {
		logg.Error(ctx, "unknown migrate command", fmt.Errorf("%q is not one of %v", *cmdName, commandNames()))
		os.Exit(2)
	}

	env := &runEnv{cfg: cfg, logg: logg, opts: opts}
	if cmd.needsDB {
		env.client, err = db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			os.Exit(1)
		}
		defer env.client.Close()
		if env.sqlDB, err = env.client.DB().DB(); err != nil {
			logg.Error(ctx, "failed to open sql database", err)
			os.Exit(1)
		}
	}

	if err := cmd.run(ctx, env); err != nil {
		logg.Error(ctx, "migrate command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate command finished")
}

// upCommand builds SQLite schemas from the models; the goose files are
// postgres only.
func upCommand(ctx context.Context, env *runEnv) error {
	if env.cfg.DB.Driver == db.DriverSQLite {
		return migrate.AutoMigrateModels(ctx, env.client)
	}
	return migrate.Run(ctx, env.sqlDB, env.opts.dir, "up", os.Stdout)
}

func gooseCommand(name string) func(context.Context, *runEnv) error {
	return func(ctx context.Context, env *runEnv) error {
		if env.cfg.DB.Driver == db.DriverSQLite {
			return fmt.Errorf("goose %s is not supported on sqlite", name)
		}
		return migrate.Run(ctx, env.sqlDB, env.opts.dir, name, os.Stdout)
	}
}

// seedCommand loads the demo catalog. It refuses to touch production data.
func seedCommand(ctx context.Context, env *runEnv) error {
	if env.cfg.App.IsProd() {
		return errors.New("seed is disabled in production")
	}
	currency, err := enums.ParseCurrency(env.cfg.Payments.Currency)
	if err != nil {
		return err
	}
	created, err := migrate.SeedCatalog(ctx, env.client, currency)
	if err != nil {
		return err
	}
	env.logg.Info(env.logg.WithField(ctx, "variants", created), "demo catalog seeded")
	return nil
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
