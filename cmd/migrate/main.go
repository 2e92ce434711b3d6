package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

const serviceKind = "migrate"

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|to|status|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; empty uses the embedded set (create and validate default to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	_ = godotenv.Load()

	if handled, err := fileCommand(opts); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	cfg, err := config.Load()
	exitOnError(bootCtx, logg, "failed to load config", err)
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(bootCtx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd})

	if cfg.DB.IsSQLite() {
		exitOnError(ctx, logg, "unsupported database", errors.New("goose migrations target postgres; sqlite is auto-migrated in dev"))
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOnError(ctx, logg, "failed to bootstrap database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	exitOnError(ctx, logg, "failed to extract sql.DB", err)
	runner, err := migrate.NewPostgresRunner(sqlDB, migrate.Source(opts.dir))
	exitOnError(ctx, logg, "failed to load migrations", err)

	if err := dbCommand(ctx, logg, runner, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
}

// fileCommand runs the commands that only touch the filesystem.
func fileCommand(opts options) (bool, error) {
	dir := opts.dir
	if dir == "" {
		dir = migrate.DefaultDir
	}
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return true, errors.New("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return true, err
		}
		fmt.Println("created", path)
		return true, nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return true, err
		}
		fmt.Println("migrations ok")
		return true, nil
	}
	return false, nil
}

func dbCommand(ctx context.Context, logg *logger.Logger, runner *migrate.Runner, opts options) error {
	var (
		steps []migrate.Step
		err   error
	)
	switch opts.cmd {
	case "up":
		steps, err = runner.Up(ctx)
	case "down":
		steps, err = runner.Down(ctx)
	case "to":
		target, perr := migrate.ParseVersion(opts.version)
		if perr != nil {
			return perr
		}
		steps, err = runner.To(ctx, target)
	case "status":
		return logStatus(ctx, logg, runner)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.cmd)
	}
	for _, step := range steps {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"direction":   step.Direction,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migration applied")
	}
	return err
}

func logStatus(ctx context.Context, logg *logger.Logger, runner *migrate.Runner) error {
	current, err := runner.Version(ctx)
	if err != nil {
		return err
	}
	pending, err := runner.Pending(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"version": current,
		"pending": pending,
	}), "migration status")
	return nil
}

func exitOnError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
