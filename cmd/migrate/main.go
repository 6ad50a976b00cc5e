// Command migrate manages the goose schema migrations.
//
//	migrate up|down|status
//	migrate to -version 20260901120500
//	migrate create -name add_work_tags [-dir pkg/migrate/migrations]
//	migrate validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/migrate"
)

const usage = "usage: migrate up|down|status|to|create|validate [flags]"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	dir := fs.String("dir", migrate.DefaultDir, "migrations base directory (create)")
	name := fs.String("name", "", "migration name (create)")
	version := fs.String("version", "", "target version YYYYMMDDHHMMSS (to)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "create":
		if *name == "" {
			return errors.New("-name is required")
		}
		paths, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", strings.Join(paths, " "))
		return nil
	case "validate":
		return validateEmbedded()
	case "up", "down", "status", "to":
	default:
		return fmt.Errorf("unknown command; %s", usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"cmd": command, "driver": cfg.DB.Driver})

	client, err := db.New(ctx, cfg.DB, db.RetryPolicy{Attempts: 1}, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}

	if command == "to" {
		if *version == "" {
			return errors.New("-version is required")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, cfg.DB.Driver, *version)
	} else {
		err = migrate.Run(ctx, sqlDB, cfg.DB.Driver, command)
	}
	if err != nil {
		return err
	}
	logg.Info(ctx, "migrate finished")
	return nil
}

// validateEmbedded needs no database: it only checks the shipped files.
func validateEmbedded() error {
	for _, driver := range []string{config.DriverSQLite, config.DriverPostgres} {
		dir, err := migrate.Dir(driver)
		if err != nil {
			return err
		}
		if err := migrate.ValidateDir(migrate.FS(), dir); err != nil {
			return fmt.Errorf("%s: %w", driver, err)
		}
	}
	fmt.Println("migrations valid")
	return nil
}
