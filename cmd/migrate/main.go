package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"modfeed_bot/migrations"
)

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "Manage the feed store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the sqlite database",
				EnvVars: []string{"DATABASE_PATH"},
				Value:   "./data/bot.db",
			},
		},
		Commands: []*cli.Command{
			gooseCmd("up", "Migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }),
			gooseCmd("up-one", "Migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }),
			gooseCmd("down", "Roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }),
			gooseCmd("status", "Show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }),
			gooseCmd("version", "Show current version", func(db *sql.DB) error { return goose.Version(db, ".") }),
			gooseCmd("reset", "Roll back all migrations", func(db *sql.DB) error { return goose.Reset(db, ".") }),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func gooseCmd(name, usage string, run func(db *sql.DB) error) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			db, err := sql.Open("sqlite", c.String("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := migrations.Setup(); err != nil {
				return err
			}
			if err := run(db); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}
