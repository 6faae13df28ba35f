package main

import (
	"fmt"
	"strings"

	"github.com/shishobooks/libby/pkg/database"
	"github.com/shishobooks/libby/pkg/migrations"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

// withMigrator opens the database without migrating it.
func (e *env) withMigrator(fn func(m *migrate.Migrator) error) error {
	db, err := database.New(e.cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(migrations.NewMigrator(db))
}

func (e *env) dbCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "manage the library database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: func(c *cli.Context) error {
					return e.withMigrator(func(m *migrate.Migrator) error {
						return m.Init(c.Context)
					})
				},
			},
			{
				Name:  "migrate",
				Usage: "migrate database",
				Action: func(c *cli.Context) error {
					return e.withMigrator(func(m *migrate.Migrator) error {
						if err := m.Init(c.Context); err != nil {
							return err
						}
						group, err := m.Migrate(c.Context)
						if err != nil {
							return err
						}
						if group.IsZero() {
							fmt.Fprintf(c.App.Writer, "There are no new migrations to run\n")
							return nil
						}
						fmt.Fprintf(c.App.Writer, "Migrated to %s\n", group)
						return nil
					})
				},
			},
			{
				Name:  "rollback",
				Usage: "rollback the last migration group",
				Action: func(c *cli.Context) error {
					return e.withMigrator(func(m *migrate.Migrator) error {
						group, err := m.Rollback(c.Context)
						if err != nil {
							return err
						}
						if group.IsZero() {
							fmt.Fprintf(c.App.Writer, "There are no groups to roll back\n")
							return nil
						}
						fmt.Fprintf(c.App.Writer, "Rolled back %s\n", group)
						return nil
					})
				},
			},
			{
				Name:      "create",
				Usage:     "create Go migration",
				ArgsUsage: "<name words...>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<name words...>"); err != nil {
						return err
					}
					return e.withMigrator(func(m *migrate.Migrator) error {
						name := strings.Join(c.Args().Slice(), "_")
						mf, err := m.CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "Created migration %s (%s)\n", mf.Name, mf.Path)
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "print migrations status",
				Action: func(c *cli.Context) error {
					return e.withMigrator(func(m *migrate.Migrator) error {
						ms, err := m.MigrationsWithStatus(c.Context)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "Migrations: %s\n", ms)
						fmt.Fprintf(c.App.Writer, "Unapplied migrations: %s\n", ms.Unapplied())
						fmt.Fprintf(c.App.Writer, "Last migration group: %s\n", ms.LastGroup())
						return nil
					})
				},
			},
		},
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
