package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`ALTER TABLE books ADD COLUMN sort_title TEXT NOT NULL DEFAULT ''`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`ALTER TABLE authors ADD COLUMN sort_name TEXT NOT NULL DEFAULT ''`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Rows recorded before sort keys existed sort by their plain values.
		_, err = db.Exec(`UPDATE books SET sort_title = title WHERE sort_title = ''`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`UPDATE authors SET sort_name = name WHERE sort_name = ''`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_sort_title ON books (sort_title COLLATE NOCASE)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`DROP INDEX IF EXISTS ix_books_sort_title`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`ALTER TABLE authors DROP COLUMN sort_name`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`ALTER TABLE books DROP COLUMN sort_title`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
