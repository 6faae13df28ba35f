// Package testutils sets up the library database for tests.
package testutils

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shishobooks/libby/pkg/migrations"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// NewDB returns a migrated in-memory database that is closed when the test
// completes.
func NewDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a new database
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// CreateBook inserts a book with the given identifiers, keyed by type.
func CreateBook(t *testing.T, db *bun.DB, title string, identifiers map[string]string) *models.Book {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	book := &models.Book{CreatedAt: now, UpdatedAt: now, Title: title, LoanType: models.LoanTypeEBook}
	_, err := db.NewInsert().Model(book).Returning("*").Exec(ctx)
	require.NoError(t, err)

	for typ, value := range identifiers {
		identifier := &models.BookIdentifier{CreatedAt: now, UpdatedAt: now, BookID: book.ID, Type: typ, Value: value}
		_, err := db.NewInsert().Model(identifier).Returning("*").Exec(ctx)
		require.NoError(t, err)
		book.Identifiers = append(book.Identifiers, identifier)
	}
	return book
}

// CountRows returns the number of rows in a table.
func CountRows(t *testing.T, db *bun.DB, table string) int {
	t.Helper()
	count, err := db.NewSelect().Table(table).Count(context.Background())
	require.NoError(t, err)
	return count
}
