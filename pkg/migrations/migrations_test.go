package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func TestBringUpToDate(t *testing.T) {
	ctx := context.Background()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	group, err := BringUpToDate(ctx, db)
	require.NoError(t, err)
	assert.False(t, group.IsZero())

	for _, table := range []string{"jobs", "books", "authors", "book_identifiers", "tags", "book_tags", "job_logs"} {
		var count int
		err := db.NewSelect().
			Table("sqlite_master").
			ColumnExpr("COUNT(*)").
			Where("type = 'table' AND name = ?", table).
			Scan(ctx, &count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, table)
	}

	var columns int
	err = db.NewSelect().
		TableExpr("pragma_table_info('books')").
		ColumnExpr("COUNT(*)").
		Where("name = 'sort_title'").
		Scan(ctx, &columns)
	require.NoError(t, err)
	assert.Equal(t, 1, columns)

	// A second run has nothing left to apply.
	group, err = BringUpToDate(ctx, db)
	require.NoError(t, err)
	assert.True(t, group.IsZero())

	migrator := NewMigrator(db)
	_, err = migrator.Rollback(ctx)
	require.NoError(t, err)

	var count int
	err = db.NewSelect().
		Table("sqlite_master").
		ColumnExpr("COUNT(*)").
		Where("type = 'table' AND name = 'books'").
		Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
