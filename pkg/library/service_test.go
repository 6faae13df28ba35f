package library

import (
	"context"
	"database/sql"
	"testing"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/migrations"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func sampleEntry() Entry {
	return Entry{
		Title:   "The Left Hand of Darkness",
		Authors: []string{"Ursula K. Le Guin", " ", "Harold Bloom"},
		AuthorSortNames: map[string]string{
			"Ursula K. Le Guin": "Le Guin, Ursula K.",
		},
		Identifiers: []Identifier{
			{Type: models.IdentifierTypeISBN, Value: "978-0-306-40615-7"},
			{Type: models.IdentifierTypeISBN, Value: "9780306406157"},
			{Type: models.IdentifierTypeASIN, Value: "B000FC1BN8"},
			{Type: models.IdentifierTypeODID, Value: "1234@lapl.overdrive.com"},
			{Type: "", Value: "dropped"},
		},
		Tags:     []string{"libby", "Fiction", "LIBBY", ""},
		Filepath: "/books/left-hand.epub",
		LoanType: models.LoanTypeEBook,
	}
}

func TestInsert(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	book, err := svc.Insert(ctx, sampleEntry())
	require.NoError(t, err)
	require.NotZero(t, book.ID)
	assert.Equal(t, []string{"Ursula K. Le Guin", "Harold Bloom"}, book.AuthorNames())
	assert.Equal(t, []string{"libby", "Fiction"}, book.TagNames())
	require.Len(t, book.Identifiers, 3)
	assert.Equal(t, "9780306406157", book.Identifiers[0].Value)

	got, err := svc.RetrieveBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Left Hand of Darkness", got.Title)
	assert.Equal(t, models.LoanTypeEBook, got.LoanType)
	assert.Equal(t, []string{"Ursula K. Le Guin", "Harold Bloom"}, got.AuthorNames())
	assert.ElementsMatch(t, []string{"libby", "Fiction"}, got.TagNames())
	assert.Len(t, got.Identifiers, 3)

	assert.Equal(t, "Left Hand of Darkness, The", got.SortTitle)
	require.Len(t, got.Authors, 2)
	assert.Equal(t, "Le Guin, Ursula K.", got.Authors[0].SortName)
	assert.Equal(t, "Bloom, Harold", got.Authors[1].SortName)
}

func TestListBooksOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, e := range []Entry{
		{Title: "The Zebra", LoanType: models.LoanTypeEBook},
		{Title: "An Apple", LoanType: models.LoanTypeEBook},
		{Title: "Monthly", SortTitle: "Monthly|7001", LoanType: models.LoanTypeMagazine},
	} {
		_, err := svc.Insert(ctx, e)
		require.NoError(t, err)
	}

	titles := func(books []*models.Book) []string {
		out := []string{}
		for _, b := range books {
			out = append(out, b.Title)
		}
		return out
	}

	books, err := svc.ListBooks(ctx, ListBooksOptions{OrderBy: OrderTitle})
	require.NoError(t, err)
	assert.Equal(t, []string{"An Apple", "Monthly", "The Zebra"}, titles(books))

	books, err = svc.ListBooks(ctx, ListBooksOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Monthly", "An Apple", "The Zebra"}, titles(books))
}

func TestInsertReusesTags(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	_, err := svc.Insert(ctx, sampleEntry())
	require.NoError(t, err)
	_, err = svc.Insert(ctx, Entry{Title: "Another", Filepath: "/books/another.epub", Tags: []string{"Libby"}})
	require.NoError(t, err)

	tags, err := svc.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Fiction", tags[0].Name)
	assert.Equal(t, 1, tags[0].BookCount)
	assert.Equal(t, "libby", tags[1].Name)
	assert.Equal(t, 2, tags[1].BookCount)

	books, total, err := svc.ListBooksWithTotal(ctx, ListBooksOptions{Tag: pointerutil.String("LIBBY")})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, books, 2)

	books, err = svc.ListBooks(ctx, ListBooksOptions{Tag: pointerutil.String("fiction")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "The Left Hand of Darkness", books[0].Title)
}

func TestInsertEntriesWithoutFiles(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	_, err := svc.Insert(ctx, Entry{Title: "  ", Filepath: "/x.epub"})
	assert.True(t, errcodes.IsInvalidArgument(err))

	book, err := svc.Insert(ctx, Entry{Title: "Audiobook Only", LoanType: models.LoanTypeAudiobook})
	require.NoError(t, err)
	got, err := svc.RetrieveBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Filepath)
}

func TestRetrieveBookNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.RetrieveBook(context.Background(), 7)
	assert.True(t, errcodes.IsNotFound(err))
}

func TestExists(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	_, err := svc.Insert(ctx, sampleEntry())
	require.NoError(t, err)

	tests := []struct {
		name  string
		match Match
		want  bool
	}{
		{"empty", Match{}, false},
		{"blank title", Match{Titles: []string{" "}}, false},
		{"title case-insensitive", Match{Titles: []string{"the left hand of DARKNESS"}}, true},
		{"any of several titles", Match{Titles: []string{"Nope", "The Left Hand of Darkness"}}, true},
		{"unknown title", Match{Titles: []string{"The Dispossessed"}}, false},
		{"isbn normalised", Match{ISBN: "ISBN 978 0306 40615 7"}, true},
		{"isbn10 of a stored isbn13", Match{ISBN: "0-306-40615-2"}, true},
		{"unknown isbn", Match{ISBN: "9780000000002"}, false},
		{"asin", Match{ASIN: "B000FC1BN8"}, true},
		{"asin is not an isbn", Match{ISBN: "B000FC1BN8"}, false},
		{"title miss but asin hit", Match{Titles: []string{"Other"}, ASIN: "B000FC1BN8"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Exists(ctx, tt.match)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
