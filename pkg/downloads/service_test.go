package downloads

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/internal/testgen"
	"github.com/shishobooks/libby/pkg/config"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/library"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/shishobooks/libby/pkg/overdrive"
	"github.com/shishobooks/libby/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const testISBN = "9780306406157"

type fakeLending struct {
	*testgen.Issue
	files map[formats.Format][]byte

	mu        sync.Mutex
	fulfilled []formats.Format
	processed int
}

func (f *fakeLending) ProcessEbook(_ context.Context, _ libby.Loan) (string, *libby.OpenBook, []libby.Roster, error) {
	f.mu.Lock()
	f.processed++
	f.mu.Unlock()
	return testgen.AssetHost + "/", &f.OpenBook, f.Rosters, nil
}

func (f *fakeLending) FulfillLoanFile(_ context.Context, _, _ libby.ID, format formats.Format) ([]byte, error) {
	f.mu.Lock()
	f.fulfilled = append(f.fulfilled, format)
	f.mu.Unlock()
	data, ok := f.files[format]
	if !ok {
		return nil, errcodes.NotFound(404, "Not Found", "")
	}
	return data, nil
}

type fakeCatalog struct {
	media *overdrive.Media
	err   error
}

func (f fakeCatalog) Media(_ context.Context, _ libby.ID) (*overdrive.Media, error) {
	return f.media, f.err
}

type fixture struct {
	cfg     *config.Config
	lending *fakeLending
	catalog fakeCatalog
	library *library.Service
	db      *bun.DB
	issue   *testgen.Issue
}

func newFixture(t *testing.T, opts testgen.IssueOptions, f ...formats.Format) *fixture {
	t.Helper()
	if opts.ISBN == "" {
		opts.ISBN = testISBN
	}
	issue := testgen.GenerateIssue(t, opts)
	for _, format := range f {
		issue.Loan.Formats = append(issue.Loan.Formats, formats.NewDescriptor(format, false))
	}

	cfg := config.NewForTest()
	cfg.OutputDir = t.TempDir()
	cfg.TagEbooks = []string{"libby"}
	cfg.TagMagazines = []string{"magazines"}

	db := testutils.NewDB(t)
	return &fixture{
		cfg:     cfg,
		lending: &fakeLending{Issue: issue, files: map[formats.Format][]byte{}},
		catalog: fakeCatalog{media: &issue.Media},
		library: library.NewService(db),
		db:      db,
		issue:   issue,
	}
}

func (fx *fixture) service(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(fx.cfg, fx.lending, fx.catalog, fx.library)
	require.NoError(t, err)
	return svc
}

func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownloadMagazine(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{}, formats.MagazineOverDrive)
	ctx := context.Background()

	res, err := fx.service(t).Download(ctx, fx.issue.Loan, Options{LibraryKey: "lapl", Tags: []string{"march"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, formats.MagazineOverDrive, res.Format.ID)
	assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "the-monthly-7001.epub"), res.Path)
	assert.Equal(t, 1, fx.lending.processed)
	assert.Empty(t, fx.lending.fulfilled)

	book := testgen.ReadEPUB(t, res.Path)
	require.NotEmpty(t, book.Names)
	assert.Equal(t, "mimetype", book.Names[0])
	assert.Equal(t, []string{"the-monthly-7001.epub"}, outputFiles(t, fx.cfg.OutputDir))

	require.NotNil(t, res.Book)
	got, err := fx.library.RetrieveBook(ctx, res.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Monthly", got.Title)
	assert.Equal(t, res.Path, got.Filepath)
	assert.Equal(t, models.LoanTypeMagazine, got.LoanType)
	assert.ElementsMatch(t, []string{"magazines", "march"}, got.TagNames())
	values := map[string]string{}
	for _, id := range got.Identifiers {
		values[id.Type] = id.Value
	}
	assert.Equal(t, map[string]string{
		models.IdentifierTypeISBN: testISBN,
		models.IdentifierTypeODID: "7001@lapl.overdrive.com",
	}, values)
}

func TestDownloadOpenEPUB(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen, formats.EBookKindle)
	fx.lending.files[formats.EBookEPubOpen] = []byte("epub bytes")
	ctx := context.Background()

	res, err := fx.service(t).Download(ctx, fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []formats.Format{formats.EBookEPubOpen}, fx.lending.fulfilled)
	assert.Equal(t, 0, fx.lending.processed)
	assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "open-book-42.epub"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "epub bytes", string(data))
	assert.Equal(t, []string{"open-book-42.epub"}, outputFiles(t, fx.cfg.OutputDir))

	got, err := fx.library.RetrieveBook(ctx, res.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"libby"}, got.TagNames())
	types := []string{}
	for _, id := range got.Identifiers {
		types = append(types, id.Type)
	}
	assert.ElementsMatch(t, []string{models.IdentifierTypeISBN, models.IdentifierTypeASIN}, types)
}

func TestDownloadAdobeEPUBSavesACSM(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "43", Title: "Locked", EBook: true}, formats.EBookEPubAdobe)
	fx.lending.files[formats.EBookEPubAdobe] = []byte("<fulfillmentToken/>")

	res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "locked-43.acsm"), res.Path)
}

func TestDownloadSkipsExisting(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		ids      map[string]string
	}{
		{"by isbn", "Different Title", map[string]string{models.IdentifierTypeISBN: testISBN}},
		{"by title", "open book", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen)
			fx.cfg.SkipExisting = true
			fx.lending.files[formats.EBookEPubOpen] = []byte("epub bytes")
			testutils.CreateBook(t, fx.db, tt.existing, tt.ids)

			res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Empty(t, res.Path)
			assert.Empty(t, fx.lending.fulfilled)
			assert.Empty(t, outputFiles(t, fx.cfg.OutputDir))
			assert.Equal(t, 1, testutils.CountRows(t, fx.db, "books"))
		})
	}
}

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Info(msg string, _ logger.Data) { l.messages = append(l.messages, "info: "+msg) }
func (l *recordingLogger) Warn(msg string, _ logger.Data) { l.messages = append(l.messages, "warn: "+msg) }

func TestDownloadLogsToOptionsLogger(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen)
	fx.cfg.SkipExisting = true
	testutils.CreateBook(t, fx.db, "Open Book", nil)
	log := &recordingLogger{}

	res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{Log: log})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, []string{"info: skipping title already in library"}, log.messages)
}

func TestDownloadExistingWithoutSkip(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen)
	fx.lending.files[formats.EBookEPubOpen] = []byte("epub bytes")
	testutils.CreateBook(t, fx.db, "Open Book", nil)

	res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, testutils.CountRows(t, fx.db, "books"))
}

func TestDownloadAudiobookMP3(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "76", Title: "Listened"}, formats.AudiobookMP3)
	fx.issue.Loan.Type = libby.TypeRef{ID: "audiobook"}
	fx.lending.files[formats.AudiobookMP3] = []byte("<OverDriveMedia/>")
	ctx := context.Background()

	res, err := fx.service(t).Download(ctx, fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, formats.AudiobookMP3, res.Format.ID)
	assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "listened-76.odm"), res.Path)
	assert.Equal(t, []formats.Format{formats.AudiobookMP3}, fx.lending.fulfilled)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "<OverDriveMedia/>", string(data))

	got, err := fx.library.RetrieveBook(ctx, res.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanTypeAudiobook, got.LoanType)
	assert.Equal(t, res.Path, got.Filepath)
}

func TestDownloadAudiobookCover(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "77", Title: "Heard"}, formats.AudiobookOverDrive)
	fx.issue.Loan.Type = libby.TypeRef{ID: "audiobook"}
	fx.issue.Assets["covers/audio.png"] = testgen.GenerateImage(t, "image/png", 30, 40)
	fx.issue.Loan.Covers = libby.Covers{"cover300Wide": {Href: testgen.AssetHost + "/covers/audio.png", Width: 300}}
	ctx := context.Background()

	res, err := fx.service(t).Download(ctx, fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "heard-77.cover.jpg"), res.Path)
	assert.Empty(t, fx.lending.fulfilled)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	got, err := fx.library.RetrieveBook(ctx, res.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanTypeAudiobook, got.LoanType)
	assert.Equal(t, res.Path, got.Filepath)
}

func TestDownloadWithoutCover(t *testing.T) {
	fx := newFixture(t, testgen.IssueOptions{ID: "78", Title: "Kindle Only", EBook: true}, formats.EBookKindle)
	ctx := context.Background()

	res, err := fx.service(t).Download(ctx, fx.issue.Loan, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Path)
	assert.Empty(t, outputFiles(t, fx.cfg.OutputDir))
	require.NotNil(t, res.Book)
	assert.Empty(t, res.Book.Filepath)
}

func TestDownloadOverDriveEBook(t *testing.T) {
	t.Run("packaged when enabled", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{ID: "90", Title: "Packed", EBook: true}, formats.EBookOverDrive)
		fx.cfg.PackageOverDriveEbooks = true

		res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, fx.lending.processed)
		assert.Equal(t, filepath.Join(fx.cfg.OutputDir, "packed-90.epub"), res.Path)
		assert.True(t, testgen.FileExists(res.Path))
	})

	t.Run("recorded without a file otherwise", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{ID: "90", Title: "Packed", EBook: true}, formats.EBookOverDrive)

		res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		require.NoError(t, err)
		assert.Equal(t, 0, fx.lending.processed)
		assert.Empty(t, res.Path)
	})
}

func TestDownloadFailures(t *testing.T) {
	t.Run("no formats", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{})

		_, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		assert.True(t, errors.Is(err, formats.ErrNoFormats))
	})

	t.Run("catalog failure stops packaging", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{}, formats.MagazineOverDrive)
		fx.catalog = fakeCatalog{err: errcodes.InternalServerError("boom", "")}

		_, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		require.Error(t, err)
		assert.Equal(t, errcodes.CodeInternalServerError, errcodes.CodeOf(err))
		assert.Equal(t, 0, fx.lending.processed)
	})

	t.Run("catalog failure is tolerated for plain files", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen)
		fx.lending.files[formats.EBookEPubOpen] = []byte("epub bytes")
		fx.catalog = fakeCatalog{err: errcodes.InternalServerError("boom", "")}

		res, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		require.NoError(t, err)
		assert.Empty(t, res.Book.Identifiers)
	})

	t.Run("fulfillment failure writes nothing", func(t *testing.T) {
		fx := newFixture(t, testgen.IssueOptions{ID: "42", Title: "Open Book", EBook: true}, formats.EBookEPubOpen)

		_, err := fx.service(t).Download(context.Background(), fx.issue.Loan, Options{})
		assert.True(t, errcodes.IsNotFound(err))
		assert.Empty(t, outputFiles(t, fx.cfg.OutputDir))
		assert.Equal(t, 0, testutils.CountRows(t, fx.db, "books"))
	})
}
