// Package downloads fulfills loans into files on disk and records them in the
// library database.
package downloads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Machiel/slugify"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/config"
	"github.com/shishobooks/libby/pkg/fileutils"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/library"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/shishobooks/libby/pkg/overdrive"
	"github.com/shishobooks/libby/pkg/packager"
)

const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Lending is the part of the lending client used to fulfill loans.
type Lending interface {
	packager.Fetcher
	ProcessEbook(ctx context.Context, loan libby.Loan) (string, *libby.OpenBook, []libby.Roster, error)
	FulfillLoanFile(ctx context.Context, loanID, cardID libby.ID, f formats.Format) ([]byte, error)
}

type Catalog interface {
	Media(ctx context.Context, titleID libby.ID) (*overdrive.Media, error)
}

type Library interface {
	Exists(ctx context.Context, m library.Match) (bool, error)
	Insert(ctx context.Context, e library.Entry) (*models.Book, error)
}

type Options struct {
	// LibraryKey is the preferred key of the card's library, used for the
	// odid identifier. It is left out when blank.
	LibraryKey string
	// Tags are added to the configured tags of the loan type.
	Tags []string
	// Progress receives the asset count of packaged loans.
	Progress func(done, total int)
	// Log receives the steps of the download. It defaults to the context
	// logger.
	Log Logger
}

// Logger is satisfied by a job logger, which keeps the messages with the job.
type Logger interface {
	Info(msg string, data logger.Data)
	Warn(msg string, data logger.Data)
}

type contextLogger struct {
	log logger.Logger
}

func (l contextLogger) Info(msg string, data logger.Data) { l.log.Info(msg, data) }
func (l contextLogger) Warn(msg string, data logger.Data) { l.log.Warn(msg, data) }

func (opts Options) logger(ctx context.Context) Logger {
	if opts.Log != nil {
		return opts.Log
	}
	return contextLogger{logger.FromContext(ctx)}
}

type Result struct {
	Status string
	Format formats.Descriptor
	// Path is the saved file. It is the cover sidecar for loans without a
	// downloadable file, and empty when there was nothing to save.
	Path string
	Book *models.Book
}

type Service struct {
	cfg      *config.Config
	lending  Lending
	catalog  Catalog
	library  Library
	packager *packager.Packager
}

func NewService(cfg *config.Config, lending Lending, catalog Catalog, lib Library) (*Service, error) {
	p, err := packager.New(lending, packager.Options{Version: cfg.EPUBVersion})
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, lending: lending, catalog: catalog, library: lib, packager: p}, nil
}

// Download fulfills a loan into the output directory. Magazines, and
// OverDrive ebooks when enabled, are assembled into an EPUB. Other
// downloadable formats are saved as delivered, and MP3 audiobooks as their
// ODM manifest. Loans with no downloadable
// format are recorded with just their cover.
func (svc *Service) Download(ctx context.Context, loan libby.Loan, opts Options) (*Result, error) {
	log := opts.logger(ctx)

	desc, err := libby.LoanFormat(loan, svc.cfg.PreferOpenFormats, false)
	if err != nil {
		return nil, err
	}
	res := &Result{Format: desc}

	media, err := svc.catalog.Media(ctx, loan.ID)
	if err != nil {
		if svc.packages(desc.ID) {
			return nil, err
		}
		log.Warn("failed to fetch catalog record", logger.Data{"loan_id": loan.ID, "error": err.Error()})
		media = nil
	}

	entry := svc.entry(loan, media, desc, opts)
	if svc.cfg.SkipExisting {
		exists, err := svc.library.Exists(ctx, library.Match{
			Titles: []string{entry.Title, libby.MediaTitle(loan, false)},
			ISBN:   identifierOf(entry, models.IdentifierTypeISBN),
			ASIN:   identifierOf(entry, models.IdentifierTypeASIN),
		})
		if err != nil {
			return nil, err
		}
		if exists {
			log.Info("skipping title already in library", logger.Data{"loan_id": loan.ID, "title": entry.Title})
			res.Status = StatusSkipped
			return res, nil
		}
	}

	if err := os.MkdirAll(svc.cfg.OutputDir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	base := filepath.Join(svc.cfg.OutputDir, fileStem(entry.Title, loan.ID))

	switch {
	case svc.packages(desc.ID):
		res.Path = base + "." + libby.FileExtension(desc.ID)
		if err := svc.packageLoan(ctx, loan, media, res.Path, opts.Progress); err != nil {
			return nil, err
		}
	case desc.ID.IsFulfillable():
		data, err := svc.lending.FulfillLoanFile(ctx, loan.ID, loan.CardID, desc.ID)
		if err != nil {
			return nil, err
		}
		res.Path = base + "." + libby.FileExtension(desc.ID)
		if err := fileutils.WriteFileAtomic(res.Path, data); err != nil {
			return nil, err
		}
	default:
		res.Path = svc.saveCover(ctx, log, loan, media, base+".cover.jpg")
	}
	log.Info("downloaded loan", logger.Data{"loan_id": loan.ID, "format": desc.String(), "path": res.Path})

	entry.Filepath = res.Path
	book, err := svc.library.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	res.Book = book
	res.Status = StatusCompleted
	return res, nil
}

func (svc *Service) packages(f formats.Format) bool {
	return f == formats.MagazineOverDrive || (f == formats.EBookOverDrive && svc.cfg.PackageOverDriveEbooks)
}

func (svc *Service) packageLoan(ctx context.Context, loan libby.Loan, media *overdrive.Media, out string, progress func(done, total int)) error {
	_, openbook, rosters, err := svc.lending.ProcessEbook(ctx, loan)
	if err != nil {
		return err
	}
	_, err = svc.packager.Package(ctx, packager.Request{
		Loan:       loan,
		Media:      media,
		OpenBook:   openbook,
		Rosters:    rosters,
		OutputPath: out,
		Progress:   progress,
	})
	return err
}

// saveCover writes the best cover of the loan next to where its file would
// have gone. Audiobook covers are padded square. A missing cover is not an
// error.
func (svc *Service) saveCover(ctx context.Context, log Logger, loan libby.Loan, media *overdrive.Media, dest string) string {
	url := loan.Covers.Best()
	if url == "" && media != nil {
		url = overdrive.BestCoverURL(*media)
	}
	if url == "" {
		return ""
	}
	data, err := svc.lending.FetchAsset(ctx, url)
	if err != nil {
		log.Warn("failed to download cover", logger.Data{"url": url, "error": err.Error()})
		return ""
	}
	cover, err := packager.NormalizeCover(data, loan.MediaType() == formats.MediaAudiobook)
	if err != nil {
		log.Warn("failed to read cover", logger.Data{"url": url, "error": err.Error()})
		return ""
	}
	if err := fileutils.WriteFileAtomic(dest, cover); err != nil {
		log.Warn("failed to save cover", logger.Data{"path": dest, "error": err.Error()})
		return ""
	}
	return dest
}

func (svc *Service) entry(loan libby.Loan, media *overdrive.Media, desc formats.Descriptor, opts Options) library.Entry {
	e := library.Entry{
		Title:     libby.MediaTitle(loan, true),
		SortTitle: loan.SortTitle,
		LoanType:  loan.Type.ID,
	}
	if loan.FirstCreatorName != "" {
		e.Authors = []string{loan.FirstCreatorName}
		for _, c := range loan.Creators {
			if c.Name == loan.FirstCreatorName && c.SortName != "" {
				e.AuthorSortNames = map[string]string{c.Name: c.SortName}
				break
			}
		}
	}
	e.Tags = append(append(e.Tags, svc.cfg.Tags(loan.Type.ID)...), opts.Tags...)

	if media != nil {
		isbn := overdrive.ExtractISBN(media.Formats, []string{desc.String()})
		if isbn == "" {
			isbn = overdrive.ExtractISBN(media.Formats, nil)
		}
		if isbn != "" {
			e.Identifiers = append(e.Identifiers, library.Identifier{Type: models.IdentifierTypeISBN, Value: isbn})
		}
		if asin := overdrive.ExtractASIN(media.Formats); asin != "" {
			e.Identifiers = append(e.Identifiers, library.Identifier{Type: models.IdentifierTypeASIN, Value: asin})
		}
	}
	if opts.LibraryKey != "" {
		e.Identifiers = append(e.Identifiers, library.Identifier{
			Type:  models.IdentifierTypeODID,
			Value: libby.ODIdentifier(loan.ID, opts.LibraryKey),
		})
	}
	return e
}

func identifierOf(e library.Entry, typ string) string {
	for _, id := range e.Identifiers {
		if id.Type == typ {
			return id.Value
		}
	}
	return ""
}

func fileStem(title string, id libby.ID) string {
	slug := slugify.Slugify(title)
	if slug == "" {
		return string(id)
	}
	return fmt.Sprintf("%s-%s", slug, id)
}
