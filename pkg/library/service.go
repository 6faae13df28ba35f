package library

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/identifiers"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/shishobooks/libby/pkg/sortname"
	"github.com/uptrace/bun"
)

// Match describes a title to look up. Any matching title (case-insensitive)
// or identifier is a hit.
type Match struct {
	Titles []string
	ISBN   string
	ASIN   string
}

type Identifier struct {
	Type  string
	Value string
}

// Entry is a downloaded title to record. Filepath may be empty when the loan
// has no downloadable file.
type Entry struct {
	Title string
	// SortTitle defaults to Title with its leading article moved to the end.
	SortTitle string
	Authors   []string
	// AuthorSortNames holds the known sort names, keyed by author name.
	AuthorSortNames map[string]string
	Identifiers     []Identifier
	Tags            []string
	Filepath        string
	LoanType        string
}

const (
	OrderNewest = "newest"
	OrderTitle  = "title"
)

type ListBooksOptions struct {
	Limit  *int
	Offset *int
	Tag    *string
	// OrderBy is OrderNewest (the default) or OrderTitle.
	OrderBy string

	includeTotal bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Exists reports whether the library already holds a title matching m.
func (svc *Service) Exists(ctx context.Context, m Match) (bool, error) {
	titles := make([]string, 0, len(m.Titles))
	for _, t := range m.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, strings.ToLower(t))
		}
	}
	isbn := identifiers.Normalize(models.IdentifierTypeISBN, m.ISBN)
	asin := identifiers.Normalize(models.IdentifierTypeASIN, m.ASIN)
	if len(titles) == 0 && isbn == "" && asin == "" {
		return false, nil
	}

	q := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			if len(titles) > 0 {
				sq = sq.WhereOr("LOWER(b.title) IN (?)", bun.In(titles))
			}
			if isbn != "" {
				sq = sq.WhereOr("EXISTS (SELECT 1 FROM book_identifiers bi WHERE bi.book_id = b.id AND bi.type = ? AND bi.value = ?)",
					models.IdentifierTypeISBN, isbn)
			}
			if asin != "" {
				sq = sq.WhereOr("EXISTS (SELECT 1 FROM book_identifiers bi WHERE bi.book_id = b.id AND bi.type = ? AND bi.value = ?)",
					models.IdentifierTypeASIN, asin)
			}
			return sq
		})

	exists, err := q.Exists(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return exists, nil
}

// Insert records a downloaded title along with its authors, identifiers and
// tags. Tags are matched case-insensitively and created as needed.
func (svc *Service) Insert(ctx context.Context, e Entry) (*models.Book, error) {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return nil, errcodes.InvalidArgument("book title cannot be empty")
	}

	now := time.Now()
	book := &models.Book{
		CreatedAt: now,
		UpdatedAt: now,
		Title:     title,
		SortTitle: strings.TrimSpace(e.SortTitle),
		Filepath:  e.Filepath,
		LoanType:  e.LoanType,
	}

	if book.SortTitle == "" {
		book.SortTitle = sortname.ForTitle(title)
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(book).Returning("*").Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		for i, name := range e.Authors {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			author := &models.Author{
				CreatedAt: now,
				UpdatedAt: now,
				BookID:    book.ID,
				Name:      name,
				SortName:  sortname.Or(e.AuthorSortNames[name], name),
				SortOrder: i,
			}
			if _, err := tx.NewInsert().Model(author).Returning("*").Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			book.Authors = append(book.Authors, author)
		}

		seen := map[string]bool{}
		for _, id := range e.Identifiers {
			typ := id.Type
			if typ == "" {
				typ = identifiers.Classify(id.Value)
			}
			value := identifiers.Normalize(typ, id.Value)
			if typ == "" || value == "" || seen[typ+":"+value] {
				continue
			}
			seen[typ+":"+value] = true
			identifier := &models.BookIdentifier{CreatedAt: now, UpdatedAt: now, BookID: book.ID, Type: typ, Value: value}
			if _, err := tx.NewInsert().Model(identifier).Returning("*").Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			book.Identifiers = append(book.Identifiers, identifier)
		}

		tagged := map[int]bool{}
		for _, name := range e.Tags {
			if strings.TrimSpace(name) == "" {
				continue
			}
			tag, err := findOrCreateTag(ctx, tx, name)
			if err != nil {
				return err
			}
			if tagged[tag.ID] {
				continue
			}
			tagged[tag.ID] = true
			bookTag := &models.BookTag{BookID: book.ID, TagID: tag.ID, Tag: tag}
			if _, err := tx.NewInsert().Model(bookTag).Returning("*").Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			book.Tags = append(book.Tags, bookTag)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return book, nil
}

// findOrCreateTag finds an existing tag or creates a new one (case-insensitive match).
func findOrCreateTag(ctx context.Context, db bun.IDB, name string) (*models.Tag, error) {
	name = strings.TrimSpace(name)

	tag := &models.Tag{}
	err := db.NewSelect().
		Model(tag).
		Where("LOWER(t.name) = LOWER(?)", name).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	tag = &models.Tag{CreatedAt: now, UpdatedAt: now, Name: name}
	if _, err := db.NewInsert().Model(tag).Returning("*").Exec(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return tag, nil
}

func (svc *Service) RetrieveBook(ctx context.Context, id int) (*models.Book, error) {
	book := &models.Book{}
	err := svc.db.NewSelect().
		Model(book).
		Relation("Authors", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("a.sort_order ASC")
		}).
		Relation("Identifiers").
		Relation("Tags.Tag").
		Where("b.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound(0, "Book not found.", "")
		}
		return nil, errors.WithStack(err)
	}
	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}
	var total int
	var err error

	q := svc.db.NewSelect().
		Model(&books).
		Relation("Authors", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("a.sort_order ASC")
		}).
		Relation("Tags.Tag")

	if opts.OrderBy == OrderTitle {
		q = q.OrderExpr("b.sort_title COLLATE NOCASE ASC").Order("b.id ASC")
	} else {
		q = q.Order("b.created_at DESC", "b.id DESC")
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Tag != nil {
		q = q.Where("EXISTS (SELECT 1 FROM book_tags bt JOIN tags t ON t.id = bt.tag_id WHERE bt.book_id = b.id AND LOWER(t.name) = LOWER(?))", *opts.Tag)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	return books, total, nil
}

// ListTags returns every tag with the number of books carrying it.
func (svc *Service) ListTags(ctx context.Context) ([]*models.Tag, error) {
	tags := []*models.Tag{}
	err := svc.db.NewSelect().
		Model(&tags).
		ColumnExpr("t.*").
		ColumnExpr("(SELECT COUNT(*) FROM book_tags bt WHERE bt.tag_id = t.id) AS book_count").
		Order("t.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tags, nil
}
