package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	LoanTypeAudiobook = "audiobook"
	LoanTypeEBook     = "ebook"
	LoanTypeMagazine  = "magazine"
)

const (
	IdentifierTypeISBN = "isbn"
	IdentifierTypeASIN = "asin"
	// IdentifierTypeODID is the OverDrive identifier, {title id}@{library key}.overdrive.com.
	IdentifierTypeODID = "odid"
)

// Book is a downloaded title recorded in the library database. Filepath is
// empty for titles recorded without a downloadable file.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID          int               `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Title       string            `bun:",nullzero" json:"title"`
	SortTitle   string            `json:"sort_title"`
	Filepath    string            `json:"filepath"`
	LoanType    string            `bun:",nullzero" json:"loan_type"`
	Authors     []*Author         `bun:"rel:has-many" json:"authors,omitempty"`
	Identifiers []*BookIdentifier `bun:"rel:has-many" json:"identifiers,omitempty"`
	Tags        []*BookTag        `bun:"rel:has-many" json:"tags,omitempty"`
}

// AuthorNames returns the author names in sort order.
func (b *Book) AuthorNames() []string {
	names := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		names = append(names, a.Name)
	}
	return names
}

// TagNames returns the names of the loaded tags.
func (b *Book) TagNames() []string {
	names := make([]string, 0, len(b.Tags))
	for _, bt := range b.Tags {
		if bt.Tag != nil {
			names = append(names, bt.Tag.Name)
		}
	}
	return names
}

// Identifier returns the first loaded identifier of the given type.
func (b *Book) Identifier(typ string) string {
	for _, id := range b.Identifiers {
		if id.Type == typ {
			return id.Value
		}
	}
	return ""
}

// Author is one credited creator of a book. SortOrder keeps the order given
// by the catalog.
type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	BookID    int       `bun:",nullzero" json:"book_id"`
	Name      string    `bun:",nullzero" json:"name"`
	SortName  string    `json:"sort_name"`
	SortOrder int       `json:"sort_order"`
}

// BookIdentifier values are stored normalized, see pkg/identifiers.
type BookIdentifier struct {
	bun.BaseModel `bun:"table:book_identifiers,alias:bi"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	BookID    int       `bun:",nullzero" json:"book_id"`
	Type      string    `bun:",nullzero" json:"type"`
	Value     string    `bun:",nullzero" json:"value"`
}

// Tag names are unique regardless of case.
type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `bun:",nullzero" json:"name"`
	BookCount int       `bun:",scanonly" json:"book_count"`
}

type BookTag struct {
	bun.BaseModel `bun:"table:book_tags,alias:bt"`

	ID     int  `bun:",pk,nullzero" json:"id"`
	BookID int  `bun:",nullzero" json:"book_id"`
	TagID  int  `bun:",nullzero" json:"tag_id"`
	Tag    *Tag `bun:"rel:belongs-to,join:tag_id=id" json:"tag,omitempty"`
}
