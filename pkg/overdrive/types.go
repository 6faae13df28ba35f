package overdrive

import (
	"github.com/shishobooks/libby/pkg/libby"
)

const (
	IdentifierASIN        = "ASIN"
	IdentifierISBN        = "ISBN"
	IdentifierLibraryISBN = "LibraryISBN"
)

type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value" mod:"trim"`
}

// MediaFormat is a format entry of a catalog record.
type MediaFormat struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	ISBN        string       `json:"isbn,omitempty" mod:"trim"`
	Identifiers []Identifier `json:"identifiers,omitempty" mod:"dive"`
}

type Language struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Subject struct {
	ID   libby.ID `json:"id,omitempty"`
	Name string   `json:"name"`
}

type Bisac struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type Issue struct {
	ID libby.ID `json:"id"`
}

// Availability is the lending state of a title at one library.
type Availability struct {
	AdvantageKey            string   `json:"advantageKey,omitempty"`
	AvailabilityType        string   `json:"availabilityType,omitempty"`
	IsAvailable             bool     `json:"isAvailable"`
	IsHoldable              bool     `json:"isHoldable,omitempty"`
	AvailableCopies         int      `json:"availableCopies"`
	OwnedCopies             int      `json:"ownedCopies"`
	LuckyDayAvailableCopies int      `json:"luckyDayAvailableCopies,omitempty"`
	LuckyDayOwnedCopies     int      `json:"luckyDayOwnedCopies,omitempty"`
	HoldsCount              int      `json:"holdsCount,omitempty"`
	HoldsRatio              *float64 `json:"holdsRatio,omitempty"`
	EstimatedWaitDays       *int     `json:"estimatedWaitDays,omitempty"`
}

// Media is a catalog record. Records returned by library scoped calls also
// carry that library's availability.
type Media struct {
	Availability

	ID                    libby.ID              `json:"id" validate:"required"`
	ReserveID             string                `json:"reserveId,omitempty"`
	Type                  libby.TypeRef         `json:"type"`
	Title                 string                `json:"title" mod:"trim"`
	SortTitle             string                `json:"sortTitle,omitempty"`
	Subtitle              string                `json:"subtitle,omitempty" mod:"trim"`
	Edition               string                `json:"edition,omitempty" mod:"trim"`
	Description           string                `json:"description,omitempty"`
	FirstCreatorName      string                `json:"firstCreatorName,omitempty"`
	Creators              []libby.Creator       `json:"creators,omitempty" mod:"dive"`
	Publisher             *libby.Publisher      `json:"publisher,omitempty"`
	Languages             []Language            `json:"languages,omitempty"`
	Subjects              []Subject             `json:"subject,omitempty"`
	Bisac                 []Bisac               `json:"bisac,omitempty"`
	Keywords              []string              `json:"keywords,omitempty"`
	Formats               []MediaFormat         `json:"formats,omitempty" mod:"dive"`
	Covers                libby.Covers          `json:"covers,omitempty"`
	PublishDate           string                `json:"publishDate,omitempty"`
	EstimatedReleaseDate  string                `json:"estimatedReleaseDate,omitempty"`
	Series                string                `json:"series,omitempty"`
	DetailedSeries        *libby.DetailedSeries `json:"detailedSeries,omitempty"`
	ParentMagazineTitleID libby.ID              `json:"parentMagazineTitleId,omitempty"`
	RecentIssues          []Issue               `json:"recentIssues,omitempty"`
}

// MediaType is the kind of title.
func (m Media) MediaType() string {
	return m.Type.ID
}

// Library is a library listed by the catalog.
type Library struct {
	ID           string   `json:"id"`
	WebsiteID    libby.ID `json:"websiteId"`
	Name         string   `json:"name" mod:"trim"`
	PreferredKey string   `json:"preferredKey"`
	Type         string   `json:"type,omitempty"`
}

type LibrariesResult struct {
	Items      []Library `json:"items" mod:"dive"`
	TotalItems int       `json:"totalItems"`
	Page       int       `json:"page,omitempty"`
	PerPage    int       `json:"perPage,omitempty"`
}

type SearchResult struct {
	Items      []Media `json:"items" mod:"dive" validate:"dive"`
	TotalItems int     `json:"totalItems"`
}

type mediaList struct {
	Items []Media `json:"items" mod:"dive" validate:"dive"`
}
