package libby

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/libby/pkg/formats"
)

// ID is an identifier that the services send either as a JSON string or as
// a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithStack(err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.WithStack(err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// TypeRef is the {id, name} pair the services use for enumerations.
type TypeRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (t TypeRef) Media() formats.MediaType {
	return formats.ParseMediaType(t.ID)
}

type Cover struct {
	Href   string `json:"href"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Covers maps a cover size key (e.g. "cover150Wide") to the image.
type Covers map[string]Cover

// Best returns the URL of the widest cover, or "" when there are none.
func (c Covers) Best() string {
	best := Cover{Width: -1}
	for _, cover := range c {
		if cover.Width > best.Width || (cover.Width == best.Width && cover.Href < best.Href) {
			best = cover
		}
	}
	return best.Href
}

type Creator struct {
	ID       ID     `json:"id"`
	Name     string `json:"name" mod:"trim"`
	Role     string `json:"role"`
	SortName string `json:"sortName,omitempty"`
}

type Publisher struct {
	ID   ID     `json:"id"`
	Name string `json:"name" mod:"trim"`
}

type DetailedSeries struct {
	SeriesID     ID     `json:"seriesId,omitempty"`
	SeriesName   string `json:"seriesName"`
	ReadingOrder string `json:"readingOrder,omitempty"`
}

type BundledContent struct {
	TitleID ID     `json:"titleId"`
	Title   string `json:"title,omitempty"`
}

// Loan is a title currently borrowed on one of the account's cards.
type Loan struct {
	ID                    ID                   `json:"id" validate:"required"`
	CardID                ID                   `json:"cardId" validate:"required"`
	WebsiteID             ID                   `json:"websiteId,omitempty"`
	AdvantageKey          string               `json:"advantageKey,omitempty"`
	Type                  TypeRef              `json:"type"`
	Formats               []formats.Descriptor `json:"formats" validate:"singlelock"`
	Title                 string               `json:"title" mod:"trim"`
	SortTitle             string               `json:"sortTitle,omitempty"`
	Subtitle              string               `json:"subtitle,omitempty" mod:"trim"`
	Edition               string               `json:"edition,omitempty" mod:"trim"`
	FirstCreatorName      string               `json:"firstCreatorName,omitempty" mod:"trim"`
	Creators              []Creator            `json:"creators,omitempty"`
	Publisher             *Publisher           `json:"publisher,omitempty"`
	Series                string               `json:"series,omitempty"`
	DetailedSeries        *DetailedSeries      `json:"detailedSeries,omitempty"`
	ParentMagazineTitleID ID                   `json:"parentMagazineTitleId,omitempty"`
	BundledContent        []BundledContent     `json:"bundledContent,omitempty"`
	Covers                Covers               `json:"covers,omitempty"`
	CheckoutDate          string               `json:"checkoutDate,omitempty"`
	ExpireDate            string               `json:"expireDate,omitempty"`
	RenewableOn           string               `json:"renewableOn,omitempty"`
	IsLuckyDayCheckout    bool                 `json:"isLuckyDayCheckout,omitempty"`
	IsLockedIn            bool                 `json:"isFormatLockedIn,omitempty"`
}

func (l Loan) MediaType() formats.MediaType {
	return l.Type.Media()
}

// Expires parses ExpireDate. The zero time is returned when it is blank.
func (l Loan) Expires() (time.Time, error) {
	return parseOptional(l.ExpireDate)
}

// Hold is a queued request for a title that has no free copies.
type Hold struct {
	ID                    ID                   `json:"id" validate:"required"`
	CardID                ID                   `json:"cardId" validate:"required"`
	Type                  TypeRef              `json:"type"`
	Formats               []formats.Descriptor `json:"formats,omitempty"`
	Title                 string               `json:"title" mod:"trim"`
	Subtitle              string               `json:"subtitle,omitempty" mod:"trim"`
	Edition               string               `json:"edition,omitempty" mod:"trim"`
	FirstCreatorName      string               `json:"firstCreatorName,omitempty" mod:"trim"`
	Covers                Covers               `json:"covers,omitempty"`
	PlacedDate            string               `json:"placedDate,omitempty"`
	ExpireDate            string               `json:"expireDate,omitempty"`
	IsAvailable           bool                 `json:"isAvailable"`
	Suspension            *Suspension          `json:"suspensionFlag,omitempty"`
	SuspensionEnd         string               `json:"suspensionEnd,omitempty"`
	RedeliveriesRequested int                  `json:"redeliveriesRequestedCount,omitempty"`
	RedeliveriesAutomatic int                  `json:"redeliveriesAutomatic,omitempty"`
	HoldListPosition      int                  `json:"holdListPosition,omitempty"`
	HoldsCount            int                  `json:"holdsCount,omitempty"`
	OwnedCopies           int                  `json:"ownedCopies,omitempty"`
	EstimatedWaitDays     int                  `json:"estimatedWaitDays,omitempty"`
}

func (h Hold) MediaType() formats.MediaType {
	return h.Type.Media()
}

// Suspension decodes the hold's suspensionFlag, which is a plain boolean.
type Suspension bool

// IsSuspended reports whether delivery of the hold is currently deferred.
func (h Hold) IsSuspended() bool {
	return h.Suspension != nil && bool(*h.Suspension)
}

// Counts holds per-activity numbers for a card, keyed the way the service
// keys both limits and counts.
type Counts struct {
	Loan     int `json:"loan"`
	Hold     int `json:"hold"`
	LuckyDay int `json:"luckyDay,omitempty"`
}

// Period is a lending duration encoded on the wire as [amount, "units"].
type Period struct {
	Amount int
	Units  string
}

func (p *Period) UnmarshalJSON(b []byte) error {
	raw := []json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.WithStack(err)
	}
	*p = Period{}
	if len(raw) > 0 {
		var f float64
		if err := json.Unmarshal(raw[0], &f); err != nil {
			return errors.WithStack(err)
		}
		p.Amount = int(f)
	}
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &p.Units); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Amount, p.Units})
}

type LendingPeriod struct {
	Preference Period   `json:"preference"`
	Options    []Period `json:"options"`
}

type CardLibrary struct {
	WebsiteID ID     `json:"websiteId"`
	Name      string `json:"name" mod:"trim"`
}

// Card is a library card linked to the account.
type Card struct {
	CardID         ID                       `json:"cardId" validate:"required"`
	CardName       string                   `json:"cardName,omitempty" mod:"trim"`
	AdvantageKey   string                   `json:"advantageKey"`
	Library        CardLibrary              `json:"library"`
	Limits         Counts                   `json:"limits"`
	Counts         Counts                   `json:"counts"`
	LendingPeriods map[string]LendingPeriod `json:"lendingPeriods,omitempty"`
	CreateDate     string                   `json:"createDate,omitempty"`
}

// CanBorrow reports whether the card is under its loan limit.
func (c Card) CanBorrow() bool {
	return c.Limits.Loan > c.Counts.Loan
}

// CanPlaceHold reports whether the card is under its hold limit.
func (c Card) CanPlaceHold() bool {
	return c.Limits.Hold > c.Counts.Hold
}

// LendingDays returns the preferred lending period for a media type, falling
// back to the longest offered option. Zero means the card has no period for
// the type.
func (c Card) LendingDays(t formats.MediaType) int {
	period, ok := c.LendingPeriods[t.LendingPeriodKey()]
	if !ok {
		return 0
	}
	if period.Preference.Amount > 0 {
		return period.Preference.Amount
	}
	if len(period.Options) > 0 {
		return period.Options[len(period.Options)-1].Amount
	}
	return 0
}

// Chip is the identity issued to a device.
type Chip struct {
	Chip     string `json:"chip"`
	Identity string `json:"identity"`
	Syncable bool   `json:"syncable"`
	Primary  bool   `json:"primary"`
}

type CloneCode struct {
	Result string `json:"result,omitempty"`
	Code   string `json:"code,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

// SyncState is the account snapshot returned by chip/sync.
type SyncState struct {
	Result string `json:"result"`
	Cards  []Card `json:"cards" mod:"dive" validate:"dive"`
	Loans  []Loan `json:"loans" mod:"dive" validate:"dive"`
	Holds  []Hold `json:"holds" mod:"dive" validate:"dive"`
}

// LoanLinks are the manifest URLs returned when a loan is opened.
type LoanLinks struct {
	Web      string `json:"web" validate:"required"`
	OpenBook string `json:"openbook" validate:"required"`
	Rosters  string `json:"rosters" validate:"required"`
}

type OpenLoanResult struct {
	Message string    `json:"message"`
	URLs    LoanLinks `json:"urls"`
}

// OpenBookTitle is the title block of an openbook manifest.
type OpenBookTitle struct {
	Main string `json:"main"`
	Sub  string `json:"subtitle,omitempty"`
}

type OpenBookCreator struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// TOCItem is one navigation entry of an openbook manifest.
type TOCItem struct {
	Path         string `json:"path"`
	Title        string `json:"title"`
	SectionName  string `json:"sectionName,omitempty"`
	PageRange    string `json:"pageRange,omitempty"`
	FeatureImage string `json:"featureImage,omitempty"`
}

type Landmark struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

type OpenBookNav struct {
	TOC       []TOCItem  `json:"toc"`
	Landmarks []Landmark `json:"landmarks,omitempty"`
}

type SpineItem struct {
	OriginalPath  string `json:"-odread-original-path"`
	SpinePosition int    `json:"-odread-spine-position"`
	Path          string `json:"path,omitempty"`
}

// OpenBook describes the logical structure of an ebook or magazine issue.
type OpenBook struct {
	Title   OpenBookTitle     `json:"title"`
	Creator []OpenBookCreator `json:"creator"`
	Spine   []SpineItem       `json:"spine"`
	Nav     OpenBookNav       `json:"nav"`
}

// RosterEntry is a single downloadable asset.
type RosterEntry struct {
	URL           string `json:"url" validate:"required"`
	OriginalPath  string `json:"-odread-original-path,omitempty"`
	SpinePosition *int   `json:"-odread-spine-position,omitempty"`
}

// Roster is a group of assets. The "title-content" group lists every file
// needed to assemble the book.
type Roster struct {
	Group   string        `json:"group"`
	Entries []RosterEntry `json:"entries"`
}

const RosterTitleContent = "title-content"

// TitleContent returns the title-content group, or an empty roster.
func TitleContent(rosters []Roster) Roster {
	for _, r := range rosters {
		if r.Group == RosterTitleContent {
			return r
		}
	}
	return Roster{Group: RosterTitleContent}
}

// KindleFulfillment is the payload returned for the Kindle format.
type KindleFulfillment struct {
	Fulfill struct {
		Href string `json:"href"`
	} `json:"fulfill"`
}

// TagBehaviors keys a behaviour name to its settings.
type TagBehaviors map[string]map[string]interface{}

type Tag struct {
	UUID          string       `json:"uuid"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	CreateTime    int64        `json:"createTime,omitempty"`
	TotalTaggings int          `json:"totalTaggings"`
	Behaviors     TagBehaviors `json:"behaviors"`
	Taggings      []Tagging    `json:"taggings,omitempty"`
}

type Tagging struct {
	TitleID    ID     `json:"titleId"`
	WebsiteID  ID     `json:"websiteId,omitempty"`
	CardID     ID     `json:"cardId,omitempty"`
	CreateTime int64  `json:"createTime,omitempty"`
	Title      string `json:"title,omitempty"`
}

type TagsResult struct {
	Tags []Tag `json:"tags"`
}

type TagResult struct {
	Tag     *Tag     `json:"tag,omitempty"`
	Tagging *Tagging `json:"tagging,omitempty"`
}

// AuthForm describes how a library verifies card credentials.
type AuthForm struct {
	Type     string `json:"type"`
	ILSName  string `json:"ilsName"`
	Label    string `json:"label,omitempty"`
	Password bool   `json:"password,omitempty"`
}

type AuthFormsResult struct {
	Forms []AuthForm `json:"forms"`
}

func parseOptional(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return ParseDateTime(value)
}
