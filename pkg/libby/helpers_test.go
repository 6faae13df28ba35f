package libby

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    string
		expected time.Time
	}{
		{"2017-06-06T04:00:00Z", time.Date(2017, 6, 6, 4, 0, 0, 0, time.UTC)},
		{"2023-08-10T23:00:01.000Z", time.Date(2023, 8, 10, 23, 0, 1, 0, time.UTC)},
		{"2023-07-31T08:00:01.000+00:00", time.Date(2023, 7, 31, 8, 0, 1, 0, time.UTC)},
		{"2023-07-31T10:00:01+0200", time.Date(2023, 7, 31, 8, 0, 1, 0, time.UTC)},
		{"2023-08-01T10:00:01", time.Date(2023, 8, 1, 10, 0, 1, 0, time.UTC)},
		{"2023-08-01T10:00:01.500", time.Date(2023, 8, 1, 10, 0, 1, 500000000, time.UTC)},
		{"05/30/2023", time.Date(2023, 5, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.value, func(tt *testing.T) {
			got, err := ParseDateTime(tc.value)
			require.NoError(tt, err)
			assert.True(tt, tc.expected.Equal(got), "got %s", got)
		})
	}

	_, err := ParseDateTime("2023/05/30 23:01:14")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match known formats")
}

func TestIsRenewable(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 2, 24, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsRenewable(Loan{RenewableOn: "2023-02-23T07:33:55Z"}, now))
	assert.False(t, IsRenewable(Loan{RenewableOn: "2023-02-25T07:33:55Z"}, now))
	assert.False(t, IsRenewable(Loan{}, now))
	assert.False(t, IsRenewable(Loan{RenewableOn: "tomorrow"}, now))
}

func TestCardLimits(t *testing.T) {
	t.Parallel()

	card := Card{Limits: Counts{Loan: 10, Hold: 5}, Counts: Counts{Loan: 3, Hold: 5}}
	assert.True(t, CanBorrow(card))
	assert.False(t, CanPlaceHold(card))
	assert.False(t, CanBorrow(Card{}))
}

func TestPeriodJSON(t *testing.T) {
	t.Parallel()

	lp := LendingPeriod{}
	require.NoError(t, json.Unmarshal([]byte(`{"preference":[7,"days"],"options":[[7,"days"],[14,"days"]]}`), &lp))
	assert.Equal(t, Period{Amount: 7, Units: "days"}, lp.Preference)
	assert.Len(t, lp.Options, 2)

	b, err := json.Marshal(Period{Amount: 14, Units: "days"})
	require.NoError(t, err)
	assert.Equal(t, `[14,"days"]`, string(b))
}

func TestIDJSON(t *testing.T) {
	t.Parallel()

	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`["1", 2, 12345678901]`), &ids))
	assert.Equal(t, []ID{"1", "2", "12345678901"}, ids)
}

func TestMediaTitle(t *testing.T) {
	t.Parallel()

	book := Loan{ID: "1", Title: "Dune", Subtitle: "Deluxe Edition", SortTitle: "dune", Type: TypeRef{ID: "ebook"}}
	assert.Equal(t, "Dune", MediaTitle(book, false))
	assert.Equal(t, "Dune: Deluxe Edition", MediaTitle(book, true))
	assert.Equal(t, "dune", MediaSortTitle(book))

	book.Title = "Dune Deluxe Edition"
	assert.Equal(t, "Dune Deluxe Edition", MediaTitle(book, true))

	magazine := Loan{ID: "7", Title: "The Economist", Edition: "March 4 2023", Type: TypeRef{ID: "magazine"}}
	assert.Equal(t, "The Economist - March 4 2023", MediaTitle(magazine, false))
	assert.Equal(t, "The Economist|7", MediaSortTitle(magazine))
}

func TestLinks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://libbyapp.com/library/lapl/everything/page-1/123", TitlePermalink("lapl", "123"))
	assert.Equal(t, "https://share.libbyapp.com/title/123", TitleShareLink("123"))
	assert.Equal(t, "123@lapl.overdrive.com", ODIdentifier("123", "lapl"))
	assert.Equal(t, "acsm", FileExtension(formats.EBookEPubAdobe))
	assert.True(t, IsValidSyncCode("12345678"))
	assert.False(t, IsValidSyncCode("1234567a"))
}

func TestLoanFormatHelpers(t *testing.T) {
	t.Parallel()

	loan := Loan{Formats: []formats.Descriptor{
		formats.NewDescriptor(formats.EBookKindle, true),
		formats.NewDescriptor(formats.EBookOverDrive, false),
		formats.NewDescriptor(formats.EBookEPubAdobe, false),
	}}
	d, err := LoanFormat(loan, true, false)
	require.NoError(t, err)
	assert.Equal(t, formats.EBookKindle, d.ID)
	_, err = LoanFormat(loan, true, true)
	require.Error(t, err)

	assert.True(t, IsDownloadableEBookLoan(loan))
	assert.False(t, IsOpenEBookLoan(loan))
	assert.False(t, IsDownloadableMagazineLoan(loan))
	assert.False(t, IsDownloadableAudiobookLoan(loan))

	covers := Covers{
		"cover150Wide": {Href: "https://img/150", Width: 150},
		"cover510Wide": {Href: "https://img/510", Width: 510},
		"cover300Wide": {Href: "https://img/300", Width: 300},
	}
	assert.Equal(t, "https://img/510", covers.Best())
	assert.Equal(t, "", Covers{}.Best())
}
