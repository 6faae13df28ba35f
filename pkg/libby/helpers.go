package libby

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/binder"
	"github.com/shishobooks/libby/pkg/formats"
)

// dateLayouts are tried in order. Zone-less values are taken to be UTC.
var dateLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"01/02/2006", // publishDateText
}

// ParseDateTime parses the timestamps the services return.
func ParseDateTime(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("time data %q does not match known formats", value)
}

// IsRenewable reports whether the loan's renewal window has opened.
func IsRenewable(loan Loan, now time.Time) bool {
	if loan.RenewableOn == "" {
		return false
	}
	t, err := ParseDateTime(loan.RenewableOn)
	if err != nil {
		return false
	}
	return !t.After(now)
}

func CanBorrow(card Card) bool {
	return card.CanBorrow()
}

func CanPlaceHold(card Card) bool {
	return card.CanPlaceHold()
}

func TitlePermalink(libraryKey string, titleID ID) string {
	return fmt.Sprintf("https://libbyapp.com/library/%s/everything/page-1/%s", libraryKey, titleID)
}

func TitleShareLink(titleID ID) string {
	return fmt.Sprintf("https://share.libbyapp.com/title/%s", titleID)
}

// FileExtension is the extension used to save a fulfilled file.
func FileExtension(f formats.Format) string {
	return f.Extension()
}

// IsValidSyncCode reports whether code is an 8 digit setup code.
func IsValidSyncCode(code string) bool {
	return binder.IsValidSyncCode(code)
}

// MediaTitle returns the display title of a loan.
func MediaTitle(loan Loan, includeSubtitle bool) string {
	return mediaTitle(loan, false, includeSubtitle)
}

// MediaSortTitle returns a title suitable for ordering loans. Magazine issues
// that share a title are kept apart by their id.
func MediaSortTitle(loan Loan) string {
	return mediaTitle(loan, true, false)
}

func mediaTitle(loan Loan, forSorting, includeSubtitle bool) string {
	title := loan.Title
	if forSorting && loan.SortTitle != "" {
		title = loan.SortTitle
	}
	if includeSubtitle && loan.Subtitle != "" && !strings.HasSuffix(title, loan.Subtitle) {
		title = fmt.Sprintf("%s: %s", title, loan.Subtitle)
	}
	if loan.MediaType() == formats.MediaMagazine && loan.Edition != "" {
		if forSorting {
			return fmt.Sprintf("%s|%s", title, loan.ID)
		}
		title = fmt.Sprintf("%s - %s", title, loan.Edition)
	}
	return title
}

// ODIdentifier is the identifier stored against a title in the library
// database.
func ODIdentifier(titleID ID, libraryKey string) string {
	return fmt.Sprintf("%s@%s.overdrive.com", titleID, libraryKey)
}

// LoanFormat picks the format to fulfil a loan with.
func LoanFormat(loan Loan, preferOpen, requireDownloadable bool) (formats.Descriptor, error) {
	return formats.Select(loan.Formats, preferOpen, requireDownloadable)
}

func IsDownloadableAudiobookLoan(loan Loan) bool {
	return formats.Has(loan.Formats, formats.AudiobookMP3)
}

func IsDownloadableEBookLoan(loan Loan) bool {
	for _, f := range loan.Formats {
		if f.ID.IsDownloadableEBook() {
			return true
		}
	}
	return false
}

func IsDownloadableMagazineLoan(loan Loan) bool {
	return formats.Has(loan.Formats, formats.MagazineOverDrive)
}

func IsOpenEBookLoan(loan Loan) bool {
	return formats.Has(loan.Formats, formats.EBookEPubOpen)
}
