package overdrive

import (
	"fmt"
	"sort"

	"github.com/shishobooks/libby/pkg/libby"
)

// defaultRank is used when the catalog leaves out a wait or holds ratio.
const defaultRank = 9999

func LibraryTitlePermalink(libraryKey string, titleID libby.ID) string {
	return fmt.Sprintf("https://%s.overdrive.com/media/%s", libraryKey, titleID)
}

// BestCoverURL returns the widest cover of the title.
func BestCoverURL(m Media) string {
	return m.Covers.Best()
}

func identifierValue(f MediaFormat, kind string) string {
	for _, i := range f.Identifiers {
		if i.Type == kind && i.Value != "" {
			return i.Value
		}
	}
	return ""
}

// ExtractASIN returns the first Amazon ASIN found on any format.
func ExtractASIN(formats []MediaFormat) string {
	for _, f := range formats {
		if asin := identifierValue(f, IdentifierASIN); asin != "" {
			return asin
		}
	}
	return ""
}

// ExtractISBN returns the ISBN of the first matching format. An empty
// formatTypes matches any format. A format's own isbn field is preferred,
// then LibraryISBN identifiers, then ISBN identifiers.
func ExtractISBN(formats []MediaFormat, formatTypes []string) string {
	allowed := map[string]bool{}
	for _, t := range formatTypes {
		allowed[t] = true
	}
	matches := func(f MediaFormat) bool {
		return len(allowed) == 0 || allowed[f.ID]
	}

	for _, f := range formats {
		if matches(f) && f.ISBN != "" {
			return f.ISBN
		}
	}
	for _, kind := range []string{IdentifierLibraryISBN, IdentifierISBN} {
		for _, f := range formats {
			if !matches(f) {
				continue
			}
			if isbn := identifierValue(f, kind); isbn != "" {
				return isbn
			}
		}
	}
	return ""
}

func waitDays(a Availability) int {
	if a.EstimatedWaitDays == nil {
		return defaultRank
	}
	return *a.EstimatedWaitDays
}

func holdsRatio(a Availability) float64 {
	if a.HoldsRatio == nil {
		return defaultRank
	}
	return *a.HoldsRatio
}

// availabilityLess reports whether a is a better place to borrow from than b.
func availabilityLess(a, b Availability) bool {
	if a.IsAvailable != b.IsAvailable {
		return a.IsAvailable
	}
	if a.IsAvailable {
		return a.LuckyDayAvailableCopies+a.OwnedCopies > b.LuckyDayAvailableCopies+b.OwnedCopies
	}

	aLucky, bLucky := a.LuckyDayAvailableCopies > 0, b.LuckyDayAvailableCopies > 0
	if aLucky != bLucky {
		return aLucky
	}
	if wa, wb := waitDays(a), waitDays(b); wa != wb {
		return wa < wb
	}
	if ra, rb := holdsRatio(a), holdsRatio(b); ra != rb {
		return ra < rb
	}
	return a.OwnedCopies > b.OwnedCopies
}

// SortAvailabilities orders availabilities from best to worst. Available
// sites come first, ordered by copies. Unavailable sites with lucky day
// copies come next, then the rest by shortest wait.
func SortAvailabilities(availabilities []Availability) {
	sort.SliceStable(availabilities, func(i, j int) bool {
		return availabilityLess(availabilities[i], availabilities[j])
	})
}

// BestAvailability returns the best of the availabilities. ok is false when
// there are none.
func BestAvailability(availabilities []Availability) (best Availability, ok bool) {
	if len(availabilities) == 0 {
		return Availability{}, false
	}
	sorted := append([]Availability(nil), availabilities...)
	SortAvailabilities(sorted)
	return sorted[0], true
}
