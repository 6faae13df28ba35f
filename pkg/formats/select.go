package formats

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoFormats            = errors.New("no formats found")
	ErrNoDownloadableFormat = errors.New("unable to find a downloadable format")
)

// LockedFormatError is returned when a loan is locked to a format that cannot
// be downloaded.
type LockedFormatError struct {
	Format Descriptor
}

func (e *LockedFormatError) Error() string {
	return fmt.Sprintf("loan is locked to a non-downloadable format %q", e.Format.String())
}

// Has reports whether f is present in the list.
func Has(descs []Descriptor, f Format) bool {
	for _, d := range descs {
		if d.ID == f {
			return true
		}
	}
	return false
}

// LockedIn returns the format the loan is locked to, if any.
func LockedIn(descs []Descriptor) (Descriptor, bool) {
	for _, d := range descs {
		if d.IsLockedIn {
			return d, true
		}
	}
	return Descriptor{}, false
}

// CountLockedIn returns how many formats are marked as locked in.
func CountLockedIn(descs []Descriptor) int {
	n := 0
	for _, d := range descs {
		if d.IsLockedIn {
			n++
		}
	}
	return n
}

func hasDownloadableEBook(descs []Descriptor) bool {
	for _, d := range descs {
		if d.ID.IsDownloadableEBook() {
			return true
		}
	}
	return false
}

type candidate struct {
	format   Format
	openOnly bool
	ebook    bool
}

// priority is the fixed order in which unlocked formats are chosen.
var priority = []candidate{
	{format: AudiobookMP3},
	{format: EBookEPubOpen, openOnly: true, ebook: true},
	{format: MagazineOverDrive},
	{format: EBookEPubAdobe, ebook: true},
	{format: EBookPDFOpen, openOnly: true, ebook: true},
	{format: EBookPDFAdobe, ebook: true},
	{format: EBookKindle},
	{format: EBookOverDrive},
	{format: EBookOverDriveProvisional},
	{format: EBookKobo},
}

// Select picks the format to fulfil a loan with. A locked-in format always
// wins; it is only rejected when requireDownloadable is set and the format
// cannot be downloaded. Otherwise the first available format in the fixed
// priority order is used, and a loan with a single unrecognised format falls
// back to it.
func Select(descs []Descriptor, preferOpen, requireDownloadable bool) (Descriptor, error) {
	if len(descs) == 0 {
		return Descriptor{}, ErrNoFormats
	}

	if locked, ok := LockedIn(descs); ok {
		if locked.ID.IsDownloadable() || !requireDownloadable {
			return locked, nil
		}
		return Descriptor{}, &LockedFormatError{Format: locked}
	}

	ebook := hasDownloadableEBook(descs)
	for _, c := range priority {
		if c.openOnly && !preferOpen {
			continue
		}
		if c.ebook && !ebook {
			continue
		}
		for _, d := range descs {
			if d.ID == c.format {
				return d, nil
			}
		}
	}

	if len(descs) == 1 {
		return descs[0], nil
	}
	return Descriptor{}, ErrNoDownloadableFormat
}
