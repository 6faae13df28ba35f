package formats

import (
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// Format is one of the delivery formats the lending service knows about.
type Format int

const (
	Unknown Format = iota
	AudiobookMP3
	AudiobookOverDrive
	EBookEPubAdobe
	EBookEPubOpen
	EBookPDFAdobe
	EBookPDFOpen
	EBookKobo
	EBookKindle
	EBookOverDrive
	EBookOverDriveProvisional
	MagazineOverDrive
)

var wireNames = map[Format]string{
	AudiobookMP3:              "audiobook-mp3",
	AudiobookOverDrive:        "audiobook-overdrive",
	EBookEPubAdobe:            "ebook-epub-adobe",
	EBookEPubOpen:             "ebook-epub-open",
	EBookPDFAdobe:             "ebook-pdf-adobe",
	EBookPDFOpen:              "ebook-pdf-open",
	EBookKobo:                 "ebook-kobo",
	EBookKindle:               "ebook-kindle",
	EBookOverDrive:            "ebook-overdrive",
	EBookOverDriveProvisional: "ebook-overdrive-provisional",
	MagazineOverDrive:         "magazine-overdrive",
}

var byWireName = func() map[string]Format {
	m := make(map[string]Format, len(wireNames))
	for f, name := range wireNames {
		m[name] = f
	}
	return m
}()

// Parse maps a wire identifier to a Format. Unrecognised identifiers return
// Unknown.
func Parse(s string) Format {
	return byWireName[s]
}

func (f Format) String() string {
	if name, ok := wireNames[f]; ok {
		return name
	}
	return "unknown"
}

func (f Format) MarshalText() ([]byte, error) {
	if f == Unknown {
		return nil, errors.New("cannot marshal unknown format")
	}
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	*f = Parse(string(b))
	return nil
}

// IsDownloadable reports whether the format's bytes can be fetched and stored
// as a file.
func (f Format) IsDownloadable() bool {
	switch f {
	case EBookEPubAdobe, EBookEPubOpen, EBookPDFAdobe, EBookPDFOpen, MagazineOverDrive:
		return true
	}
	return false
}

// IsFulfillable reports whether the fulfillment endpoint serves the format
// as a file. Unlike IsDownloadable it includes MP3 audiobooks, whose
// fulfillment is an ODM manifest.
func (f Format) IsFulfillable() bool {
	return f.IsDownloadable() || f == AudiobookMP3
}

func (f Format) IsDownloadableEBook() bool {
	switch f {
	case EBookEPubAdobe, EBookEPubOpen, EBookPDFAdobe, EBookPDFOpen:
		return true
	}
	return false
}

// IsOpen reports whether the format is delivered without DRM through a
// redirect to the content CDN.
func (f Format) IsOpen() bool {
	return f == EBookEPubOpen || f == EBookPDFOpen
}

// Extension is the file extension used when the fulfilled bytes are saved.
func (f Format) Extension() string {
	switch f {
	case EBookEPubAdobe, EBookPDFAdobe:
		return "acsm"
	case EBookPDFOpen:
		return "pdf"
	case EBookEPubOpen, EBookOverDrive, MagazineOverDrive:
		return "epub"
	}
	return "odm"
}

// Descriptor is a format entry on a loan or catalog record. Wire keeps the
// original identifier so that unrecognised formats survive a round trip.
type Descriptor struct {
	ID         Format
	Wire       string
	IsLockedIn bool
}

type descriptorJSON struct {
	ID         string `json:"id"`
	IsLockedIn bool   `json:"isLockedIn,omitempty"`
}

func NewDescriptor(f Format, lockedIn bool) Descriptor {
	return Descriptor{ID: f, Wire: f.String(), IsLockedIn: lockedIn}
}

func (d Descriptor) String() string {
	if d.Wire != "" {
		return d.Wire
	}
	return d.ID.String()
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{ID: d.String(), IsLockedIn: d.IsLockedIn})
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	raw := descriptorJSON{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.WithStack(err)
	}
	d.Wire = raw.ID
	d.ID = Parse(raw.ID)
	d.IsLockedIn = raw.IsLockedIn
	return nil
}

// MediaType is the kind of title a loan or hold refers to.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaEBook
	MediaAudiobook
	MediaMagazine
)

var mediaWireNames = map[MediaType]string{
	MediaEBook:     "ebook",
	MediaAudiobook: "audiobook",
	MediaMagazine:  "magazine",
}

func ParseMediaType(s string) MediaType {
	for t, name := range mediaWireNames {
		if name == s {
			return t
		}
	}
	return MediaUnknown
}

func (t MediaType) String() string {
	if name, ok := mediaWireNames[t]; ok {
		return name
	}
	return "unknown"
}

// OpenPath is the type segment used by the loan preparation route.
func (t MediaType) OpenPath() string {
	switch t {
	case MediaAudiobook:
		return "audiobook"
	case MediaMagazine:
		return "magazine"
	}
	return "book"
}

// LendingPeriodKey is the key of the card's lendingPeriods map for the type.
func (t MediaType) LendingPeriodKey() string {
	if t == MediaEBook {
		return "book"
	}
	return t.String()
}
