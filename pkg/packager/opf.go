package packager

import (
	"fmt"

	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/overdrive"
)

const (
	namespaceOPF = "http://www.idpf.org/2007/opf"
	namespaceDC  = "http://purl.org/dc/elements/1.1/"

	// publicationID is the id of the package's unique identifier.
	publicationID = "publication-id"
)

// creatorRoles maps catalog roles to MARC relators, in output order.
var creatorRoles = []struct {
	role    string
	relator string
}{
	{"Author", "aut"},
	{"Narrator", "nrt"},
	{"Editor", "edt"},
	{"Translator", "trl"},
	{"Illustrator", "ill"},
	{"Photographer", "pht"},
	{"Artist", "art"},
	{"Collaborator", "clb"},
	{"Other", "oth"},
	{"Publisher", "pbl"},
}

// isDirectFormat reports whether the format is assembled locally from the
// openbook manifest.
func isDirectFormat(f formats.Format) bool {
	return f == formats.EBookOverDrive || f == formats.MagazineOverDrive
}

// PublicationIdentifier is the identifier the package is known by: the ISBN
// of the loan format when there is one, or the title id.
func PublicationIdentifier(m *overdrive.Media, loanFormat formats.Format) string {
	if isbn := overdrive.ExtractISBN(m.Formats, []string{loanFormat.String()}); isbn != "" {
		return isbn
	}
	return string(m.ID)
}

// buildPackage builds the package element and its metadata. Manifest, spine
// and guide are added by the caller.
func buildPackage(m *overdrive.Media, version string, loanFormat formats.Format) *xmlNode {
	v3 := version == Version3
	v2 := version == Version2
	magazine := loanFormat == formats.MagazineOverDrive

	pkg := newNode("package", "version", version, "xmlns", namespaceOPF, "unique-identifier", publicationID)
	meta := pkg.add("metadata", "", "xmlns:dc", namespaceDC, "xmlns:opf", namespaceOPF)

	title := m.Title
	if magazine && m.Edition != "" {
		title = m.Title + " - " + m.Edition
	}
	mainTitle := meta.add("dc:title", title)
	if v3 {
		mainTitle.set("id", "main-title")
		meta.add("meta", "main", "refines", "#main-title", "property", "title-type")
	}
	if v2 && !isDirectFormat(loanFormat) && m.Subtitle != "" {
		meta.add("dc:subtitle", m.Subtitle)
	}
	if v3 && m.Subtitle != "" {
		meta.add("dc:title", m.Subtitle, "id", "sub-title")
		meta.add("meta", "subtitle", "refines", "#sub-title", "property", "title-type")
	}
	if v3 && m.Edition != "" {
		meta.add("dc:title", m.Edition, "id", "edition")
		meta.add("meta", "edition", "refines", "#edition", "property", "title-type")
	}

	language := "en"
	if len(m.Languages) > 0 && m.Languages[0].ID != "" {
		language = m.Languages[0].ID
	}
	meta.add("dc:language", language)

	addIdentifiers(meta, m, version, loanFormat)
	addCreators(meta, m, version)

	if m.Publisher != nil && m.Publisher.Name != "" {
		meta.add("dc:publisher", m.Publisher.Name)
	}
	if m.Description != "" {
		meta.add("dc:description", m.Description)
	}
	for _, s := range m.Subjects {
		meta.add("dc:subject", s.Name)
	}
	if v2 && !isDirectFormat(loanFormat) {
		for _, k := range m.Keywords {
			meta.add("dc:tag", k)
		}
	}
	if v3 {
		for i, b := range m.Bisac {
			id := fmt.Sprintf("subject_%d", i+1)
			meta.add("dc:subject", b.Description, "id", id)
			meta.add("meta", "BISAC", "refines", "#"+id, "property", "authority")
			meta.add("meta", b.Code, "refines", "#"+id, "property", "term")
		}
	}

	published := m.PublishDate
	if published == "" {
		published = m.EstimatedReleaseDate
	}
	if published != "" {
		date := meta.add("dc:date", published)
		if v2 {
			date.set("opf:event", "publication")
		}
		if v3 {
			meta.add("meta", published, "property", "dcterms:modified")
		}
	}

	addSeries(meta, m, version, magazine)
	return pkg
}

func addIdentifiers(meta *xmlNode, m *overdrive.Media, version string, loanFormat formats.Format) {
	v2, v3 := version == Version2, version == Version3

	id := meta.add("dc:identifier", "", "id", publicationID)
	if isbn := overdrive.ExtractISBN(m.Formats, []string{loanFormat.String()}); isbn != "" {
		id.Text = isbn
		if v2 {
			id.set("opf:scheme", "ISBN")
		}
		if v3 && (len(isbn) == 10 || len(isbn) == 13) {
			// ONIX code list 5: 15 is ISBN-13, 02 is ISBN-10
			code := "02"
			if len(isbn) == 13 {
				code = "15"
			}
			meta.add("meta", code, "refines", "#"+publicationID, "property", "identifier-type", "scheme", "onix:codelist5")
		}
	} else {
		id.Text = string(m.ID)
		if v2 {
			id.set("opf:scheme", "overdrive")
		}
	}

	if asin := overdrive.ExtractASIN(m.Formats); asin != "" {
		tag := meta.add("dc:identifier", asin, "id", "asin")
		if v2 {
			tag.set("opf:scheme", "ASIN")
		}
		if v3 {
			meta.add("meta", "ASIN", "refines", "#asin", "property", "identifier-type")
		}
	}

	odID := meta.add("dc:identifier", string(m.ID), "id", "overdrive-id")
	reserveID := meta.add("dc:identifier", m.ReserveID, "id", "overdrive-reserve-id")
	if v2 {
		odID.set("opf:scheme", "OverDriveId")
		reserveID.set("opf:scheme", "OverDriveReserveId")
	}
	if v3 {
		meta.add("meta", "overdrive-id", "refines", "#overdrive-id", "property", "identifier-type")
		meta.add("meta", "overdrive-reserve-id", "refines", "#overdrive-reserve-id", "property", "identifier-type")
	}
}

func addCreators(meta *xmlNode, m *overdrive.Media, version string) {
	creators := m.Creators
	// magazines have no creators, so the publisher stands in
	if len(creators) == 0 && m.Publisher != nil && m.Publisher.Name != "" {
		creators = []libby.Creator{{ID: m.Publisher.ID, Name: m.Publisher.Name, Role: "Publisher"}}
	}

	for _, r := range creatorRoles {
		for _, c := range creators {
			if c.Role != r.role {
				continue
			}
			creator := meta.add("dc:creator", c.Name)
			switch version {
			case Version2:
				creator.set("opf:role", r.relator)
				if c.SortName != "" {
					creator.set("opf:file-as", c.SortName)
				}
			case Version3:
				ref := fmt.Sprintf("creator_%s", c.ID)
				creator.set("id", ref)
				if c.SortName != "" {
					meta.add("meta", c.SortName, "refines", "#"+ref, "property", "file-as")
				}
				meta.add("meta", r.relator, "refines", "#"+ref, "property", "role", "scheme", "marc:relators")
			}
		}
	}
}

func addSeries(meta *xmlNode, m *overdrive.Media, version string, magazine bool) {
	if m.DetailedSeries == nil && m.Series == "" && !magazine {
		return
	}
	v3 := version == Version3

	var series libby.DetailedSeries
	if m.DetailedSeries != nil {
		series = *m.DetailedSeries
	}
	name := series.SeriesName
	if name == "" {
		name = m.Series
	}
	if name == "" && magazine {
		name = m.Title
	}
	if name != "" {
		meta.add("meta", "", "name", "calibre:series", "content", name)
		if v3 {
			meta.add("meta", name, "id", "series-name", "property", "belongs-to-collection")
			meta.add("meta", "series", "refines", "#series-name", "property", "collection-type")
		}
	}

	order := series.ReadingOrder
	if order == "" && magazine && m.EstimatedReleaseDate != "" {
		// issues are ordered by release date as two digit year and day of year
		if released, err := libby.ParseDateTime(m.EstimatedReleaseDate); err == nil {
			order = fmt.Sprintf("%02d%03d", released.Year()%100, released.YearDay())
		}
	}
	if order != "" {
		meta.add("meta", "", "name", "calibre:series_index", "content", order)
		if v3 {
			meta.add("meta", order, "refines", "#series-name", "property", "group-position")
		}
	}
}
