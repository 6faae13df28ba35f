package epub

import (
	"encoding/xml"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Identifier struct {
	ID     string
	Scheme string
	Value  string
}

type Creator struct {
	Name   string
	Role   string
	FileAs string
}

type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// OPF is the metadata of a package document. Paths are relative to the root
// of the archive.
type OPF struct {
	Version          string
	UniqueIdentifier string
	Title            string
	Subtitle         string
	Language         string
	Publisher        string
	Creators         []Creator
	Identifiers      []Identifier
	Subjects         []string
	Series           string
	SeriesNumber     *float64
	CoverFilepath    string
	CoverMimeType    string
	NavFilepath      string
	NCXFilepath      string
	Manifest         []ManifestItem
	Spine            []string
}

// PublicationIdentifier returns the value of the identifier named by the
// package's unique-identifier attribute.
func (o *OPF) PublicationIdentifier() string {
	for _, id := range o.Identifiers {
		if id.ID == o.UniqueIdentifier {
			return id.Value
		}
	}
	return ""
}

type Package struct {
	XMLName          xml.Name `xml:"package"`
	Version          string   `xml:"version,attr"`
	UniqueIdentifier string   `xml:"unique-identifier,attr"`
	Metadata         struct {
		Title []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
		} `xml:"title"`
		Subtitle string `xml:"subtitle"`
		Creator  []struct {
			Text   string `xml:",chardata"`
			ID     string `xml:"id,attr"`
			Role   string `xml:"role,attr"`
			FileAs string `xml:"file-as,attr"`
		} `xml:"creator"`
		Publisher  string   `xml:"publisher"`
		Subject    []string `xml:"subject"`
		Identifier []struct {
			Text   string `xml:",chardata"`
			ID     string `xml:"id,attr"`
			Scheme string `xml:"scheme,attr"`
		} `xml:"identifier"`
		Language string `xml:"language"`
		Meta     []struct {
			Text     string `xml:",chardata"`
			Name     string `xml:"name,attr"`
			Content  string `xml:"content,attr"`
			Refines  string `xml:"refines,attr"`
			Property string `xml:"property,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Item []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc     string `xml:"toc,attr"`
		Itemref []struct {
			Idref string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func ParseOPF(filename string, r io.Reader) (*OPF, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pkg := &Package{}
	if err := xml.Unmarshal(b, pkg); err != nil {
		return nil, errors.WithStack(err)
	}

	// Every href is relative to the directory holding the package document.
	basePath := path.Dir(filename)
	resolve := func(href string) string {
		if basePath == "." {
			return href
		}
		return basePath + "/" + href
	}

	metaProperties := map[string]map[string]string{}
	metaContent := map[string]string{}
	for _, m := range pkg.Metadata.Meta {
		if m.Refines != "" {
			key := strings.TrimPrefix(m.Refines, "#")
			if _, ok := metaProperties[key]; !ok {
				metaProperties[key] = map[string]string{}
			}
			metaProperties[key][m.Property] = strings.TrimSpace(m.Text)
		} else if m.Content != "" {
			metaContent[m.Name] = m.Content
		}
	}

	opf := &OPF{
		Version:          pkg.Version,
		UniqueIdentifier: pkg.UniqueIdentifier,
		Language:         strings.TrimSpace(pkg.Metadata.Language),
		Publisher:        strings.TrimSpace(pkg.Metadata.Publisher),
		Subtitle:         strings.TrimSpace(pkg.Metadata.Subtitle),
		Series:           metaContent["calibre:series"],
	}

	for _, t := range pkg.Metadata.Title {
		text := strings.TrimSpace(t.Text)
		switch metaProperties[t.ID]["title-type"] {
		case "main":
			opf.Title = text
		case "subtitle":
			opf.Subtitle = text
		case "":
			if opf.Title == "" {
				opf.Title = text
			}
		}
	}
	if opf.Title == "" && len(pkg.Metadata.Title) > 0 {
		opf.Title = strings.TrimSpace(pkg.Metadata.Title[0].Text)
	}

	for _, c := range pkg.Metadata.Creator {
		creator := Creator{Name: strings.TrimSpace(c.Text), Role: c.Role, FileAs: c.FileAs}
		if props := metaProperties[c.ID]; props != nil {
			if creator.Role == "" {
				creator.Role = props["role"]
			}
			if creator.FileAs == "" {
				creator.FileAs = props["file-as"]
			}
		}
		opf.Creators = append(opf.Creators, creator)
	}

	for _, id := range pkg.Metadata.Identifier {
		scheme := id.Scheme
		if scheme == "" {
			scheme = metaProperties[id.ID]["identifier-type"]
		}
		opf.Identifiers = append(opf.Identifiers, Identifier{ID: id.ID, Scheme: scheme, Value: strings.TrimSpace(id.Text)})
	}

	for _, s := range pkg.Metadata.Subject {
		if s = strings.TrimSpace(s); s != "" {
			opf.Subjects = append(opf.Subjects, s)
		}
	}

	if idx := metaContent["calibre:series_index"]; idx != "" {
		if num, err := strconv.ParseFloat(idx, 64); err == nil {
			opf.SeriesNumber = &num
		}
	}

	hrefs := map[string]string{}
	for _, item := range pkg.Manifest.Item {
		opf.Manifest = append(opf.Manifest, ManifestItem{
			ID:         item.ID,
			Href:       item.Href,
			MediaType:  item.MediaType,
			Properties: item.Properties,
		})
		hrefs[item.ID] = resolve(item.Href)

		props := strings.Fields(item.Properties)
		for _, p := range props {
			switch p {
			case "nav":
				opf.NavFilepath = resolve(item.Href)
			case "cover-image":
				opf.CoverFilepath = resolve(item.Href)
				opf.CoverMimeType = item.MediaType
			}
		}
		if item.ID == metaContent["cover"] && opf.CoverFilepath == "" {
			opf.CoverFilepath = resolve(item.Href)
			opf.CoverMimeType = item.MediaType
		}
	}
	if pkg.Spine.Toc != "" {
		opf.NCXFilepath = hrefs[pkg.Spine.Toc]
	}
	for _, ref := range pkg.Spine.Itemref {
		if href, ok := hrefs[ref.Idref]; ok {
			opf.Spine = append(opf.Spine, href)
		}
	}

	return opf, nil
}
