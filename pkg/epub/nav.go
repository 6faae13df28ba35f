package epub

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Chapter is an entry of the table of contents.
type Chapter struct {
	Title    string
	Href     string
	Children []Chapter
}

// NavHTML represents the EPUB 3 navigation document structure.
type NavHTML struct {
	XMLName xml.Name `xml:"html"`
	Body    struct {
		Nav []NavElement `xml:"nav"`
	} `xml:"body"`
}

type NavElement struct {
	Type string `xml:"type,attr"`
	OL   *NavOL `xml:"ol"`
}

type NavOL struct {
	Items []NavLI `xml:"li"`
}

type NavLI struct {
	A        *NavLink `xml:"a"`
	Span     *NavSpan `xml:"span"`
	Children *NavOL   `xml:"ol"`
}

type NavLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

// NavSpan is a heading without a link.
type NavSpan struct {
	Text string `xml:",chardata"`
}

// decodeXHTML decodes a content document leniently: unknown HTML entities and
// unclosed void elements are tolerated.
func decodeXHTML(data []byte, v interface{}) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	return errors.WithStack(d.Decode(v))
}

// parseNavDocument returns the toc of an EPUB 3 navigation document.
func parseNavDocument(r io.Reader) ([]Chapter, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var nav NavHTML
	if err := decodeXHTML(data, &nav); err != nil {
		return nil, err
	}

	for _, n := range nav.Body.Nav {
		if n.Type == "toc" && n.OL != nil {
			return parseNavOL(n.OL), nil
		}
	}
	return nil, nil
}

func parseNavOL(ol *NavOL) []Chapter {
	if ol == nil {
		return nil
	}

	chapters := make([]Chapter, 0, len(ol.Items))
	for _, li := range ol.Items {
		ch := Chapter{}
		if li.A != nil {
			ch.Title = strings.TrimSpace(li.A.Text)
			ch.Href = li.A.Href
		} else if li.Span != nil {
			ch.Title = strings.TrimSpace(li.Span.Text)
		}
		if ch.Title == "" {
			continue
		}
		ch.Children = parseNavOL(li.Children)
		chapters = append(chapters, ch)
	}
	return chapters
}

// NCX represents the EPUB 2 NCX structure.
type NCX struct {
	XMLName xml.Name `xml:"ncx"`
	Head    struct {
		Meta []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"head"`
	NavMap struct {
		NavPoints []NCXNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type NCXNavPoint struct {
	ID       string `xml:"id,attr"`
	NavLabel struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []NCXNavPoint `xml:"navPoint"`
}

// parseNCX returns the toc of an NCX document and its dtb:uid.
func parseNCX(r io.Reader) ([]Chapter, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}

	var ncx NCX
	if err := xml.Unmarshal(data, &ncx); err != nil {
		return nil, "", errors.WithStack(err)
	}

	uid := ""
	for _, m := range ncx.Head.Meta {
		if m.Name == "dtb:uid" {
			uid = m.Content
		}
	}
	return parseNCXNavPoints(ncx.NavMap.NavPoints), uid, nil
}

func parseNCXNavPoints(navPoints []NCXNavPoint) []Chapter {
	chapters := make([]Chapter, 0, len(navPoints))
	for _, np := range navPoints {
		title := strings.TrimSpace(np.NavLabel.Text)
		if title == "" {
			continue
		}
		chapters = append(chapters, Chapter{
			Title:    title,
			Href:     np.Content.Src,
			Children: parseNCXNavPoints(np.Children),
		})
	}
	return chapters
}

// Titles flattens the toc into its titles, depth first.
func Titles(chapters []Chapter) []string {
	titles := []string{}
	for _, ch := range chapters {
		titles = append(titles, ch.Title)
		titles = append(titles, Titles(ch.Children)...)
	}
	return titles
}
