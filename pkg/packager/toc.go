package packager

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/libby"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// tocNode is either a single navigation item or a section grouping items.
type tocNode struct {
	Item        libby.TOCItem
	SectionName string
	Items       []libby.TOCItem
}

func (n tocNode) isSection() bool {
	return n.SectionName != ""
}

// groupTOC groups navigation items by section. Unsectioned items are placed
// as they are seen while sections are held back until a new section starts or
// the list ends, so an unsectioned item can come before the section that
// preceded it. Sections still pending when the list ends on an unsectioned
// item are dropped.
func groupTOC(toc []libby.TOCItem) []tocNode {
	var nodes []tocNode
	var order []string
	pending := map[string][]libby.TOCItem{}

	flush := func() {
		for _, name := range order {
			nodes = append(nodes, tocNode{SectionName: name, Items: pending[name]})
			delete(pending, name)
		}
		order = nil
	}
	add := func(item libby.TOCItem) {
		if _, ok := pending[item.SectionName]; !ok {
			order = append(order, item.SectionName)
		}
		pending[item.SectionName] = append(pending[item.SectionName], item)
	}

	for i, item := range toc {
		last := i == len(toc)-1
		if item.SectionName == "" {
			nodes = append(nodes, tocNode{Item: item})
			continue
		}
		if _, seen := pending[item.SectionName]; !seen || last {
			if last {
				add(item)
			}
			flush()
		}
		if !last {
			add(item)
		}
	}
	return nodes
}

const navTemplate = `<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title></title>
<style>
    #toc { list-style-type: none; padding-left: 0; }
    #toc > li { margin-top: 0.5rem; }
</style>
</head>
<body>
<nav epub:type="toc">
<h1>Contents</h1>
<ol id="toc"></ol>
</nav>
</body>
</html>`

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func link(href, text string) *html.Node {
	a := element(atom.A, html.Attribute{Key: "href", Val: href})
	a.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return a
}

// buildNav renders a navigation document for the table of contents. A
// section links to its first article.
func buildNav(title string, toc []libby.TOCItem) ([]byte, error) {
	doc, err := html.Parse(strings.NewReader(navTemplate))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if t := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); t != nil {
		t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	}
	list := findFirst(doc, func(n *html.Node) bool { return attr(n, "id") == "toc" })
	if list == nil {
		return nil, errors.New("navigation template has no toc list")
	}

	for _, node := range groupTOC(toc) {
		li := element(atom.Li)
		if !node.isSection() {
			li.AppendChild(link(node.Item.Path, node.Item.Title))
			list.AppendChild(li)
			continue
		}
		li.AppendChild(link(node.Items[0].Path, node.SectionName))
		ol := element(atom.Ol, html.Attribute{Key: "type", Val: "1"})
		for _, item := range node.Items {
			sub := element(atom.Li)
			sub.AppendChild(link(item.Path, item.Title))
			ol.AppendChild(sub)
		}
		li.AppendChild(ol)
		list.AppendChild(li)
	}
	return renderXHTML(doc, "")
}

type ncxText struct {
	Text string `xml:"text"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

type ncxNavPoint struct {
	ID        string        `xml:"id,attr"`
	Label     ncxText       `xml:"navLabel"`
	Content   ncxContent    `xml:"content"`
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxMeta struct {
	Content string `xml:"content,attr"`
	Name    string `xml:"name,attr"`
}

type ncxDoc struct {
	XMLName   xml.Name      `xml:"ncx"`
	Version   string        `xml:"version,attr"`
	Xmlns     string        `xml:"xmlns,attr"`
	Lang      string        `xml:"xml:lang,attr"`
	Meta      []ncxMeta     `xml:"head>meta"`
	DocTitle  ncxText       `xml:"docTitle"`
	DocAuthor ncxText       `xml:"docAuthor"`
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

// buildNCX renders a version 2005-1 NCX for the table of contents. When
// navPage is set a "Contents" entry pointing at it follows the first item.
func buildNCX(uid string, book *libby.OpenBook, navPage string) ([]byte, error) {
	doc := ncxDoc{
		Version:  "2005-1",
		Xmlns:    "http://www.daisy.org/z3986/2005/ncx/",
		Lang:     "en",
		Meta:     []ncxMeta{{Content: uid, Name: "dtb:uid"}},
		DocTitle: ncxText{Text: book.Title.Main},
	}
	if len(book.Creator) > 0 {
		doc.DocAuthor.Text = book.Creator[0].Name
	}

	counter := 0
	next := func() string {
		counter++
		return fmt.Sprintf("navPoint%d", counter)
	}
	for _, node := range groupTOC(book.Nav.TOC) {
		if !node.isSection() {
			doc.NavPoints = append(doc.NavPoints, ncxNavPoint{
				ID:      next(),
				Label:   ncxText{Text: node.Item.Title},
				Content: ncxContent{Src: node.Item.Path},
			})
			if counter == 1 && navPage != "" {
				doc.NavPoints = append(doc.NavPoints, ncxNavPoint{
					ID:      next(),
					Label:   ncxText{Text: "Contents"},
					Content: ncxContent{Src: navPage},
				})
			}
			continue
		}
		section := ncxNavPoint{
			ID:      next(),
			Label:   ncxText{Text: node.SectionName},
			Content: ncxContent{Src: node.Items[0].Path},
		}
		for _, item := range node.Items {
			section.NavPoints = append(section.NavPoints, ncxNavPoint{
				ID:      next(),
				Label:   ncxText{Text: item.Title},
				Content: ncxContent{Src: item.Path},
			})
		}
		doc.NavPoints = append(doc.NavPoints, section)
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return append([]byte(xml.Header), out...), nil
}

var (
	uidMetaPattern    = regexp.MustCompile(`<meta\b[^>]*\bname\s*=\s*["']dtb:uid["'][^>]*>`)
	uidContentPattern = regexp.MustCompile(`(\bcontent\s*=\s*)("[^"]*"|'[^']*')`)
)

// ncxUID reads the dtb:uid of an NCX document in any declared encoding.
func ncxUID(data []byte) (string, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return "", errors.WithStack(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "meta" {
			continue
		}
		var name, content string
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "name":
				name = a.Value
			case "content":
				content = a.Value
			}
		}
		if name == "dtb:uid" {
			return content, nil
		}
	}
}

// patchNCXUID replaces the dtb:uid of a publisher supplied NCX. changed is
// false when the document has no uid or already carries the expected one.
func patchNCXUID(data []byte, uid string) (patched []byte, changed bool, err error) {
	current, err := ncxUID(data)
	if err != nil || current == "" || current == uid {
		return data, false, nil
	}
	loc := uidMetaPattern.FindIndex(data)
	if loc == nil {
		return data, false, nil
	}
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(uid)); err != nil {
		return nil, false, errors.WithStack(err)
	}
	tag := uidContentPattern.ReplaceAll(data[loc[0]:loc[1]], []byte(`${1}"`+strings.ReplaceAll(escaped.String(), "$", "$$")+`"`))

	out := make([]byte, 0, len(data)+len(uid))
	out = append(out, data[:loc[0]]...)
	out = append(out, tag...)
	out = append(out, data[loc[1]:]...)
	return out, true, nil
}
