package packager

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	namespaceXHTML = "http://www.w3.org/1999/xhtml"
	namespaceSVG   = "http://www.w3.org/2000/svg"
	namespaceXLink = "http://www.w3.org/1999/xlink"
)

var (
	xmlDeclPattern          = regexp.MustCompile(`^<\?xml[^?]*\?>`)
	commentedXMLDeclPattern = regexp.MustCompile(`<!--\?xml[^-]*-->`)
	selfClosingPattern      = regexp.MustCompile(`<([a-zA-Z][\w:.-]*)(\s[^<>]*?)?\s*/>`)

	// pages deliver their body as a base64 payload passed to a loader script
	contentScriptPattern = regexp.MustCompile(`parent\.__bif_cfc0\(self,'(?P<base64_text>.+)'\)`)
)

// voidElements keep their empty-element form. Any other self-closed tag is
// expanded, since the HTML parser ignores the slash and would swallow the
// following markup.
var voidElements = map[string]bool{
	"area":   true,
	"base":   true,
	"br":     true,
	"col":    true,
	"embed":  true,
	"hr":     true,
	"img":    true,
	"input":  true,
	"link":   true,
	"meta":   true,
	"param":  true,
	"source": true,
	"track":  true,
	"wbr":    true,
}

// epub2Attributes are attributes EPUB 2 readers reject.
var epub2Attributes = map[string]bool{
	"aria-label":           true,
	"data-loc":             true,
	"data-epub-type":       true,
	"data-document-status": true,
	"data-xml-lang":        true,
	"lang":                 true,
	"role":                 true,
	"epub:type":            true,
	"epub:prefix":          true,
}

// document is a parsed content page. The XML declaration is held aside
// because the HTML parser turns it into a comment.
type document struct {
	root    *html.Node
	xmlDecl string
}

func parseDocument(data []byte) (*document, error) {
	s := strings.TrimLeft(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), " \t\r\n")
	decl := xmlDeclPattern.FindString(s)
	s = expandSelfClosing(strings.TrimPrefix(s, decl))

	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &document{root: root, xmlDecl: decl}, nil
}

// expandSelfClosing rewrites <tag attrs/> as <tag attrs></tag> for non-void
// elements.
func expandSelfClosing(s string) string {
	return selfClosingPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := selfClosingPattern.FindStringSubmatch(m)
		if voidElements[strings.ToLower(sub[1])] {
			return m
		}
		return "<" + sub[1] + sub[2] + "></" + sub[1] + ">"
	})
}

func (d *document) render() ([]byte, error) {
	return renderXHTML(d.root, d.xmlDecl)
}

func renderXHTML(root *html.Node, xmlDecl string) ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, errors.WithStack(err)
	}
	out := commentedXMLDeclPattern.ReplaceAll(buf.Bytes(), nil)
	if xmlDecl == "" {
		return out, nil
	}
	return append([]byte(xmlDecl+"\n"), out...), nil
}

func attrName(a html.Attribute) string {
	if a.Namespace != "" {
		return a.Namespace + ":" + a.Key
	}
	return a.Key
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if attrName(a) == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if attrName(a) == name {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, name string) bool {
	return n.Type == html.ElementNode && n.Data == name
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func named(name string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == name }
}

func rename(n *html.Node, a atom.Atom) {
	n.DataAtom = a
	n.Data = a.String()
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	return b, errors.WithStack(err)
}

// unwrapContent replaces the placeholder body of a page with the markup
// carried by its loader script. ok is false when the page has a loader
// script but no payload could be extracted from it.
func (d *document) unwrapContent() (ok bool, err error) {
	script := findFirst(d.root, func(n *html.Node) bool {
		return n.DataAtom == atom.Script && attr(n, "type") == "text/javascript"
	})
	if script == nil {
		return true, nil
	}
	var text string
	if script.FirstChild != nil && script.FirstChild.Type == html.TextNode {
		text = script.FirstChild.Data
	}
	m := contentScriptPattern.FindStringSubmatch(text)
	if m == nil {
		return false, nil
	}
	payload, err := decodeBase64(m[contentScriptPattern.SubexpIndex("base64_text")])
	if err != nil {
		return false, err
	}
	content, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return false, errors.WithStack(err)
	}

	newBody := findFirst(content, named("body"))
	oldBody := findFirst(d.root, named("body"))
	if newBody == nil || oldBody == nil {
		return false, nil
	}
	newBody.Parent.RemoveChild(newBody)
	oldBody.Parent.InsertBefore(newBody, oldBody)
	oldBody.Parent.RemoveChild(oldBody)
	return true, nil
}

// cleanup makes a page acceptable to the target EPUB version.
func (d *document) cleanup(version string) {
	if version == Version2 {
		for c := d.root.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.DoctypeNode {
				c.Data = "html"
				c.Attr = []html.Attribute{
					{Key: "public", Val: "-//W3C//DTD XHTML 1.1//EN"},
					{Key: "system", Val: "http://www.w3.org/TR/xhtml11/DTD/xhtml11.dtd"},
				}
				break
			}
		}
		for _, n := range findAll(d.root, func(*html.Node) bool { return true }) {
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if !epub2Attributes[attrName(a)] {
					kept = append(kept, a)
				}
			}
			n.Attr = kept
			if n.Namespace == "" && (n.Data == "nav" || n.Data == "section") {
				rename(n, atom.Div)
			}
		}
	}

	for _, svg := range findAll(d.root, named("svg")) {
		if attr(svg, "xmlns") == "" {
			setAttr(svg, "", "xmlns", namespaceSVG)
		}
		if attr(svg, "xmlns:xlink") == "" {
			setAttr(svg, "xmlns", "xlink", namespaceXLink)
		}
	}
	for _, n := range findAll(d.root, named("figcaption")) {
		rename(n, atom.Div)
	}
	for _, n := range findAll(d.root, named("base")) {
		n.Parent.RemoveChild(n)
	}
	if root := findFirst(d.root, named("html")); root != nil && attr(root, "xmlns") == "" {
		setAttr(root, "", "xmlns", namespaceXHTML)
	}
}

func setAttr(n *html.Node, namespace, key, val string) {
	name := attrName(html.Attribute{Namespace: namespace, Key: key})
	for i, a := range n.Attr {
		if attrName(a) == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: namespace, Key: key, Val: val})
}

// replaceCoverSVG swaps the svg cover of a magazine for a plain image.
func (d *document) replaceCoverSVG(src string) bool {
	svg := findFirst(d.root, named("svg"))
	body := findFirst(d.root, named("body"))
	if svg == nil || body == nil {
		return false
	}
	svg.Parent.RemoveChild(svg)
	for c := body.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			body.RemoveChild(c)
		}
		c = next
	}
	body.AppendChild(element(atom.Img,
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "alt", Val: "Cover"},
	))

	if head := findFirst(d.root, named("head")); head != nil {
		style := element(atom.Style)
		style.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: "img { max-width: 100%; margin-left: auto; margin-right: auto; }",
		})
		head.AppendChild(style)
	}
	return true
}

func (d *document) isNavigation() bool {
	return findFirst(d.root, func(n *html.Node) bool { return attr(n, "epub:type") == "toc" }) != nil
}

func (d *document) hasSVG() bool {
	return findFirst(d.root, named("svg")) != nil
}

// firstImageSrc returns the src of the first image with one.
func (d *document) firstImageSrc() string {
	img := findFirst(d.root, func(n *html.Node) bool { return n.Data == "img" && hasAttr(n, "src") })
	if img == nil {
		return ""
	}
	return attr(img, "src")
}
