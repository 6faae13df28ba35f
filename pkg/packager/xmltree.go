package packager

import (
	"encoding/xml"

	"github.com/pkg/errors"
)

// xmlNode is a generic element that keeps its children and attributes in
// insertion order. Names carry their prefix, e.g. "dc:title".
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*xmlNode `xml:",any"`
}

// newNode builds an element from a name and attribute name/value pairs.
func newNode(name string, attrs ...string) *xmlNode {
	n := &xmlNode{XMLName: xml.Name{Local: name}}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.set(attrs[i], attrs[i+1])
	}
	return n
}

func (n *xmlNode) add(name, text string, attrs ...string) *xmlNode {
	child := newNode(name, attrs...)
	child.Text = text
	n.Children = append(n.Children, child)
	return child
}

func (n *xmlNode) set(name, value string) {
	for i, a := range n.Attrs {
		if a.Name.Local == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (n *xmlNode) get(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

func (n *xmlNode) marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(n, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return append([]byte(xml.Header), out...), nil
}
