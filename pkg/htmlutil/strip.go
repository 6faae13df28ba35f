package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockTags end a line of text.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Br:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Blockquote: true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
}

// skippedTags have content that is never shown as text.
var skippedTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

// StripTags removes all HTML tags from a string and normalizes whitespace.
// Block-level tags become line breaks, entities are decoded, and empty lines
// are dropped.
func StripTags(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	skipDepth := 0
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			if skipDepth == 0 {
				// Source line breaks are plain whitespace.
				b.WriteString(strings.ReplaceAll(string(z.Text()), "\n", " "))
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedTags[a] {
				switch tt {
				case html.StartTagToken:
					skipDepth++
				case html.EndTagToken:
					if skipDepth > 0 {
						skipDepth--
					}
				}
				continue
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}
		}
	}

	return normalizeLines(b.String())
}

func normalizeLines(s string) string {
	lines := []string{}
	for _, line := range strings.Split(s, "\n") {
		// Fields also splits on non-breaking spaces.
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
