package packager

import (
	"regexp"
	"testing"

	"github.com/shishobooks/libby/pkg/libby"
	"github.com/stretchr/testify/assert"
)

func entries(paths ...string) []libby.RosterEntry {
	out := make([]libby.RosterEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, libby.RosterEntry{URL: "https://host.example.com/" + p})
	}
	return out
}

func TestManifestID(t *testing.T) {
	t.Parallel()

	valid := regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
	for _, p := range []string{"Text/chapter-01.xhtml", "2024/03/page.xhtml", "images/cover.jpg", "a b/c.css"} {
		id := ManifestID(p)
		assert.Regexp(t, valid, id, p)
		assert.Equal(t, id, ManifestID(p))
	}
	assert.Regexp(t, `^id_`, ManifestID("2024/03/page.xhtml"))
	assert.Equal(t, "id_", ManifestID("///"))
	assert.NotEqual(t, ManifestID("images/a.jpg"), ManifestID("images/b.jpg"))
}

func TestGuessMediaType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a/b.xhtml":   MediaTypeXHTML,
		"a/B.XHTML":   MediaTypeXHTML,
		"index.htm":   MediaTypeHTML,
		"s.css":       MediaTypeCSS,
		"toc.ncx":     MediaTypeNCX,
		"c.jpeg":      MediaTypeJPEG,
		"f/font.ttf":  "font/ttf",
		"x.svg":       "image/svg+xml",
		"nothing":     "",
		"weird.zzzzz": "",
	}
	for p, want := range tests {
		assert.Equal(t, want, GuessMediaType(p), p)
	}
}

func TestSortEntries(t *testing.T) {
	t.Parallel()

	list := entries("s/b.css", "f/a.ttf", "i/b.png", "i/a.jpg", "t/b.xhtml", "t/a.xhtml", "toc.ncx", "i/z.jpg")
	sortEntries(list)

	var got []string
	for _, e := range list {
		got = append(got, entryPath(e))
	}
	assert.Equal(t, []string{"t/a.xhtml", "t/b.xhtml", "i/a.jpg", "i/z.jpg", "i/b.png", "f/a.ttf", "s/b.css", "toc.ncx"}, got)
}

func TestKeepEntry(t *testing.T) {
	t.Parallel()

	toc := map[string]bool{"content/a.xhtml": true}
	tests := []struct {
		path     string
		magazine bool
		keep     bool
	}{
		{"content/a.xhtml", true, true},
		{"content/b.xhtml", true, false},
		{"content/b.xhtml", false, true},
		{"pages/p1.jpg", true, false},
		{"thumbnails/p1.png", true, false},
		{"pages/p1.jpg", false, true},
		{"pages/style.css", true, true},
		{"images/a.jpg", true, true},
		{"_d/tracking.dat", false, false},
		{"_d/tracking.dat", true, false},
	}
	for _, tt := range tests {
		e := entries(tt.path)[0]
		assert.Equal(t, tt.keep, keepEntry(e, tt.magazine, toc), "%s magazine=%v", tt.path, tt.magazine)
	}
}

func TestTOCPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b.xhtml", tocPath("a/b.xhtml#section-2"))
	assert.Equal(t, "a/b.xhtml", tocPath("a/b.xhtml"))
}
