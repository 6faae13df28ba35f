package packager

import (
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/Machiel/slugify"
	"github.com/shishobooks/libby/pkg/libby"
)

const (
	MediaTypeXHTML = "application/xhtml+xml"
	MediaTypeHTML  = "text/html"
	MediaTypeCSS   = "text/css"
	MediaTypeNCX   = "application/x-dtbncx+xml"
	MediaTypeJPEG  = "image/jpeg"
)

var mimeTypes = map[string]string{
	".xhtml": MediaTypeXHTML,
	".html":  MediaTypeHTML,
	".htm":   MediaTypeHTML,
	".css":   MediaTypeCSS,
	".png":   "image/png",
	".gif":   "image/gif",
	".jpeg":  MediaTypeJPEG,
	".jpg":   MediaTypeJPEG,
	".otf":   "font/otf",
	".ttf":   "font/ttf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".eot":   "application/vnd.ms-fontobject",
	".svg":   "image/svg+xml",
	".ncx":   MediaTypeNCX,
}

// extensionRank is the download order of roster entries. Documents come
// first so a cover can be found in their markup, and fonts come before
// stylesheets so stylesheets can be checked against the downloaded fonts.
var extensionRank = []string{".xhtml", ".html", ".htm", ".jpg", ".jpeg", ".png", ".gif", ".ttf", ".otf", ".css"}

// GuessMediaType returns the media type of an asset path, or "" when it is
// not known.
func GuessMediaType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		t, _, _ = mime.ParseMediaType(t)
		return t
	}
	return ""
}

func isDocument(mediaType string) bool {
	return mediaType == MediaTypeXHTML || mediaType == MediaTypeHTML
}

// ManifestID turns an asset path into a valid OPF id. Ids cannot start with
// a digit.
func ManifestID(p string) string {
	id := slugify.Slugify(p)
	if id == "" || (id[0] >= '0' && id[0] <= '9') {
		return "id_" + id
	}
	return id
}

// entryPath is the asset path of a roster entry, relative to the content
// root.
func entryPath(e libby.RosterEntry) string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func rank(ext string) int {
	for i, e := range extensionRank {
		if e == ext {
			return i
		}
	}
	return len(extensionRank)
}

func sortEntries(entries []libby.RosterEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := "/"+entryPath(entries[i]), "/"+entryPath(entries[j])
		aExt, bExt := path.Ext(a), path.Ext(b)
		if ra, rb := rank(aExt), rank(bExt); ra != rb {
			return ra < rb
		}
		if aExt != bExt {
			return aExt < bExt
		}
		return a < b
	})
}

// keepEntry drops magazine page images and thumbnails, magazine pages that
// the table of contents does not reference, and internal ebook assets.
func keepEntry(e libby.RosterEntry, magazine bool, tocPages map[string]bool) bool {
	p := entryPath(e)
	mediaType := GuessMediaType(p)

	if magazine && mediaType != "" {
		if strings.HasPrefix(mediaType, "image/") && (strings.HasPrefix(p, "pages/") || strings.HasPrefix(p, "thumbnails/")) {
			return false
		}
		if isDocument(mediaType) && !tocPages[p] {
			return false
		}
	}
	return !strings.HasPrefix(p, "_d/")
}

// tocPath drops the fragment of a navigation path.
func tocPath(p string) string {
	if i := strings.Index(p, "#"); i >= 0 {
		return p[:i]
	}
	return p
}
