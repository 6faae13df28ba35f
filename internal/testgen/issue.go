package testgen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/overdrive"
)

// AssetHost is the host of generated asset urls.
const AssetHost = "https://assets.example.com"

// Issue is a generated loan with its manifests and assets.
type Issue struct {
	Loan     libby.Loan
	Media    overdrive.Media
	OpenBook libby.OpenBook
	Rosters  []libby.Roster
	// Assets is keyed by path, without a leading slash.
	Assets map[string][]byte
	// ContentPages are the pages referenced by the table of contents.
	ContentPages []string

	mu      sync.Mutex
	fetched []string
}

const pageTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html>
<head><title>%s</title><base href="https://example.com/"/><link rel="stylesheet" href="../styles/article.css"/></head>
<body>%s</body>
</html>`

const articleCSS = `#article-body { margin: 0; overflow-x: hidden; padding: 2em 1em; color: black; }
h1 { font-family: 'Publico-Serif-Bold'; }
p { font-family: 'Graphik-Sans-Light'; }`

const fontCSS = `@font-face { font-family: 'Have'; src: url('fonts/have.ttf') format('truetype'); font-weight: normal; }
@font-face { font-family: 'Missing'; src: url('fonts/missing.ttf') format('truetype'); font-weight: normal; }`

func page(title, body string) []byte {
	return []byte(fmt.Sprintf(pageTemplate, title, body))
}

func obfuscated(title, body string) []byte {
	payload := base64.StdEncoding.EncodeToString([]byte("<html><body>" + body + "</body></html>"))
	script := fmt.Sprintf(`<script type="text/javascript">parent.__bif_cfc0(self,'%s')</script>`, payload)
	return page(title, "<p>Loading</p>"+script)
}

// GenerateIssue builds a magazine issue, or an ebook with opts.EBook.
func GenerateIssue(t *testing.T, opts IssueOptions) *Issue {
	t.Helper()

	if opts.ID == "" {
		opts.ID = "7001"
	}
	if opts.Title == "" {
		opts.Title = "The Monthly"
	}
	if opts.Pages <= 0 {
		opts.Pages = 4
	}
	if opts.EBook {
		return generateEBook(t, opts)
	}

	issue := &Issue{Assets: map[string][]byte{}}
	issue.Loan = libby.Loan{
		ID:     libby.ID(opts.ID),
		CardID: "9",
		Type:   libby.TypeRef{ID: "magazine"},
		Title:  opts.Title,
		Covers: libby.Covers{"cover510Wide": {Href: AssetHost + "/covers/510.jpg", Width: 510}},
	}
	issue.Media = overdrive.Media{
		ID:                   libby.ID(opts.ID),
		ReserveID:            "reserve-" + opts.ID,
		Type:                 libby.TypeRef{ID: "magazine"},
		Title:                opts.Title,
		Edition:              "March 2024",
		Languages:            []overdrive.Language{{ID: "en"}},
		Publisher:            &libby.Publisher{ID: "55", Name: "Monthly Media"},
		EstimatedReleaseDate: "2024-03-01T00:00:00Z",
		Formats:              []overdrive.MediaFormat{{ID: "magazine-overdrive", ISBN: opts.ISBN}},
	}
	issue.OpenBook.Title.Main = opts.Title
	issue.OpenBook.Creator = []libby.OpenBookCreator{{Name: "Monthly Media", Role: "publisher"}}

	// cover page plus articles split across two sections
	issue.addDocument("content/cover.xhtml", page("Cover",
		`<svg viewBox="0 0 10 10"><image href="../images/cover.jpg"/></svg>`), 0)
	issue.OpenBook.Nav.TOC = append(issue.OpenBook.Nav.TOC, libby.TOCItem{
		Path:         "content/cover.xhtml",
		Title:        "Cover",
		PageRange:    "Cover",
		FeatureImage: "images/cover.jpg",
	})
	for i := 1; i < opts.Pages; i++ {
		p := fmt.Sprintf("content/article-%02d.xhtml", i)
		title := fmt.Sprintf("Article %d", i)
		body := fmt.Sprintf(`<div id="article-body"><h1>%s</h1><figure><figcaption>Photo</figcaption></figure></div>`, title)
		data := page(title, body)
		if opts.Obfuscate {
			data = obfuscated(title, body)
		}
		// spine positions run backwards so ordering must follow the toc
		issue.addDocument(p, data, opts.Pages-i)
		section := "News"
		if i > opts.Pages/2 {
			section = "Features"
		}
		issue.OpenBook.Nav.TOC = append(issue.OpenBook.Nav.TOC, libby.TOCItem{Path: p + "#top", Title: title, SectionName: section})
	}

	issue.addDocument("content/advert.xhtml", page("Advert", "<p>Buy</p>"), 99)
	issue.addAsset("images/cover.jpg", GenerateImage(t, "image/jpeg", 60, 80))
	issue.addAsset("pages/page-01.jpg", GenerateImage(t, "image/jpeg", 10, 10))
	issue.addAsset("thumbnails/page-01.jpg", GenerateImage(t, "image/jpeg", 5, 5))
	issue.addAsset("styles/article.css", []byte(articleCSS))
	issue.addAsset("styles/fonts.css", []byte(fontCSS))
	issue.addAsset("styles/fonts/have.ttf", []byte("font"))
	issue.addAsset("_d/tracking.dat", []byte("x"))
	issue.Assets["covers/510.jpg"] = GenerateImage(t, "image/png", 51, 80)
	return issue
}

func generateEBook(t *testing.T, opts IssueOptions) *Issue {
	t.Helper()

	issue := &Issue{Assets: map[string][]byte{}}
	issue.Loan = libby.Loan{
		ID:     libby.ID(opts.ID),
		CardID: "9",
		Type:   libby.TypeRef{ID: "ebook"},
		Title:  opts.Title,
	}
	issue.Media = overdrive.Media{
		ID:        libby.ID(opts.ID),
		ReserveID: "reserve-" + opts.ID,
		Type:      libby.TypeRef{ID: "ebook"},
		Title:     opts.Title,
		Subtitle:  "A Novel",
		Languages: []overdrive.Language{{ID: "en"}},
		Creators: []libby.Creator{
			{ID: "1", Name: "Jane Doe", Role: "Author", SortName: "Doe, Jane"},
			{ID: "2", Name: "John Roe", Role: "Narrator"},
		},
		Formats: []overdrive.MediaFormat{
			{ID: "ebook-overdrive", ISBN: opts.ISBN},
			{ID: "ebook-kindle", Identifiers: []overdrive.Identifier{{Type: "ASIN", Value: "B00TEST"}}},
		},
		DetailedSeries: &libby.DetailedSeries{SeriesName: "Saga", ReadingOrder: "2"},
	}
	issue.OpenBook.Title.Main = opts.Title
	issue.OpenBook.Creator = []libby.OpenBookCreator{{Name: "Jane Doe", Role: "author"}}
	issue.OpenBook.Nav.Landmarks = []libby.Landmark{{Type: "cover", Path: "Text/cover.xhtml", Title: "Cover"}}

	issue.addDocument("Text/cover.xhtml", page("Cover", `<img src="../Images/cover.jpg" alt=""/>`), 0)
	issue.OpenBook.Nav.TOC = append(issue.OpenBook.Nav.TOC, libby.TOCItem{Path: "Text/cover.xhtml", Title: "Cover"})
	for i := 1; i < opts.Pages; i++ {
		p := fmt.Sprintf("Text/chapter-%02d.xhtml", i)
		title := fmt.Sprintf("Chapter %d", i)
		issue.addDocument(p, page(title, "<section><h1>"+title+"</h1></section>"), i)
		issue.OpenBook.Nav.TOC = append(issue.OpenBook.Nav.TOC, libby.TOCItem{Path: p, Title: title})
	}
	issue.addDocument("Text/toc.xhtml", page("Contents",
		`<nav epub:type="toc"><ol><li><a href="chapter-01.xhtml">One</a></li></ol></nav>`), opts.Pages)
	issue.addAsset("Images/cover.jpg", GenerateImage(t, "image/jpeg", 60, 80))

	uid := opts.NCXUID
	if uid == "" {
		uid = "publisher-uid"
	}
	issue.addAsset("toc.ncx", []byte(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
<head><meta name="dtb:uid" content="`+uid+`"/></head>
<docTitle><text>`+opts.Title+`</text></docTitle>
<navMap></navMap>
</ncx>`))
	issue.addAsset("_d/tracking.dat", []byte("x"))
	return issue
}

func (i *Issue) addAsset(p string, data []byte) {
	i.Assets[p] = data
	if len(i.Rosters) == 0 {
		i.Rosters = []libby.Roster{{Group: libby.RosterTitleContent}, {Group: "title-assets"}}
	}
	i.Rosters[0].Entries = append(i.Rosters[0].Entries, libby.RosterEntry{URL: AssetHost + "/" + p})
}

func (i *Issue) addDocument(p string, data []byte, position int) {
	i.addAsset(p, data)
	i.OpenBook.Spine = append(i.OpenBook.Spine, libby.SpineItem{OriginalPath: p, SpinePosition: position})
	if !strings.Contains(p, "advert") && !strings.HasSuffix(p, "toc.xhtml") {
		i.ContentPages = append(i.ContentPages, p)
	}
}

// FetchAsset serves generated assets by url path. It records every request.
func (i *Issue) FetchAsset(_ context.Context, url string) ([]byte, error) {
	p := strings.TrimPrefix(strings.TrimPrefix(url, AssetHost), "/")
	i.mu.Lock()
	i.fetched = append(i.fetched, p)
	i.mu.Unlock()

	data, ok := i.Assets[p]
	if !ok {
		return nil, errors.Errorf("asset not found: %s", p)
	}
	return data, nil
}

// Fetched returns the asset paths requested so far, in order.
func (i *Issue) Fetched() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.fetched...)
}

// Handler serves the assets over HTTP at their paths.
func (i *Issue) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := i.Assets[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
}
