package libby

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillLoanFile(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/card/9/loan/1/fulfill/ebook-epub-open", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "x", Path: "/"})
		w.Header().Set("Location", "/cdn/book.epub")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/cdn/book.epub", func(w http.ResponseWriter, r *http.Request) {
		// the content host rejects requests that carry the session
		if r.Header.Get("Authorization") != "" || len(r.Cookies()) > 0 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, "EPUBDATA")
	})
	mux.HandleFunc("/card/9/loan/1/fulfill/ebook-epub-adobe", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/vnd.adobe.adept+xml")
		_, _ = io.WriteString(w, "<fulfillmentToken/>")
	})
	mux.HandleFunc("/card/9/loan/1/fulfill/audiobook-mp3", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/vnd.overdrive.circulation.api+xml")
		_, _ = io.WriteString(w, "<OverDriveMedia/>")
	})
	mux.HandleFunc("/card/9/loan/1/fulfill/ebook-kindle", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(w, http.StatusOK, `{"fulfill":{"href":"https://www.amazon.com/gp/redirect"}}`)
	})
	mux.HandleFunc("/card/9/loan/2/fulfill/ebook-epub-open", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := newServer(t, mux)
	c, err := New(Options{APIBase: srv.URL + "/", Identity: "token"})
	require.NoError(t, err)
	ctx := context.Background()

	b, err := c.FulfillLoanFile(ctx, "1", "9", formats.EBookEPubOpen)
	require.NoError(t, err)
	assert.Equal(t, "EPUBDATA", string(b))

	b, err = c.FulfillLoanFile(ctx, "1", "9", formats.EBookEPubAdobe)
	require.NoError(t, err)
	assert.Equal(t, "<fulfillmentToken/>", string(b))

	b, err = c.FulfillLoanFile(ctx, "1", "9", formats.AudiobookMP3)
	require.NoError(t, err)
	assert.Equal(t, "<OverDriveMedia/>", string(b))

	_, err = c.FulfillLoanFile(ctx, "1", "9", formats.AudiobookOverDrive)
	assert.True(t, errcodes.IsInvalidArgument(err))

	b, err = c.FulfillLoanFile(ctx, "1", "9", formats.EBookKindle)
	require.NoError(t, err)
	assert.Contains(t, string(b), "amazon")

	kindle, err := c.FulfillKindle(ctx, "1", "9")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.com/gp/redirect", kindle.Fulfill.Href)

	_, err = c.FulfillLoanFile(ctx, "2", "9", formats.EBookEPubOpen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not redirect")

	u, headers, err := c.FulfillmentDetails("1", "9", formats.EBookEPubAdobe)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/card/9/loan/1/fulfill/ebook-epub-adobe", u)
	assert.Equal(t, "Bearer token", headers.Get("Authorization"))
	assert.Equal(t, "*/*", headers.Get("Accept"))
}

func TestProcessEbook(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := newServer(t, mux)
	mux.HandleFunc("/open/magazine/card/9/title/77", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{
			"message": "m=abc",
			"urls": {
				"web": "`+srv.URL+`/dewey/77/",
				"openbook": "`+srv.URL+`/dewey/77/openbook.json",
				"rosters": "`+srv.URL+`/dewey/77/rosters.json"
			}
		}`)
	})
	mux.HandleFunc("/dewey/77/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "m=abc", r.URL.RawQuery)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		http.SetCookie(w, &http.Cookie{Name: "_sscl_d", Value: "yes", Path: "/"})
	})
	mux.HandleFunc("/dewey/77/openbook.json", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("_sscl_d")
		if err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "yes", cookie.Value)
		writeJSON(w, http.StatusOK, `{
			"title": {"main": "Magazine"},
			"creator": [{"name": "Publisher", "role": "publisher"}],
			"spine": [{"-odread-original-path": "pages/a.xhtml", "-odread-spine-position": 0}],
			"nav": {
				"toc": [{"path": "pages/a.xhtml", "title": "A", "sectionName": "News"}],
				"landmarks": [{"type": "cover", "path": "pages/cover.xhtml", "title": "Cover"}]
			}
		}`)
	})
	mux.HandleFunc("/dewey/77/rosters.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `[
			{"group": "title-content", "entries": [{"url": "https://x/pages/a.xhtml"}]},
			{"group": "title-assets", "entries": []}
		]`)
	})
	c, err := New(Options{APIBase: srv.URL + "/", Identity: "token"})
	require.NoError(t, err)

	loan := Loan{ID: "77", CardID: "9", Type: TypeRef{ID: "magazine"}}
	base, openbook, rosters, err := c.ProcessEbook(context.Background(), loan)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/dewey/77/", base)
	assert.Equal(t, "Magazine", openbook.Title.Main)
	require.Len(t, openbook.Nav.TOC, 1)
	assert.Equal(t, "News", openbook.Nav.TOC[0].SectionName)
	assert.Equal(t, "pages/a.xhtml", openbook.Spine[0].OriginalPath)
	require.Len(t, rosters, 2)
	content := TitleContent(rosters)
	require.Len(t, content.Entries, 1)
	assert.Equal(t, "https://x/pages/a.xhtml", content.Entries[0].URL)
}

func TestTagsAPI(t *testing.T) {
	t.Parallel()

	type call struct {
		method string
		path   string
		query  string
		body   string
	}
	var calls []call
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.EscapedPath(), r.URL.RawQuery, string(b)})
		switch r.URL.Path {
		case "/vandal/tags":
			writeJSON(w, http.StatusOK, `{"tags":[{"uuid":"u-1","name":"Read","totalTaggings":2}]}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	}))
	ctx := context.Background()

	tags, err := c.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags.Tags, 1)
	assert.Equal(t, 2, tags.Tags[0].TotalTaggings)

	// "??>" and "???" encode to "Pz8+" and "Pz8/"
	_, err = c.TagPaged(ctx, "u-1", "??>", 1, 0, "")
	require.NoError(t, err)
	_, err = c.Tag(ctx, "u-1", "???", 0, 5, TagSortTitle)
	require.NoError(t, err)

	created, err := c.CreateNotifyMeTag(ctx, "Watch", "notify")
	require.NoError(t, err)
	require.NotNil(t, created.Tag)
	assert.Equal(t, "Watch", created.Tag.Name)
	assert.NotEmpty(t, created.Tag.UUID)
	assert.Equal(t, map[string]interface{}{"type": TagTypeSubscription}, created.Tag.Behaviors[TagBehaviorNotifyMe])

	deleted, err := c.DeleteTag(ctx, "u-1", "Read")
	require.NoError(t, err)
	assert.Equal(t, &Tag{UUID: "u-1", Name: "Read"}, deleted.Tag)

	added, err := c.AddTitleTag(ctx, "u-1", "Read", "55", "47", "9")
	require.NoError(t, err)
	assert.Equal(t, ID("55"), added.Tagging.TitleID)
	assert.Equal(t, ID("9"), added.Tagging.CardID)

	removed, err := c.DeleteTitleTag(ctx, "u-1", "Read", "55")
	require.NoError(t, err)
	assert.Equal(t, &Tagging{TitleID: "55"}, removed.Tagging)

	_, err = c.Taggings(ctx, []ID{"1", "2"})
	require.NoError(t, err)

	require.Len(t, calls, 8)
	assert.Equal(t, "/vandal/tag/u-1/Pz8%2B", calls[1].path)
	assert.Equal(t, "enc=1&range=12...24&sort=newest", calls[1].query)
	assert.Equal(t, "/vandal/tag/u-1/Pz8/", calls[2].path)
	assert.Equal(t, "enc=1&range=0...5&sort=title", calls[2].query)
	assert.Equal(t, http.MethodPost, calls[3].method)
	assert.Contains(t, calls[3].body, `"behaviors":{"notify-me":{"type":"subscription"}}`)
	assert.Equal(t, call{http.MethodDelete, "/vandal/tag/u-1/UmVhZA%3D%3D", "enc=1", ""}, calls[4])
	assert.Equal(t, "/vandal/tag/u-1/UmVhZA%3D%3D/tagging/55", calls[5].path)
	assert.Contains(t, calls[5].body, `"tagging":{"titleId":"55","websiteId":"47","cardId":"9"`)
	assert.Equal(t, http.MethodDelete, calls[6].method)
	assert.Equal(t, "/vandal/taggings/1%2C2", calls[7].path)
}
