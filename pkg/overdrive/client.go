package overdrive

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/binder"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/transport"
)

const (
	DefaultAPIBase = "https://thunder.api.overdrive.com/v2/"
	SiteURL        = "https://libbyapp.com"
	ClientID       = "dewey"

	// MaxPerPage is the default page size of pageable calls.
	MaxPerPage = 24
	// MaxPageable is the largest page size the catalog accepts.
	MaxPageable = 100
)

var (
	mediaRoute        = mustTemplate("media/{titleId}")
	libraryMediaRoute = mustTemplate("libraries/{libraryKey}/media/{titleId}")
)

type Options struct {
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration

	// APIBase overrides the catalog endpoint.
	APIBase string
}

// Client is an unauthenticated client of the public catalog. It is safe for
// concurrent use.
type Client struct {
	api    *transport.Client
	binder *binder.Binder
}

func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", transport.UserAgent)
	h.Set("Referer", SiteURL+"/")
	h.Set("Origin", SiteURL)
	h.Set("Accept-Encoding", "gzip")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return h
}

func New(opts Options) (*Client, error) {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	api, err := transport.New(transport.Options{
		BaseURL:        opts.APIBase,
		DefaultHeaders: DefaultHeaders(),
		MaxRetries:     opts.MaxRetries,
		Timeout:        opts.Timeout,
		RetryBaseDelay: opts.RetryBaseDelay,
	})
	if err != nil {
		return nil, err
	}
	b, err := binder.New()
	if err != nil {
		return nil, err
	}
	return &Client{api: api, binder: b}, nil
}

func defaultQuery() url.Values {
	return url.Values{"x-client-id": {ClientID}}
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	resp, err := c.api.Send(ctx, &transport.Request{Endpoint: endpoint, Query: query, Unauthenticated: true})
	if err != nil {
		return err
	}
	return c.binder.Decode(ctx, resp.Body, v)
}

// Media returns a title. The id may also be a reserve id.
func (c *Client) Media(ctx context.Context, titleID libby.ID) (*Media, error) {
	endpoint, err := route(mediaRoute, map[string]interface{}{"titleId": string(titleID)})
	if err != nil {
		return nil, err
	}
	media := &Media{}
	if err := c.get(ctx, endpoint, defaultQuery(), media); err != nil {
		return nil, err
	}
	return media, nil
}

// MediaBulk returns several titles in one call.
func (c *Client) MediaBulk(ctx context.Context, titleIDs []libby.ID) ([]Media, error) {
	query := defaultQuery()
	query.Set("titleIds", joinIDs(titleIDs))

	resp, err := c.api.Send(ctx, &transport.Request{Endpoint: "media/bulk", Query: query, Unauthenticated: true})
	if err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || string(body) == "{}" {
		body = []byte("[]")
	}
	list := mediaList{}
	wrapped := append(append([]byte(`{"items":`), body...), '}')
	if err := c.binder.Decode(ctx, wrapped, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

type librariesArgs struct {
	Page    int `json:"page" default:"1" validate:"gt=0"`
	PerPage int `json:"perPage" default:"24" validate:"gt=0,max=100"`
}

// Libraries lists libraries, optionally limited to the given website ids.
// A zero page or perPage uses the defaults of 1 and MaxPerPage.
func (c *Client) Libraries(ctx context.Context, websiteIDs []libby.ID, page, perPage int) (*LibrariesResult, error) {
	args := librariesArgs{Page: page, PerPage: perPage}
	if err := c.binder.Validate(ctx, &args); err != nil {
		return nil, err
	}
	query := defaultQuery()
	query.Set("page", strconv.Itoa(args.Page))
	query.Set("perPage", strconv.Itoa(args.PerPage))
	if len(websiteIDs) > 0 {
		query.Set("websiteIds", joinIDs(websiteIDs))
	}

	res := &LibrariesResult{}
	if err := c.get(ctx, "libraries/", query, res); err != nil {
		return nil, err
	}
	return res, nil
}

// LibrariesByWebsiteID fetches the libraries for every website id, one page
// of MaxPerPage ids at a time.
func (c *Client) LibrariesByWebsiteID(ctx context.Context, websiteIDs []libby.ID) ([]Library, error) {
	libraries := []Library{}
	for start := 0; start < len(websiteIDs); start += MaxPerPage {
		end := start + MaxPerPage
		if end > len(websiteIDs) {
			end = len(websiteIDs)
		}
		res, err := c.Libraries(ctx, websiteIDs[start:end], 1, MaxPerPage)
		if err != nil {
			return nil, err
		}
		libraries = append(libraries, res.Items...)
	}
	return libraries, nil
}

// LibraryMedia returns a title with its availability at one library.
func (c *Client) LibraryMedia(ctx context.Context, libraryKey string, titleID libby.ID) (*Media, error) {
	endpoint, err := route(libraryMediaRoute, map[string]interface{}{
		"libraryKey": libraryKey,
		"titleId":    string(titleID),
	})
	if err != nil {
		return nil, err
	}
	query := defaultQuery()
	query.Set("titleIds", string(titleID))

	media := &Media{}
	if err := c.get(ctx, endpoint, query, media); err != nil {
		return nil, err
	}
	return media, nil
}

type SearchOptions struct {
	Formats           []string
	MaxItems          int
	ShowOnlyAvailable bool
}

// SearchMedia searches the given libraries.
func (c *Client) SearchMedia(ctx context.Context, libraryKeys []string, q string, opts SearchOptions) (*SearchResult, error) {
	query := defaultQuery()
	query["libraryKey"] = libraryKeys
	query.Set("query", q)
	if opts.MaxItems > 0 {
		query.Set("maxItems", strconv.Itoa(opts.MaxItems))
	}
	if len(opts.Formats) > 0 {
		query["format"] = opts.Formats
	}
	if opts.ShowOnlyAvailable {
		query.Set("showOnlyAvailable", "true")
	}

	res := &SearchResult{}
	if err := c.get(ctx, "media/search/", query, res); err != nil {
		return nil, err
	}
	return res, nil
}

func joinIDs(ids []libby.ID) string {
	s := make([]string, 0, len(ids))
	for _, id := range ids {
		s = append(s, string(id))
	}
	return strings.Join(s, ",")
}

func mustTemplate(t string) *uritemplates.UriTemplate {
	tmpl, err := uritemplates.Parse(t)
	if err != nil {
		panic(err)
	}
	return tmpl
}

func route(t *uritemplates.UriTemplate, vars map[string]interface{}) (string, error) {
	s, err := t.Expand(vars)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return s, nil
}
