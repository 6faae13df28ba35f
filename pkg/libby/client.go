package libby

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/pkg/errors"
	"github.com/rickb777/date/period"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/binder"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/transport"
)

const (
	DefaultAPIBase  = "https://sentry-read.svc.overdrive.com/"
	DefaultTagsBase = "https://vandal.svc.overdrive.com/"

	// DefaultLendingDays is used when no lending period is configured.
	DefaultLendingDays = 21

	syncResultSynchronized = "synchronized"
)

type Options struct {
	Identity       string
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	LendingPeriod  period.Period

	// Overrides for the service endpoints.
	APIBase  string
	TagsBase string
}

// Client talks to the lending service for one account. It holds the
// account's identity and cookies, so a separate client is needed per
// account.
type Client struct {
	api         *transport.Client
	tagsBase    string
	lendingDays int
	binder      *binder.Binder
}

// DefaultHeaders are sent with every request unless a call overrides them.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", transport.UserAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Referer", "https://libbyapp.com/")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return h
}

func New(opts Options) (*Client, error) {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.TagsBase == "" {
		opts.TagsBase = DefaultTagsBase
	}

	api, err := transport.New(transport.Options{
		BaseURL:        opts.APIBase,
		DefaultHeaders: DefaultHeaders(),
		Token:          opts.Identity,
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

	return &Client{
		api:         api,
		tagsBase:    opts.TagsBase,
		lendingDays: lendingDays(opts.LendingPeriod),
		binder:      b,
	}, nil
}

func lendingDays(p period.Period) int {
	days := int(p.DurationApprox() / (24 * time.Hour))
	if days <= 0 {
		return DefaultLendingDays
	}
	return days
}

// Identity is the bearer token currently held by the client.
func (c *Client) Identity() string {
	return c.api.Token()
}

// Transport exposes the underlying session so that assets can be fetched
// with the same cookies.
func (c *Client) Transport() *transport.Client {
	return c.api
}

// LendingDays is the loan length used when a caller does not pick one.
func (c *Client) LendingDays() int {
	return c.lendingDays
}

// send decodes a JSON response into v and runs it through the binder.
func (c *Client) send(ctx context.Context, r *transport.Request, v interface{}) error {
	resp, err := c.api.Send(ctx, r)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return c.binder.Decode(ctx, resp.Body, v)
}

func (c *Client) sendMap(ctx context.Context, r *transport.Request) (map[string]interface{}, error) {
	resp, err := c.api.Send(ctx, r)
	if err != nil {
		return nil, err
	}
	res := map[string]interface{}{}
	if err := resp.Decode(&res); err != nil {
		return nil, errcodes.MalformedResponse(err.Error(), resp.Text())
	}
	return res, nil
}

// GetChip obtains a new identity for the device and keeps it for later calls.
func (c *Client) GetChip(ctx context.Context) (*Chip, error) {
	chip := &Chip{}
	err := c.send(ctx, &transport.Request{
		Endpoint:        "chip",
		Method:          http.MethodPost,
		Query:           url.Values{"client": {"dewey"}},
		Unauthenticated: true,
	}, chip)
	if err != nil {
		return nil, err
	}
	if chip.Identity != "" {
		c.api.SetToken(chip.Identity)
		logger.FromContext(ctx).Info("obtained chip", logger.Data{"chip": chip.Chip})
	}
	return chip, nil
}

type cloneArgs struct {
	Code string `json:"code" mod:"trim" validate:"synccode"`
}

// CloneByCode links the current identity to an account using the setup code
// shown on another device.
func (c *Client) CloneByCode(ctx context.Context, code string) error {
	args := cloneArgs{Code: code}
	if err := c.binder.Validate(ctx, &args); err != nil {
		return err
	}
	return c.send(ctx, &transport.Request{
		Endpoint: "chip/clone/code",
		Form:     url.Values{"code": {args.Code}},
	}, nil)
}

// GenerateCloneCode asks for a setup code for linking another device.
func (c *Client) GenerateCloneCode(ctx context.Context) (*CloneCode, error) {
	code := &CloneCode{}
	if err := c.send(ctx, &transport.Request{Endpoint: "chip/clone/code"}, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Sync fetches the account snapshot.
func (c *Client) Sync(ctx context.Context) (*SyncState, error) {
	state := &SyncState{}
	if err := c.send(ctx, &transport.Request{Endpoint: "chip/sync"}, state); err != nil {
		return nil, err
	}
	return state, nil
}

// IsLoggedIn reports whether the identity is linked to at least one card.
func (c *Client) IsLoggedIn(ctx context.Context) (bool, error) {
	state, err := c.Sync(ctx)
	if err != nil {
		return false, err
	}
	return state.Result == syncResultSynchronized && len(state.Cards) > 0, nil
}

func (c *Client) Loans(ctx context.Context) ([]Loan, error) {
	state, err := c.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return state.Loans, nil
}

func (c *Client) Holds(ctx context.Context) ([]Hold, error) {
	state, err := c.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return state.Holds, nil
}

func (c *Client) Cards(ctx context.Context) ([]Card, error) {
	state, err := c.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return state.Cards, nil
}

func mustTemplate(t string) *uritemplates.UriTemplate {
	tmpl, err := uritemplates.Parse(t)
	if err != nil {
		panic(err)
	}
	return tmpl
}

// route expands a path template, escaping every value.
func route(t *uritemplates.UriTemplate, vars map[string]interface{}) (string, error) {
	s, err := t.Expand(vars)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return s, nil
}
