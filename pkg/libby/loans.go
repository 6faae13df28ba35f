package libby

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/transport"
)

var (
	loanRoute    = mustTemplate("card/{cardId}/loan/{titleId}")
	fulfillRoute = mustTemplate("card/{cardId}/loan/{loanId}/fulfill/{formatId}")
	openRoute    = mustTemplate("open/{type}/card/{cardId}/title/{titleId}")
)

type borrowArgs struct {
	TitleID string `json:"titleId" validate:"required"`
	CardID  string `json:"cardId" validate:"required"`
	Format  string `json:"format" validate:"required"`
	Days    int    `json:"days" validate:"gt=0"`
}

type borrowPayload struct {
	Period      int    `json:"period"`
	Units       string `json:"units"`
	LuckyDay    *int   `json:"lucky_day"`
	TitleFormat string `json:"title_format"`
}

func newBorrowPayload(args borrowArgs, luckyDay bool) borrowPayload {
	p := borrowPayload{Period: args.Days, Units: "days", TitleFormat: args.Format}
	if luckyDay {
		one := 1
		p.LuckyDay = &one
	}
	return p
}

// BorrowTitle borrows a title on a card. titleFormat is the media type of the
// title ("ebook", "audiobook" or "magazine"). A days value of zero or less is
// rejected without contacting the service.
func (c *Client) BorrowTitle(ctx context.Context, titleID ID, titleFormat string, cardID ID, days int, luckyDay bool) (*Loan, error) {
	args := borrowArgs{TitleID: string(titleID), CardID: string(cardID), Format: titleFormat, Days: days}
	if err := c.binder.Validate(ctx, &args); err != nil {
		return nil, err
	}
	endpoint, err := route(loanRoute, map[string]interface{}{"cardId": args.CardID, "titleId": args.TitleID})
	if err != nil {
		return nil, err
	}

	loan := &Loan{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		JSON:     newBorrowPayload(args, luckyDay),
	}, loan)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("borrowed title", logger.Data{"title_id": titleID, "card_id": cardID, "days": days})
	return loan, nil
}

// BorrowMedia borrows a title for the card's preferred lending period. A card
// at its loan limit is rejected without a request.
func (c *Client) BorrowMedia(ctx context.Context, titleID ID, mediaType formats.MediaType, card Card, luckyDay bool) (*Loan, error) {
	if !card.CanBorrow() {
		return nil, errcodes.InvalidArgument(fmt.Sprintf("card %s is at its loan limit (%d)", card.CardID, card.Limits.Loan))
	}
	days := card.LendingDays(mediaType)
	if days == 0 {
		days = c.lendingDays
	}
	return c.BorrowTitle(ctx, titleID, mediaType.String(), card.CardID, days, luckyDay)
}

// RenewTitle renews an existing loan.
func (c *Client) RenewTitle(ctx context.Context, titleID ID, titleFormat string, cardID ID, days int) (*Loan, error) {
	args := borrowArgs{TitleID: string(titleID), CardID: string(cardID), Format: titleFormat, Days: days}
	if err := c.binder.Validate(ctx, &args); err != nil {
		return nil, err
	}
	endpoint, err := route(loanRoute, map[string]interface{}{"cardId": args.CardID, "titleId": args.TitleID})
	if err != nil {
		return nil, err
	}

	loan := &Loan{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPut,
		JSON:     newBorrowPayload(args, false),
	}, loan)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (c *Client) RenewLoan(ctx context.Context, loan Loan) (*Loan, error) {
	return c.RenewTitle(ctx, loan.ID, loan.Type.ID, loan.CardID, c.lendingDays)
}

// ReturnTitle ends a loan.
func (c *Client) ReturnTitle(ctx context.Context, titleID, cardID ID) error {
	endpoint, err := route(loanRoute, map[string]interface{}{"cardId": string(cardID), "titleId": string(titleID)})
	if err != nil {
		return err
	}
	_, err = c.api.Send(ctx, &transport.Request{Endpoint: endpoint, Method: http.MethodDelete})
	return err
}

func (c *Client) ReturnLoan(ctx context.Context, loan Loan) error {
	return c.ReturnTitle(ctx, loan.ID, loan.CardID)
}

// OpenLoan fetches the manifest links of a loan.
func (c *Client) OpenLoan(ctx context.Context, mediaType formats.MediaType, cardID, titleID ID) (*OpenLoanResult, error) {
	endpoint, err := route(openRoute, map[string]interface{}{
		"type":    mediaType.OpenPath(),
		"cardId":  string(cardID),
		"titleId": string(titleID),
	})
	if err != nil {
		return nil, err
	}
	res := &OpenLoanResult{}
	if err := c.send(ctx, &transport.Request{Endpoint: endpoint}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// PrepareLoan opens the loan and visits its web url, which sets the cookie
// the content host requires. It returns the base url of the loan's assets.
func (c *Client) PrepareLoan(ctx context.Context, loan Loan) (string, *OpenLoanResult, error) {
	meta, err := c.OpenLoan(ctx, loan.MediaType(), loan.CardID, loan.ID)
	if err != nil {
		return "", nil, err
	}
	downloadBase := meta.URLs.Web

	headers := http.Header{}
	headers.Set("Accept", "*/*")
	_, err = c.api.Send(ctx, &transport.Request{
		Endpoint:        downloadBase + "?" + meta.Message,
		Method:          http.MethodHead,
		Headers:         headers,
		Unauthenticated: true,
	})
	if err != nil {
		return "", nil, err
	}
	return downloadBase, meta, nil
}

type rosterEnvelope struct {
	Rosters []Roster `json:"rosters" validate:"dive"`
}

// ProcessEbook returns everything needed to assemble an ebook or magazine
// issue locally: the asset base url, the openbook manifest and the rosters.
func (c *Client) ProcessEbook(ctx context.Context, loan Loan) (string, *OpenBook, []Roster, error) {
	downloadBase, meta, err := c.PrepareLoan(ctx, loan)
	if err != nil {
		return "", nil, nil, err
	}

	openbook := &OpenBook{}
	if err := c.send(ctx, &transport.Request{Endpoint: meta.URLs.OpenBook}, openbook); err != nil {
		return "", nil, nil, err
	}

	resp, err := c.api.Send(ctx, &transport.Request{Endpoint: meta.URLs.Rosters})
	if err != nil {
		return "", nil, nil, err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		body = []byte("[]")
	}
	envelope := rosterEnvelope{}
	wrapped := append(append([]byte(`{"rosters":`), body...), '}')
	if err := c.binder.Decode(ctx, wrapped, &envelope); err != nil {
		return "", nil, nil, err
	}
	return downloadBase, openbook, envelope.Rosters, nil
}

func fulfillHeaders() http.Header {
	h := DefaultHeaders()
	h.Set("Accept", "*/*")
	return h
}

func (c *Client) fulfillEndpoint(loanID, cardID ID, f formats.Format) (string, error) {
	return route(fulfillRoute, map[string]interface{}{
		"cardId":   string(cardID),
		"loanId":   string(loanID),
		"formatId": f.String(),
	})
}

// FulfillLoanFile returns the bytes of a loan in the given format. Kindle
// returns the JSON body holding the Kindle redirect. Open formats are served
// through a redirect that must be fetched again without the session. Locked
// ebooks and MP3 audiobooks return the endpoint's body as is.
func (c *Client) FulfillLoanFile(ctx context.Context, loanID, cardID ID, f formats.Format) ([]byte, error) {
	if !f.IsFulfillable() && f != formats.EBookKindle {
		return nil, errcodes.InvalidArgument("unsupported format: " + f.String())
	}
	endpoint, err := c.fulfillEndpoint(loanID, cardID, f)
	if err != nil {
		return nil, err
	}

	if f == formats.EBookKindle {
		resp, err := c.api.Send(ctx, &transport.Request{Endpoint: endpoint})
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	headers := fulfillHeaders()
	if f.IsOpen() {
		resp, err := c.api.Send(ctx, &transport.Request{
			Endpoint:   endpoint,
			Headers:    headers,
			NoRedirect: true,
		})
		if err != nil {
			return nil, err
		}
		location, err := redirectTarget(resp)
		if err != nil {
			return nil, err
		}
		logger.FromContext(ctx).Debug("following fulfillment redirect", logger.Data{"format": f.String()})
		return c.api.Fetch(ctx, location, headers)
	}

	resp, err := c.api.Send(ctx, &transport.Request{Endpoint: endpoint, Headers: headers})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// redirectTarget resolves the Location of a captured redirect against the
// url that returned it.
func redirectTarget(resp *transport.Response) (string, error) {
	location := resp.Location()
	if location == "" {
		return "", errcodes.MalformedResponse("fulfillment did not redirect", resp.Text())
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return "", errors.WithStack(err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", errcodes.MalformedResponse("invalid redirect location: "+location, resp.Text())
	}
	return base.ResolveReference(ref).String(), nil
}

// FulfillKindle returns the Kindle redirect of a loan.
func (c *Client) FulfillKindle(ctx context.Context, loanID, cardID ID) (*KindleFulfillment, error) {
	endpoint, err := c.fulfillEndpoint(loanID, cardID, formats.EBookKindle)
	if err != nil {
		return nil, err
	}
	res := &KindleFulfillment{}
	if err := c.send(ctx, &transport.Request{Endpoint: endpoint}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// FulfillmentDetails returns the url and headers needed to fetch a loan with
// an external tool.
func (c *Client) FulfillmentDetails(loanID, cardID ID, f formats.Format) (string, http.Header, error) {
	endpoint, err := c.fulfillEndpoint(loanID, cardID, f)
	if err != nil {
		return "", nil, err
	}
	u, err := c.api.Resolve(endpoint)
	if err != nil {
		return "", nil, err
	}
	headers := fulfillHeaders()
	if token := c.api.Token(); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return u, headers, nil
}

// FetchAsset downloads a loan asset or cover. The request carries the
// cookies set by PrepareLoan but not the bearer token.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	resp, err := c.api.Send(ctx, &transport.Request{
		Endpoint:        assetURL,
		Headers:         fulfillHeaders(),
		Unauthenticated: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
