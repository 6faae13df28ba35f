package libby

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shishobooks/libby/pkg/transport"
)

var (
	cardRoute     = mustTemplate("card/{cardId}")
	authFormRoute = mustTemplate("auth/forms/{websiteId}")
	authLinkRoute = mustTemplate("auth/link/{websiteId}")
)

// AuthForms returns the forms a library accepts for card verification. Use
// ILSName to pick the right one.
func (c *Client) AuthForms(ctx context.Context, websiteID ID) (*AuthFormsResult, error) {
	endpoint, err := route(authFormRoute, map[string]interface{}{"websiteId": string(websiteID)})
	if err != nil {
		return nil, err
	}
	res := &AuthFormsResult{}
	if err := c.send(ctx, &transport.Request{Endpoint: endpoint}, res); err != nil {
		return nil, err
	}
	return res, nil
}

type verifyCardPayload struct {
	ILS      string `json:"ils"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// VerifyCard links a library card using its credentials. An empty password
// is left out of the request. The response shape varies by library, so it is
// returned undecoded.
func (c *Client) VerifyCard(ctx context.Context, websiteID ID, ils, username, password string) (map[string]interface{}, error) {
	endpoint, err := route(authLinkRoute, map[string]interface{}{"websiteId": string(websiteID)})
	if err != nil {
		return nil, err
	}
	return c.sendMap(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		JSON:     verifyCardPayload{ILS: ils, Username: username, Password: password},
	})
}

// UpdateCardName renames a card.
func (c *Client) UpdateCardName(ctx context.Context, cardID ID, name string) (map[string]interface{}, error) {
	endpoint, err := route(cardRoute, map[string]interface{}{"cardId": string(cardID)})
	if err != nil {
		return nil, err
	}
	return c.sendMap(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPut,
		Query:    url.Values{"card_name": {name}},
	})
}
