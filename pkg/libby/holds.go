package libby

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/transport"
)

// DefaultSuspendDays is how long a hold is suspended when no value is given.
const DefaultSuspendDays = 7

var holdRoute = mustTemplate("card/{cardId}/hold/{titleId}")

type holdArgs struct {
	TitleID       string `json:"titleId" validate:"required"`
	CardID        string `json:"cardId" validate:"required"`
	DaysToSuspend int    `json:"days_to_suspend" validate:"suspenddays"`
}

type createHoldPayload struct {
	DaysToSuspend int    `json:"days_to_suspend"`
	EmailAddress  string `json:"email_address"`
}

type suspendHoldPayload struct {
	DaysToSuspend int `json:"days_to_suspend"`
}

func (c *Client) holdEndpoint(ctx context.Context, args *holdArgs) (string, error) {
	if err := c.binder.Validate(ctx, args); err != nil {
		return "", err
	}
	return route(holdRoute, map[string]interface{}{"cardId": args.CardID, "titleId": args.TitleID})
}

// CreateHold places a hold on a title.
func (c *Client) CreateHold(ctx context.Context, titleID, cardID ID) (*Hold, error) {
	endpoint, err := c.holdEndpoint(ctx, &holdArgs{TitleID: string(titleID), CardID: string(cardID)})
	if err != nil {
		return nil, err
	}
	hold := &Hold{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		JSON:     createHoldPayload{},
	}, hold)
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// CreateHoldForCard places a hold with a card. A card at its hold limit is
// rejected without a request.
func (c *Client) CreateHoldForCard(ctx context.Context, titleID ID, card Card) (*Hold, error) {
	if !card.CanPlaceHold() {
		return nil, errcodes.InvalidArgument(fmt.Sprintf("card %s is at its hold limit (%d)", card.CardID, card.Limits.Hold))
	}
	return c.CreateHold(ctx, titleID, card.CardID)
}

func (c *Client) CancelHoldTitle(ctx context.Context, titleID, cardID ID) error {
	endpoint, err := c.holdEndpoint(ctx, &holdArgs{TitleID: string(titleID), CardID: string(cardID)})
	if err != nil {
		return err
	}
	_, err = c.api.Send(ctx, &transport.Request{Endpoint: endpoint, Method: http.MethodDelete})
	return err
}

func (c *Client) CancelHold(ctx context.Context, hold Hold) error {
	return c.CancelHoldTitle(ctx, hold.ID, hold.CardID)
}

// SuspendHoldTitle defers delivery of a hold. When the hold is already
// available it is delivered after the given number of days. Only 0 to 30,
// 60 and 90 days are accepted.
func (c *Client) SuspendHoldTitle(ctx context.Context, cardID, titleID ID, days int) (*Hold, error) {
	endpoint, err := c.holdEndpoint(ctx, &holdArgs{TitleID: string(titleID), CardID: string(cardID), DaysToSuspend: days})
	if err != nil {
		return nil, err
	}
	hold := &Hold{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Method:   http.MethodPut,
		JSON:     suspendHoldPayload{DaysToSuspend: days},
	}, hold)
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func (c *Client) SuspendHold(ctx context.Context, hold Hold, days int) (*Hold, error) {
	return c.SuspendHoldTitle(ctx, hold.CardID, hold.ID, days)
}

func (c *Client) UnsuspendHold(ctx context.Context, hold Hold) (*Hold, error) {
	return c.SuspendHoldTitle(ctx, hold.CardID, hold.ID, 0)
}
