package libby

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shishobooks/libby/pkg/transport"
)

const (
	TagBehaviorNotifyMe = "notify-me"
	TagTypeSubscription = "subscription"

	// TagsPerPage is the page size the app uses when listing a tag.
	TagsPerPage = 12

	TagSortNewest = "newest"
	TagSortOldest = "oldest"
	TagSortAuthor = "author"
	TagSortTitle  = "title"
)

var (
	tagRoute      = mustTemplate("tag/{tagId}/{tagName}")
	taggingRoute  = mustTemplate("tagging/{titleId}")
	taggingsRoute = mustTemplate("taggings/{titleIds}")
)

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// tagURL is the tag's endpoint. The name is sent base64 encoded, with its
// slashes left unescaped.
func (c *Client) tagURL(tagID, name string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(name))
	p, err := route(tagRoute, map[string]interface{}{"tagId": tagID, "tagName": encoded})
	if err != nil {
		return "", err
	}
	return c.tagsBase + strings.ReplaceAll(p, "%2F", "/"), nil
}

func (c *Client) taggingURL(tagID, name string, titleID ID) (string, error) {
	base, err := c.tagURL(tagID, name)
	if err != nil {
		return "", err
	}
	p, err := route(taggingRoute, map[string]interface{}{"titleId": string(titleID)})
	if err != nil {
		return "", err
	}
	return base + "/" + p, nil
}

func encQuery() url.Values {
	return url.Values{"enc": {"1"}}
}

// Tags lists the account's tags.
func (c *Client) Tags(ctx context.Context) (*TagsResult, error) {
	res := &TagsResult{}
	if err := c.send(ctx, &transport.Request{Endpoint: c.tagsBase + "tags"}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Tag returns a tag with the taggings in [start, end). An empty sort uses
// the newest first.
func (c *Client) Tag(ctx context.Context, tagID, name string, start, end int, sort string) (*TagResult, error) {
	endpoint, err := c.tagURL(tagID, name)
	if err != nil {
		return nil, err
	}
	if sort == "" {
		sort = TagSortNewest
	}
	query := encQuery()
	query.Set("sort", sort)
	query.Set("range", fmt.Sprintf("%d...%d", start, end))

	res := &TagResult{}
	if err := c.send(ctx, &transport.Request{Endpoint: endpoint, Query: query}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// TagPaged is Tag with page based paging. Pages start at 0.
func (c *Client) TagPaged(ctx context.Context, tagID, name string, page, perPage int, sort string) (*TagResult, error) {
	if perPage <= 0 {
		perPage = TagsPerPage
	}
	return c.Tag(ctx, tagID, name, page*perPage, (page+1)*perPage, sort)
}

// Taggings returns the tags applied to each title.
func (c *Client) Taggings(ctx context.Context, titleIDs []ID) (map[string]interface{}, error) {
	ids := make([]string, 0, len(titleIDs))
	for _, id := range titleIDs {
		ids = append(ids, string(id))
	}
	p, err := route(taggingsRoute, map[string]interface{}{"titleIds": strings.Join(ids, ",")})
	if err != nil {
		return nil, err
	}
	return c.sendMap(ctx, &transport.Request{Endpoint: c.tagsBase + p})
}

type tagPayload struct {
	Tag Tag `json:"tag"`
}

type taggingPayload struct {
	Tagging Tagging `json:"tagging"`
}

// postTag sends the tag and fills in the response's tag when the service
// leaves it out.
func (c *Client) postTag(ctx context.Context, tag Tag) (*TagResult, error) {
	endpoint, err := c.tagURL(tag.UUID, tag.Name)
	if err != nil {
		return nil, err
	}
	res := &TagResult{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Query:    encQuery(),
		JSON:     tagPayload{Tag: tag},
	}, res)
	if err != nil {
		return nil, err
	}
	if res.Tag == nil {
		res.Tag = &tag
	}
	return res, nil
}

// CreateTag creates a tag. behavior and tagType are optional.
func (c *Client) CreateTag(ctx context.Context, name, description, behavior, tagType string) (*TagResult, error) {
	behaviors := TagBehaviors{}
	if behavior != "" {
		behaviors[behavior] = map[string]interface{}{}
		if tagType != "" {
			behaviors[behavior]["type"] = tagType
		}
	}
	return c.postTag(ctx, Tag{
		Name:          name,
		Description:   description,
		UUID:          uuid.New().String(),
		CreateTime:    nowMillis(),
		TotalTaggings: 0,
		Behaviors:     behaviors,
	})
}

// CreateNotifyMeTag creates a tag that notifies when its titles become
// available.
func (c *Client) CreateNotifyMeTag(ctx context.Context, name, description string) (*TagResult, error) {
	return c.CreateTag(ctx, name, description, TagBehaviorNotifyMe, TagTypeSubscription)
}

// UpdateTag saves a tag. Its taggings are not sent.
func (c *Client) UpdateTag(ctx context.Context, tag Tag) (*TagResult, error) {
	tag.Taggings = nil
	return c.postTag(ctx, tag)
}

func (c *Client) DeleteTag(ctx context.Context, tagID, name string) (*TagResult, error) {
	endpoint, err := c.tagURL(tagID, name)
	if err != nil {
		return nil, err
	}
	res := &TagResult{}
	err = c.send(ctx, &transport.Request{
		Endpoint:  endpoint,
		Method:    http.MethodDelete,
		Query:     encQuery(),
		EmptyBody: true,
	}, res)
	if err != nil {
		return nil, err
	}
	if res.Tag == nil {
		res.Tag = &Tag{UUID: tagID, Name: name}
	}
	return res, nil
}

// AddTitleTag adds a title to a tag.
func (c *Client) AddTitleTag(ctx context.Context, tagID, name string, titleID, websiteID, cardID ID) (*TagResult, error) {
	endpoint, err := c.taggingURL(tagID, name, titleID)
	if err != nil {
		return nil, err
	}
	tagging := Tagging{
		TitleID:    titleID,
		WebsiteID:  websiteID,
		CardID:     cardID,
		CreateTime: nowMillis(),
	}
	res := &TagResult{}
	err = c.send(ctx, &transport.Request{
		Endpoint: endpoint,
		Query:    encQuery(),
		JSON:     taggingPayload{Tagging: tagging},
	}, res)
	if err != nil {
		return nil, err
	}
	if res.Tag == nil {
		res.Tag = &Tag{UUID: tagID, Name: name}
	}
	if res.Tagging == nil {
		res.Tagging = &tagging
	}
	return res, nil
}

// DeleteTitleTag removes a title from a tag.
func (c *Client) DeleteTitleTag(ctx context.Context, tagID, name string, titleID ID) (*TagResult, error) {
	endpoint, err := c.taggingURL(tagID, name, titleID)
	if err != nil {
		return nil, err
	}
	res := &TagResult{}
	err = c.send(ctx, &transport.Request{
		Endpoint:  endpoint,
		Method:    http.MethodDelete,
		Query:     encQuery(),
		EmptyBody: true,
	}, res)
	if err != nil {
		return nil, err
	}
	if res.Tag == nil {
		res.Tag = &Tag{UUID: tagID, Name: name}
	}
	if res.Tagging == nil {
		res.Tagging = &Tagging{TitleID: titleID}
	}
	return res, nil
}
