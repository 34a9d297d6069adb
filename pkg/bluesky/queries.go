package bluesky

import (
	"context"
	"encoding/json"
	"net/url"

	"bskygrab/pkg/errors"
)

// The query shapes below are the closed set of ways posts are retrieved.
// Each resolves its actor to a DID, then hands endpoint, parameters and
// the response-array key to the shared pagination mechanism.

// AuthorFeed pages through an author's feed with the given filter
// (see the Filter constants).
func (c *Client) AuthorFeed(ctx context.Context, actor, filter string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = FilterPostsAndAuthorThreads
	}

	params := url.Values{}
	params.Set("actor", did)
	params.Set("filter", filter)
	params.Set("limit", DefaultPageLimit)
	return c.paginate(EndpointAuthorFeed, params, "feed"), nil
}

// ActorLikes pages through the posts an actor has liked
func (c *Client) ActorLikes(ctx context.Context, actor string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("actor", did)
	params.Set("limit", DefaultPageLimit)
	return c.paginate(EndpointActorLikes, params, "feed"), nil
}

// Feed pages through a feed generator published by actor
func (c *Client) Feed(ctx context.Context, actor, feed string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("feed", ATURI(did, "app.bsky.feed.generator", feed))
	params.Set("limit", DefaultPageLimit)
	return c.paginate(EndpointFeed, params, "feed"), nil
}

// ListFeed pages through the feed of a list owned by actor
func (c *Client) ListFeed(ctx context.Context, actor, list string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("list", ATURI(did, "app.bsky.graph.list", list))
	params.Set("limit", DefaultPageLimit)
	return c.paginate(EndpointListFeed, params, "feed"), nil
}

// Follows pages through the accounts an actor follows. Items decode as
// Actor, not FeedItem.
func (c *Client) Follows(ctx context.Context, actor string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("actor", did)
	params.Set("limit", DefaultPageLimit)
	return c.paginate(EndpointFollows, params, "follows"), nil
}

// PostThread looks up a single post by its rkey. The thread root is
// wrapped as a one-page sequence so callers consume it like the
// paginated shapes.
func (c *Client) PostThread(ctx context.Context, actor, postID string) (*Pager, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("uri", ATURI(did, "app.bsky.feed.post", postID))
	data, err := c.call(ctx, EndpointPostThread, params)
	if err != nil {
		return nil, err
	}

	thread, ok := data["thread"]
	if !ok {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "getPostThread response carried no thread",
		}
	}
	return newStaticPager([]json.RawMessage{thread}), nil
}

// Profile fetches an actor's profile view
func (c *Client) Profile(ctx context.Context, actor string) (*Actor, error) {
	did, err := c.DIDFromActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("actor", did)
	data, err := c.call(ctx, EndpointProfile, params)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var profile Actor
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "failed to parse profile",
		}
	}
	return &profile, nil
}
