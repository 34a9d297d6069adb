package bluesky

import (
	"context"
	"encoding/json"
	"net/url"

	"bskygrab/pkg/cache"
	"bskygrab/pkg/errors"
)

// DIDFromActor resolves an actor string to a durable identifier. Input
// that already carries the did: prefix is returned unchanged without a
// network call.
func (c *Client) DIDFromActor(ctx context.Context, actor string) (string, error) {
	if IsDID(actor) {
		return actor, nil
	}
	return c.ResolveHandle(ctx, actor)
}

// ResolveHandle maps a handle to its DID. The mapping is immutable once
// resolved: it is memoized for the process lifetime and mirrored into
// the durable store so later runs skip the lookup too.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if did, ok := c.handles.Get(handle); ok {
		return did, nil
	}
	if did, ok := c.store.Get(cache.KeyResolveHandle + handle); ok {
		c.handles.Put(handle, did)
		return did, nil
	}

	params := url.Values{}
	params.Set("handle", handle)
	data, err := c.call(ctx, EndpointResolveHandle, params)
	if err != nil {
		return "", err
	}

	var did string
	if err := json.Unmarshal(data["did"], &did); err != nil || did == "" {
		return "", &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "resolveHandle response carried no did",
		}
	}

	c.logger.DebugWithFields("handle resolved", map[string]interface{}{
		"handle": handle,
		"did":    did,
	})

	c.handles.Put(handle, did)
	if err := c.store.Set(cache.KeyResolveHandle+handle, did, 0); err != nil {
		c.logger.WithError(err).Warn("failed to cache resolved handle")
	}
	return did, nil
}
