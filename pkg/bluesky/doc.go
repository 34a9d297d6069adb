// Package bluesky implements the Bluesky XRPC client used for media
// extraction.
//
// A Client owns one session. Constructed with credentials it logs in
// lazily against bsky.social, caching the bearer credential for an hour
// and the refresh token for 84 days so later runs skip the full login;
// constructed without credentials it reads from the public AppView and
// never authenticates.
//
// Posts are retrieved through a fixed set of query shapes (author feed,
// likes, feed generator, list feed, follows, single thread), all driven
// by the same cursor Pager. Raw feed items are flattened by Normalize
// into Records, and Client.MediaFiles enumerates the attached images
// with blob URLs built against the client's blob host.
package bluesky
