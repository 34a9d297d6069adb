package bluesky

import (
	"fmt"
	"strings"
)

const (
	// PublicHost serves read-only AppView queries without credentials
	PublicHost = "https://api.bsky.app"

	// AuthHost serves authenticated sessions and blob fetches
	AuthHost = "https://bsky.social"

	// XRPC endpoint names
	EndpointActorLikes     = "app.bsky.feed.getActorLikes"
	EndpointAuthorFeed     = "app.bsky.feed.getAuthorFeed"
	EndpointFeed           = "app.bsky.feed.getFeed"
	EndpointFollows        = "app.bsky.graph.getFollows"
	EndpointListFeed       = "app.bsky.feed.getListFeed"
	EndpointPostThread     = "app.bsky.feed.getPostThread"
	EndpointProfile        = "app.bsky.actor.getProfile"
	EndpointResolveHandle  = "com.atproto.identity.resolveHandle"
	EndpointCreateSession  = "com.atproto.server.createSession"
	EndpointRefreshSession = "com.atproto.server.refreshSession"
	EndpointGetBlob        = "com.atproto.sync.getBlob"

	// DefaultPageLimit is the page size requested from paginated endpoints
	DefaultPageLimit = "100"

	// didPrefix marks an actor string that is already a durable identifier
	didPrefix = "did:"
)

// Author feed filters accepted by getAuthorFeed
const (
	FilterPostsAndAuthorThreads = "posts_and_author_threads"
	FilterPostsWithReplies      = "posts_with_replies"
	FilterPostsWithMedia        = "posts_with_media"
	FilterPostsNoReplies        = "posts_no_replies"
)

// xrpcURL builds the call URL for an endpoint under the given host root
func xrpcURL(root, endpoint string) string {
	return fmt.Sprintf("%s/xrpc/%s", root, endpoint)
}

// ATURI builds an at:// URI for a record in the given collection
func ATURI(did, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}

// IsDID reports whether actor is already a durable identifier
func IsDID(actor string) bool {
	return strings.HasPrefix(actor, didPrefix)
}
