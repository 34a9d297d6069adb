package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bskygrab/pkg/cache"
	"bskygrab/pkg/errors"
	"bskygrab/pkg/logger"
	"bskygrab/pkg/retry"
)

// testServer tracks per-endpoint request counts around an httptest server
type testServer struct {
	*httptest.Server
	mu     sync.Mutex
	counts map[string]int
}

func newTestServer(handler func(w http.ResponseWriter, r *http.Request)) *testServer {
	ts := &testServer{counts: make(map[string]int)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.counts[r.URL.Path]++
		ts.mu.Unlock()
		handler(w, r)
	}))
	return ts
}

func (ts *testServer) count(endpoint string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.counts["/xrpc/"+endpoint]
}

func newPublicClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c := NewClient("", "", cache.NewMemoryStore(), logger.NewTestLogger())
	c.SetRoot(serverURL)
	c.RateLimitWait = time.Millisecond
	return c
}

func feedPage(cursor string, uris ...string) map[string]interface{} {
	items := make([]map[string]interface{}, len(uris))
	for i, uri := range uris {
		items[i] = map[string]interface{}{
			"post": map[string]interface{}{
				"uri": uri,
				"author": map[string]interface{}{
					"did": "did:plc:author", "handle": "author.bsky.social",
				},
				"record": map[string]interface{}{
					"text": "post " + uri, "createdAt": "2024-03-01T10:00:00.000Z",
				},
			},
		}
	}
	page := map[string]interface{}{"feed": items}
	if cursor != "" {
		page["cursor"] = cursor
	}
	return page
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestAuthorFeedWalksAllPages(t *testing.T) {
	pages := []map[string]interface{}{
		feedPage("cur1", "at://did:plc:author/app.bsky.feed.post/a1", "at://did:plc:author/app.bsky.feed.post/a2"),
		feedPage("cur2", "at://did:plc:author/app.bsky.feed.post/b1"),
		feedPage("", "at://did:plc:author/app.bsky.feed.post/c1"),
	}
	var cursors []string

	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if cur := r.URL.Query().Get("cursor"); cur != "" {
			cursors = append(cursors, cur)
			switch cur {
			case "cur1":
				idx = 1
			case "cur2":
				idx = 2
			}
		}
		writeJSON(w, pages[idx])
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.AuthorFeed(context.Background(), "did:plc:author", "")
	require.NoError(t, err)

	var items int
	for pager.Next(context.Background()) {
		item, err := DecodeFeedItem(pager.Item())
		require.NoError(t, err)
		assert.NotEmpty(t, item.Post.URI)
		items++
	}
	require.NoError(t, pager.Err())

	assert.Equal(t, 4, items)
	assert.Equal(t, 3, ts.count(EndpointAuthorFeed), "one request per page")
	assert.Equal(t, []string{"cur1", "cur2"}, cursors, "cursor threaded verbatim")
}

func TestAuthorFeedDefaultsFilter(t *testing.T) {
	var filter string
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		filter = r.URL.Query().Get("filter")
		writeJSON(w, feedPage(""))
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.AuthorFeed(context.Background(), "did:plc:author", "")
	require.NoError(t, err)
	pager.Next(context.Background())

	assert.Equal(t, FilterPostsAndAuthorThreads, filter)
}

func TestPagerLazyFetch(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, feedPage("more", "at://x/app.bsky.feed.post/1"))
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	_, err := c.AuthorFeed(context.Background(), "did:plc:author", "")
	require.NoError(t, err)
	assert.Equal(t, 0, ts.count(EndpointAuthorFeed), "no request before the first Next")
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, feedPage("", "at://x/app.bsky.feed.post/1"))
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.ActorLikes(context.Background(), "did:plc:author")
	require.NoError(t, err)

	require.True(t, pager.Next(context.Background()))
	require.NoError(t, pager.Err())
	assert.Equal(t, 3, calls, "two rate-limited attempts then success")
}

func TestRateLimitWaitHonoursCancellation(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	c.RateLimitWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	pager, err := c.ActorLikes(ctx, "did:plc:author")
	require.NoError(t, err)
	assert.False(t, pager.Next(ctx))
	assert.ErrorIs(t, pager.Err(), context.DeadlineExceeded)
}

func TestServerErrorIsFatal(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"error": "InvalidRequest"})
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.ActorLikes(context.Background(), "did:plc:author")
	require.NoError(t, err)

	assert.False(t, pager.Next(context.Background()))
	var reqErr *errors.RequestError
	require.ErrorAs(t, pager.Err(), &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, 1, ts.count(EndpointActorLikes), "fatal statuses are not retried")
}

func TestLoginCachesAccessToken(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/" + EndpointCreateSession:
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			assert.Equal(t, "alice.bsky.social", creds["identifier"])
			assert.Equal(t, "abcd-efgh-ijkl-mnop", creds["password"])
			writeJSON(w, map[string]string{
				"accessJwt": "access-1", "refreshJwt": "refresh-1",
				"handle": "alice.bsky.social", "did": "did:plc:alice",
			})
		default:
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			writeJSON(w, feedPage(""))
		}
	})
	defer ts.Close()

	store := cache.NewMemoryStore()
	c := NewClient("alice.bsky.social", "abcd-efgh-ijkl-mnop", store, logger.NewTestLogger())
	c.SetRoot(ts.URL)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pager, err := c.ActorLikes(ctx, "did:plc:alice")
		require.NoError(t, err)
		pager.Next(ctx)
		require.NoError(t, pager.Err())
	}

	assert.Equal(t, 1, ts.count(EndpointCreateSession), "cached token reused across calls")

	token, ok := store.Get(cache.KeyAccessToken + "alice.bsky.social")
	require.True(t, ok)
	assert.Equal(t, "Bearer access-1", token)

	refresh, ok := store.Get(cache.KeyRefreshToken + "alice.bsky.social")
	require.True(t, ok)
	assert.Equal(t, "refresh-1", refresh)
}

func TestExpiredTokenTriggersRefresh(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/" + EndpointRefreshSession:
			assert.Equal(t, "Bearer refresh-old", r.Header.Get("Authorization"))
			writeJSON(w, map[string]string{
				"accessJwt": "access-2", "refreshJwt": "refresh-2",
			})
		case "/xrpc/" + EndpointCreateSession:
			t.Error("full login must not happen while a refresh token exists")
		default:
			writeJSON(w, feedPage(""))
		}
	})
	defer ts.Close()

	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(cache.KeyRefreshToken+"alice.bsky.social", "refresh-old", 0))

	c := NewClient("alice.bsky.social", "abcd-efgh-ijkl-mnop", store, logger.NewTestLogger())
	c.SetRoot(ts.URL)

	pager, err := c.ActorLikes(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	pager.Next(context.Background())
	require.NoError(t, pager.Err())

	assert.Equal(t, 1, ts.count(EndpointRefreshSession))

	refresh, ok := store.Get(cache.KeyRefreshToken + "alice.bsky.social")
	require.True(t, ok)
	assert.Equal(t, "refresh-2", refresh, "rotated refresh token stored")
}

func TestLoginFailureCarriesServerError(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{
			"error": "AuthenticationRequired", "message": "Invalid identifier or password",
		})
	})
	defer ts.Close()

	c := NewClient("alice.bsky.social", "wrong", cache.NewMemoryStore(), logger.NewTestLogger())
	c.SetRoot(ts.URL)

	pager, err := c.ActorLikes(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.False(t, pager.Next(context.Background()))

	var authErr *errors.AuthenticationError
	require.ErrorAs(t, pager.Err(), &authErr)
	assert.Equal(t, "AuthenticationRequired", authErr.Code)
	assert.Contains(t, authErr.Error(), "Invalid identifier or password")
}

func TestPublicClientNeverAuthenticates(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, feedPage(""))
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.ActorLikes(context.Background(), "did:plc:someone")
	require.NoError(t, err)
	pager.Next(context.Background())
	require.NoError(t, pager.Err())

	assert.Equal(t, 0, ts.count(EndpointCreateSession))
}

func TestResolveHandleMemoized(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice.bsky.social", r.URL.Query().Get("handle"))
		writeJSON(w, map[string]string{"did": "did:plc:alice"})
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		did, err := c.ResolveHandle(ctx, "alice.bsky.social")
		require.NoError(t, err)
		assert.Equal(t, "did:plc:alice", did)
	}
	assert.Equal(t, 1, ts.count(EndpointResolveHandle), "resolution memoized per handle")
}

func TestResolveHandleSurvivesAcrossClients(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"did": "did:plc:alice"})
	})
	defer ts.Close()

	store := cache.NewMemoryStore()

	first := NewClient("", "", store, logger.NewTestLogger())
	first.SetRoot(ts.URL)
	_, err := first.ResolveHandle(context.Background(), "alice.bsky.social")
	require.NoError(t, err)

	second := NewClient("", "", store, logger.NewTestLogger())
	second.SetRoot(ts.URL)
	did, err := second.ResolveHandle(context.Background(), "alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)

	assert.Equal(t, 1, ts.count(EndpointResolveHandle), "durable store serves the second client")
}

func TestDIDPassthroughSkipsNetwork(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for a did: actor")
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	did, err := c.DIDFromActor(context.Background(), "did:plc:already")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:already", did)
}

func TestPostThreadSingleItem(t *testing.T) {
	var requestedURI string
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		requestedURI = r.URL.Query().Get("uri")
		writeJSON(w, map[string]interface{}{
			"thread": map[string]interface{}{
				"post": map[string]interface{}{
					"uri": "at://did:plc:author/app.bsky.feed.post/xyz",
					"record": map[string]interface{}{
						"text": "single", "createdAt": "2024-03-01T10:00:00.000Z",
					},
				},
			},
		})
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.PostThread(context.Background(), "did:plc:author", "xyz")
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:author/app.bsky.feed.post/xyz", requestedURI)

	require.True(t, pager.Next(context.Background()))
	item, err := DecodeFeedItem(pager.Item())
	require.NoError(t, err)
	assert.Equal(t, "single", item.Post.Record.Text)

	assert.False(t, pager.Next(context.Background()))
	assert.NoError(t, pager.Err())
}

func TestFeedAndListBuildATURIs(t *testing.T) {
	params := make(map[string]string)
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		if feed := r.URL.Query().Get("feed"); feed != "" {
			params["feed"] = feed
		}
		if list := r.URL.Query().Get("list"); list != "" {
			params["list"] = list
		}
		writeJSON(w, feedPage(""))
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	ctx := context.Background()

	pager, err := c.Feed(ctx, "did:plc:author", "aaaorns")
	require.NoError(t, err)
	pager.Next(ctx)
	assert.Equal(t, "at://did:plc:author/app.bsky.feed.generator/aaaorns", params["feed"])

	pager, err = c.ListFeed(ctx, "did:plc:author", "listkey")
	require.NoError(t, err)
	pager.Next(ctx)
	assert.Equal(t, "at://did:plc:author/app.bsky.graph.list/listkey", params["list"])
}

func TestFollowsDecodeAsActors(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"follows": []map[string]string{
				{"did": "did:plc:b", "handle": "bob.bsky.social"},
				{"did": "did:plc:c", "handle": "carol.bsky.social"},
			},
		})
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.Follows(context.Background(), "did:plc:a")
	require.NoError(t, err)

	var handles []string
	for pager.Next(context.Background()) {
		actor, err := DecodeActor(pager.Item())
		require.NoError(t, err)
		handles = append(handles, actor.Handle)
	}
	require.NoError(t, pager.Err())
	assert.Equal(t, []string{"bob.bsky.social", "carol.bsky.social"}, handles)
}

func TestProfile(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"did": "did:plc:alice", "handle": "alice.bsky.social", "displayName": "Alice",
		})
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	profile, err := c.Profile(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.DisplayName)
}

func TestDownloadBlobRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "image-bytes")
	}))
	defer server.Close()

	c := newPublicClient(t, server.URL)
	c.SetRetrier(retry.NewRetrier(&retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     retry.DefaultRetryIf,
		Context:     context.Background(),
	}))
	data, err := c.DownloadBlob(context.Background(), server.URL+"/blob")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Equal(t, 2, calls)
}

func TestDownloadBlobNotFoundNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newPublicClient(t, server.URL)
	_, err := c.DownloadBlob(context.Background(), server.URL+"/blob")

	var apiErr *errors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errors.ErrorTypeNotFound, apiErr.Type)
	assert.Equal(t, 1, calls)
}

// Authenticated pagination rewrites the Authorization header while pool
// workers read the headers for blob fetches; both paths must go through
// the header lock. Run with -race.
func TestHeadersSafeForConcurrentUse(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/" + EndpointCreateSession:
			writeJSON(w, map[string]string{
				"accessJwt": "access-1", "refreshJwt": "refresh-1",
			})
		case "/blob":
			fmt.Fprint(w, "image-bytes")
		default:
			writeJSON(w, feedPage("more", "at://did:plc:a/app.bsky.feed.post/x"))
		}
	})
	defer ts.Close()

	c := NewClient("alice.bsky.social", "abcd-efgh-ijkl-mnop", cache.NewMemoryStore(), logger.NewTestLogger())
	c.SetRoot(ts.URL)

	ctx := context.Background()
	pager, err := c.ActorLikes(ctx, "did:plc:alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50 && pager.Next(ctx); i++ {
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := c.DownloadBlob(ctx, ts.URL+"/blob")
		require.NoError(t, err)
	}
	<-done
	require.NoError(t, pager.Err())
}

func TestRequestErrorCarriesServerReason(t *testing.T) {
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, bufrw, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()
		bufrw.WriteString("HTTP/1.1 400 MonthlyQuotaExceeded\r\nContent-Length: 0\r\n\r\n")
		bufrw.Flush()
	})
	defer ts.Close()

	c := newPublicClient(t, ts.URL)
	pager, err := c.ActorLikes(context.Background(), "did:plc:author")
	require.NoError(t, err)
	assert.False(t, pager.Next(context.Background()))

	var reqErr *errors.RequestError
	require.ErrorAs(t, pager.Err(), &reqErr)
	assert.Equal(t, "MonthlyQuotaExceeded", reqErr.Reason, "server's own reason phrase survives")
}

func TestSessionAndRateLimitLogged(t *testing.T) {
	var calls int
	ts := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/" + EndpointCreateSession:
			writeJSON(w, map[string]string{
				"accessJwt": "access-1", "refreshJwt": "refresh-1",
			})
		default:
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, feedPage(""))
		}
	})
	defer ts.Close()

	log := logger.NewTestLogger()
	c := NewClient("alice.bsky.social", "abcd-efgh-ijkl-mnop", cache.NewMemoryStore(), log)
	c.SetRoot(ts.URL)
	c.RateLimitWait = time.Millisecond

	pager, err := c.ActorLikes(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	pager.Next(context.Background())
	require.NoError(t, pager.Err())

	assert.True(t, log.HasMessage("session established"))
	assert.True(t, log.HasMessage("rate limited, waiting before retry"))
}

func TestHostSelection(t *testing.T) {
	public := NewClient("", "", nil, logger.NewTestLogger())
	assert.Equal(t, PublicHost, public.Root())

	authed := NewClient("alice.bsky.social", "abcd-efgh-ijkl-mnop", nil, logger.NewTestLogger())
	assert.Equal(t, AuthHost, authed.Root())
}

func TestBlobURL(t *testing.T) {
	c := NewClient("", "", nil, logger.NewTestLogger())
	url := c.BlobURL("did:plc:abc", "bafyreib2rxk3rw6lv6w")
	assert.Equal(t, "https://bsky.social/xrpc/com.atproto.sync.getBlob?cid=bafyreib2rxk3rw6lv6w&did=did%3Aplc%3Aabc", url)
}

func TestATURI(t *testing.T) {
	uri := ATURI("did:plc:abc", "app.bsky.feed.post", "3k44deefxdk2g")
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3k44deefxdk2g", uri)
}

func TestIsDID(t *testing.T) {
	assert.True(t, IsDID("did:plc:abc"))
	assert.True(t, IsDID("did:web:example.com"))
	assert.False(t, IsDID("alice.bsky.social"))
}
