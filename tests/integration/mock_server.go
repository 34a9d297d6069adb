package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// MockPDS simulates the Bluesky XRPC surface the scraper touches:
// session creation and refresh, handle resolution, feed pagination and
// blob fetches. Fixtures are built in code per test.
type MockPDS struct {
	server *httptest.Server

	mu             sync.RWMutex
	accounts       map[string]string // identifier -> app password
	handles        map[string]string // handle -> did
	feedPages      []FeedPage
	follows        []map[string]string
	errorResponses map[string]int // endpoint suffix -> status code
	rateLimitOnce  map[string]bool

	requestCount  int32
	loginCount    int32
	refreshCount  int32
	resolveCount  int32
	blobCount     int32
	rateLimitHits int32

	sessionSerial int32
}

// FeedPage is one response of a paginated feed endpoint. An empty
// Cursor terminates the walk.
type FeedPage struct {
	Items  []map[string]interface{}
	Cursor string
}

// NewMockPDS starts a mock server. Accounts and fixtures are added
// afterwards through the setters.
func NewMockPDS() *MockPDS {
	m := &MockPDS{
		accounts:       make(map[string]string),
		handles:        make(map[string]string),
		errorResponses: make(map[string]int),
		rateLimitOnce:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", m.handleCreateSession)
	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", m.handleRefreshSession)
	mux.HandleFunc("/xrpc/com.atproto.identity.resolveHandle", m.handleResolveHandle)
	mux.HandleFunc("/xrpc/app.bsky.feed.getAuthorFeed", m.handleFeed)
	mux.HandleFunc("/xrpc/app.bsky.feed.getActorLikes", m.handleFeed)
	mux.HandleFunc("/xrpc/app.bsky.graph.getFollows", m.handleFollows)
	mux.HandleFunc("/xrpc/com.atproto.sync.getBlob", m.handleBlob)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the base URL of the mock server
func (m *MockPDS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server
func (m *MockPDS) Close() {
	m.server.Close()
}

// AddAccount registers credentials accepted by createSession
func (m *MockPDS) AddAccount(identifier, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[identifier] = password
}

// AddHandle registers a handle to DID mapping for resolveHandle
func (m *MockPDS) AddHandle(handle, did string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[handle] = did
}

// SetFeed installs the pages served by the feed endpoints
func (m *MockPDS) SetFeed(pages []FeedPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedPages = pages
}

// SetFollows installs the profiles served by getFollows
func (m *MockPDS) SetFollows(follows []map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.follows = follows
}

// SetErrorResponse makes an endpoint return a fixed status code. The
// key is matched as a suffix of the request path.
func (m *MockPDS) SetErrorResponse(endpoint string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorResponses[endpoint] = code
}

// RateLimitNextRequest makes the next request to an endpoint answer 429
// exactly once
func (m *MockPDS) RateLimitNextRequest(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitOnce[endpoint] = true
}

// LoginCount returns how many createSession calls were served
func (m *MockPDS) LoginCount() int {
	return int(atomic.LoadInt32(&m.loginCount))
}

// RefreshCount returns how many refreshSession calls were served
func (m *MockPDS) RefreshCount() int {
	return int(atomic.LoadInt32(&m.refreshCount))
}

// ResolveCount returns how many resolveHandle calls were served
func (m *MockPDS) ResolveCount() int {
	return int(atomic.LoadInt32(&m.resolveCount))
}

// BlobCount returns how many blob fetches were served
func (m *MockPDS) BlobCount() int {
	return int(atomic.LoadInt32(&m.blobCount))
}

// RateLimitHits returns how many 429 responses were sent
func (m *MockPDS) RateLimitHits() int {
	return int(atomic.LoadInt32(&m.rateLimitHits))
}

// RequestCount returns the total number of requests served
func (m *MockPDS) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

// intercept applies configured error and rate limit behavior. It
// reports whether the request was already answered.
func (m *MockPDS) intercept(w http.ResponseWriter, r *http.Request) bool {
	atomic.AddInt32(&m.requestCount, 1)

	m.mu.Lock()
	var limited bool
	var errorCode int
	for endpoint := range m.rateLimitOnce {
		if strings.HasSuffix(r.URL.Path, endpoint) {
			limited = true
			delete(m.rateLimitOnce, endpoint)
			break
		}
	}
	if !limited {
		for endpoint, code := range m.errorResponses {
			if strings.HasSuffix(r.URL.Path, endpoint) {
				errorCode = code
				break
			}
		}
	}
	m.mu.Unlock()

	if limited {
		atomic.AddInt32(&m.rateLimitHits, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "RateLimitExceeded",
			"message": "Rate Limit Exceeded",
		})
		return true
	}
	if errorCode > 0 {
		w.WriteHeader(errorCode)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   http.StatusText(errorCode),
			"message": fmt.Sprintf("simulated %d", errorCode),
		})
		return true
	}
	return false
}

func (m *MockPDS) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	atomic.AddInt32(&m.loginCount, 1)

	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	password, ok := m.accounts[body.Identifier]
	m.mu.RUnlock()

	if !ok || password != body.Password {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "AuthenticationRequired",
			"message": "Invalid identifier or password",
		})
		return
	}

	m.writeSession(w, body.Identifier)
}

func (m *MockPDS) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	atomic.AddInt32(&m.refreshCount, 1)

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer refresh-") {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "ExpiredToken",
			"message": "Token has expired",
		})
		return
	}

	m.writeSession(w, "refreshed")
}

func (m *MockPDS) writeSession(w http.ResponseWriter, identifier string) {
	serial := atomic.AddInt32(&m.sessionSerial, 1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"accessJwt":  fmt.Sprintf("access-%d", serial),
		"refreshJwt": fmt.Sprintf("refresh-%d", serial),
		"handle":     identifier,
		"did":        "did:plc:session",
	})
}

func (m *MockPDS) handleResolveHandle(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	atomic.AddInt32(&m.resolveCount, 1)

	handle := r.URL.Query().Get("handle")

	m.mu.RLock()
	did, ok := m.handles[handle]
	m.mu.RUnlock()

	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "InvalidRequest",
			"message": "Unable to resolve handle",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"did": did})
}

func (m *MockPDS) handleFeed(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}

	m.mu.RLock()
	pages := m.feedPages
	m.mu.RUnlock()

	index := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		fmt.Sscanf(cursor, "page-%d", &index)
	}

	response := map[string]interface{}{"feed": []interface{}{}}
	if index < len(pages) {
		page := pages[index]
		response["feed"] = page.Items
		if page.Cursor != "" {
			response["cursor"] = page.Cursor
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (m *MockPDS) handleFollows(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}

	m.mu.RLock()
	follows := m.follows
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"follows": follows})
}

func (m *MockPDS) handleBlob(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	atomic.AddInt32(&m.blobCount, 1)

	w.Header().Set("Content-Type", "image/jpeg")
	fmt.Fprintf(w, "blob-%s", r.URL.Query().Get("cid"))
}

// PostItem builds a feed item with the given record key and image blob
// links, shaped the way getAuthorFeed returns posts
func PostItem(did, rkey, text string, links ...string) map[string]interface{} {
	record := map[string]interface{}{
		"text":      text,
		"createdAt": "2024-05-10T08:30:00.000Z",
	}
	if len(links) > 0 {
		images := make([]map[string]interface{}, len(links))
		for i, link := range links {
			images[i] = map[string]interface{}{
				"alt": "",
				"image": map[string]interface{}{
					"ref":      map[string]string{"$link": link},
					"mimeType": "image/jpeg",
				},
			}
		}
		record["embed"] = map[string]interface{}{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}
	return map[string]interface{}{
		"post": map[string]interface{}{
			"uri": fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey),
			"author": map[string]string{
				"did":    did,
				"handle": "author.test",
			},
			"record": record,
		},
	}
}
