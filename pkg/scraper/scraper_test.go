package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bskygrab/pkg/bluesky"
	"bskygrab/pkg/cache"
	"bskygrab/pkg/config"
	"bskygrab/pkg/logger"
	"bskygrab/pkg/metadata"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()
	cfg.Output.CreateUserFolders = false
	cfg.RateLimit.RequestsPerMinute = 0
	return cfg
}

// scrapeServer serves a two-page author feed where the second post
// carries two images, plus the matching blobs
func scrapeServer(t *testing.T) *httptest.Server {
	t.Helper()

	post := func(rkey, text string, links ...string) map[string]interface{} {
		record := map[string]interface{}{
			"text":      text,
			"createdAt": "2024-03-01T10:20:30.000Z",
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
				"uri":    "at://did:plc:author/app.bsky.feed.post/" + rkey,
				"author": map[string]string{"did": "did:plc:author", "handle": "author.bsky.social"},
				"record": record,
			},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.feed.getAuthorFeed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"feed":   []interface{}{post("textonly", "no media")},
				"cursor": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"feed": []interface{}{post("withpics", "two pics", "bafy1", "bafy2")},
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.sync.getBlob", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "blob-%s", r.URL.Query().Get("cid"))
	})
	mux.HandleFunc("/xrpc/app.bsky.graph.getFollows", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"follows": []map[string]string{
				{"did": "did:plc:b", "handle": "bob.bsky.social"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func newTestScraper(t *testing.T, cfg *config.Config, serverURL string) *Scraper {
	t.Helper()
	client := bluesky.NewClient("", "", cache.NewMemoryStore(), logger.NewTestLogger())
	client.SetRoot(serverURL)
	client.SetBlobRoot(serverURL)
	return New(cfg, client, logger.NewTestLogger())
}

func TestRunDownloadsMediaAndMetadata(t *testing.T) {
	server := scrapeServer(t)
	defer server.Close()

	cfg := testConfig(t)
	s := newTestScraper(t, cfg, server.URL)

	stats, err := s.Run(context.Background(), Target{Kind: KindMedia, Actor: "did:plc:author"})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Posts)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Downloaded)
	assert.Equal(t, 0, stats.Failed)

	for _, name := range []string{
		"2024-03-01T10-20-30_withpics_1.jpeg",
		"2024-03-01T10-20-30_withpics_2.jpeg",
	} {
		data, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), "blob-bafy")
	}

	data, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "metadata.json"))
	require.NoError(t, err)

	var doc metadata.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.PostCount)
	assert.Equal(t, "withpics", doc.Posts[1].PostID)
	assert.Equal(t, 2, doc.Posts[1].Count)
	assert.Equal(t, 0, doc.Posts[0].Count)
}

func TestRunFollowsExport(t *testing.T) {
	server := scrapeServer(t)
	defer server.Close()

	cfg := testConfig(t)
	s := newTestScraper(t, cfg, server.URL)

	stats, err := s.Run(context.Background(), Target{Kind: KindFollows, Actor: "did:plc:author"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Posts)

	data, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "follows.json"))
	require.NoError(t, err)

	var doc metadata.FollowsDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Follows, 1)
	assert.Equal(t, "bob.bsky.social", doc.Follows[0].Handle)
}

func TestRunCreatesUserFolder(t *testing.T) {
	server := scrapeServer(t)
	defer server.Close()

	cfg := testConfig(t)
	cfg.Output.CreateUserFolders = true
	s := newTestScraper(t, cfg, server.URL)

	_, err := s.Run(context.Background(), Target{Kind: KindFollows, Actor: "did:plc:author"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Output.BaseDirectory, "did_plc_author", "follows.json"))
	assert.NoError(t, err)
}

func TestOutputFilename(t *testing.T) {
	rec := &bluesky.Record{
		PostID:    "3k44deefxdk2g",
		CreatedAt: "2024-03-01T10:20:30.000Z",
	}
	file := bluesky.MediaFile{Num: 2, Filename: "bafylink", Extension: "jpeg"}

	assert.Equal(t, "2024-03-01T10-20-30_3k44deefxdk2g_2.jpeg", outputFilename(rec, file))

	rec.CreatedAt = "bad"
	assert.Equal(t, "bafylink_2.jpeg", outputFilename(rec, file))
}

func TestTargetKindString(t *testing.T) {
	assert.Equal(t, "posts", KindPosts.String())
	assert.Equal(t, "follows", KindFollows.String())
	assert.Equal(t, "media", KindMedia.String())
}

func TestOpenPagerUnsupportedKind(t *testing.T) {
	cfg := testConfig(t)
	s := newTestScraper(t, cfg, "http://127.0.0.1:0")

	_, err := s.openPager(context.Background(), Target{Kind: TargetKind(99), Actor: "did:plc:x"})
	assert.Error(t, err)
}
