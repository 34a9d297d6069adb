package scraper

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bskygrab/internal/downloader"
	"bskygrab/pkg/bluesky"
	"bskygrab/pkg/cache"
	"bskygrab/pkg/config"
	"bskygrab/pkg/logger"
	"bskygrab/pkg/metadata"
	"bskygrab/pkg/ratelimit"
	"bskygrab/pkg/retry"
	"bskygrab/pkg/storage"
)

// TargetKind selects which query shape a scrape walks
type TargetKind int

const (
	// KindPosts walks the author feed with a configurable filter
	KindPosts TargetKind = iota
	// KindMedia walks the author feed restricted to posts with media
	KindMedia
	// KindReplies walks the author feed including replies
	KindReplies
	// KindLikes walks the posts an actor has liked
	KindLikes
	// KindFeed walks a feed generator published by the actor
	KindFeed
	// KindList walks the feed of a list owned by the actor
	KindList
	// KindPost fetches a single post by rkey
	KindPost
	// KindFollows exports the accounts an actor follows
	KindFollows
)

func (k TargetKind) String() string {
	switch k {
	case KindPosts:
		return "posts"
	case KindMedia:
		return "media"
	case KindReplies:
		return "replies"
	case KindLikes:
		return "likes"
	case KindFeed:
		return "feed"
	case KindList:
		return "list"
	case KindPost:
		return "post"
	case KindFollows:
		return "follows"
	default:
		return "unknown"
	}
}

// Target names what to scrape. Actor is required for every kind; the
// remaining fields apply to specific kinds only.
type Target struct {
	Kind  TargetKind
	Actor string

	// Filter overrides the author feed filter for KindPosts
	Filter string
	// Feed is the feed generator rkey for KindFeed
	Feed string
	// List is the list rkey for KindList
	List string
	// PostID is the post rkey for KindPost
	PostID string
}

// Stats summarizes a completed scrape
type Stats struct {
	Posts      int
	Files      int
	Downloaded int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// Scraper drives a full extraction: page through posts, normalize them,
// download their images and write the metadata document
type Scraper struct {
	client *bluesky.Client
	config *config.Config
	logger logger.Logger
}

// New creates a scraper around an existing client
func New(cfg *config.Config, client *bluesky.Client, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scraper{
		client: client,
		config: cfg,
		logger: log,
	}
}

// NewFromConfig builds the client from configuration: credentials,
// token cache, timeout and blob retry policy
func NewFromConfig(cfg *config.Config) (*Scraper, error) {
	log := logger.GetLogger()

	store, err := openCacheStore(cfg)
	if err != nil {
		return nil, err
	}

	client := bluesky.NewClient(cfg.Bluesky.Identifier, cfg.Bluesky.AppPassword, store, log)
	if cfg.Bluesky.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.Bluesky.UserAgent)
	}
	if cfg.Download.DownloadTimeout > 0 {
		client.SetTimeout(cfg.Download.DownloadTimeout)
	}
	if cfg.Retry.Enabled {
		client.SetRetrier(retry.NewRetrier(&retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff: &retry.ExponentialBackoff{
				BaseDelay:    cfg.Retry.BaseDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
			RetryIf: retry.DefaultRetryIf,
			Context: context.Background(),
			Logger:  log,
		}))
	} else {
		client.SetRetrier(retry.NewRetrier(retry.DefaultConfig()).WithMaxAttempts(1))
	}

	return New(cfg, client, log), nil
}

// openCacheStore selects the token/identity cache backend
func openCacheStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.File == "memory" {
		return cache.NewMemoryStore(), nil
	}
	path := cfg.Cache.File
	if path == "" {
		var err error
		path, err = cache.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to locate cache file: %w", err)
		}
	}
	store, err := cache.NewFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	return store, nil
}

// Client returns the underlying API client
func (s *Scraper) Client() *bluesky.Client {
	return s.client
}

// Run executes one scrape and returns its statistics
func (s *Scraper) Run(ctx context.Context, target Target) (*Stats, error) {
	start := time.Now()

	s.logger.InfoWithFields("starting scrape", map[string]interface{}{
		"kind":  target.Kind.String(),
		"actor": target.Actor,
	})

	outputDir := s.outputDir(target.Actor)
	store, err := storage.NewManager(outputDir)
	if err != nil {
		return nil, err
	}

	if target.Kind == KindFollows {
		stats, err := s.exportFollows(ctx, target, store)
		if err != nil {
			return nil, err
		}
		stats.Duration = time.Since(start)
		return stats, nil
	}

	pager, err := s.openPager(ctx, target)
	if err != nil {
		return nil, err
	}

	stats, err := s.downloadPosts(ctx, target, pager, store)
	if err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)

	s.logger.InfoWithFields("scrape finished", map[string]interface{}{
		"actor":      target.Actor,
		"posts":      stats.Posts,
		"files":      stats.Files,
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	})
	return stats, nil
}

// openPager starts the cursor walk matching the target kind
func (s *Scraper) openPager(ctx context.Context, target Target) (*bluesky.Pager, error) {
	switch target.Kind {
	case KindPosts:
		return s.client.AuthorFeed(ctx, target.Actor, target.Filter)
	case KindMedia:
		return s.client.AuthorFeed(ctx, target.Actor, bluesky.FilterPostsWithMedia)
	case KindReplies:
		return s.client.AuthorFeed(ctx, target.Actor, bluesky.FilterPostsWithReplies)
	case KindLikes:
		return s.client.ActorLikes(ctx, target.Actor)
	case KindFeed:
		return s.client.Feed(ctx, target.Actor, target.Feed)
	case KindList:
		return s.client.ListFeed(ctx, target.Actor, target.List)
	case KindPost:
		return s.client.PostThread(ctx, target.Actor, target.PostID)
	default:
		return nil, fmt.Errorf("unsupported target kind %q", target.Kind)
	}
}

// downloadPosts consumes the pager, collecting metadata and feeding the
// download pool
func (s *Scraper) downloadPosts(ctx context.Context, target Target, pager *bluesky.Pager, store *storage.Manager) (*Stats, error) {
	stats := &Stats{}
	collector := metadata.NewCollector(target.Actor)

	var limiter ratelimit.Limiter
	if s.config.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewPerMinute(s.config.RateLimit.RequestsPerMinute)
	}

	pool := downloader.NewPool(s.config.Download.ConcurrentDownloads, s.client, store, limiter, s.logger)
	pool.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range pool.Results() {
			switch {
			case result.Skipped:
				stats.Skipped++
			case result.Success:
				stats.Downloaded++
			default:
				stats.Failed++
			}
		}
	}()

	var walkErr error
	for pager.Next(ctx) {
		item, err := bluesky.DecodeFeedItem(pager.Item())
		if err != nil {
			s.logger.WithError(err).Warn("skipping undecodable feed item")
			continue
		}

		record := bluesky.Normalize(item)
		collector.Add(record)
		stats.Posts++

		for _, file := range s.client.MediaFiles(record) {
			stats.Files++
			if err := pool.Submit(downloader.Job{
				URL:      file.URL,
				Filename: outputFilename(record, file),
				PostID:   record.PostID,
				Num:      file.Num,
			}); err != nil {
				walkErr = err
				break
			}
		}
		if walkErr != nil {
			break
		}

		if stats.Posts%100 == 0 {
			logger.LogScrapeProgress(s.logger, target.Actor, stats.Posts, stats.Files)
		}
	}

	pool.Stop()
	<-done

	if walkErr == nil {
		walkErr = pager.Err()
	}
	if walkErr != nil {
		return nil, walkErr
	}

	data, err := collector.Marshal()
	if err != nil {
		return nil, err
	}
	if err := store.WriteJSON("metadata.json", data); err != nil {
		return nil, err
	}
	return stats, nil
}

// exportFollows walks the follow graph and writes it as one document
func (s *Scraper) exportFollows(ctx context.Context, target Target, store *storage.Manager) (*Stats, error) {
	pager, err := s.client.Follows(ctx, target.Actor)
	if err != nil {
		return nil, err
	}

	var follows []*bluesky.Actor
	for pager.Next(ctx) {
		actor, err := bluesky.DecodeActor(pager.Item())
		if err != nil {
			s.logger.WithError(err).Warn("skipping undecodable profile")
			continue
		}
		follows = append(follows, actor)
	}
	if err := pager.Err(); err != nil {
		return nil, err
	}

	data, err := metadata.MarshalFollows(target.Actor, follows)
	if err != nil {
		return nil, err
	}
	if err := store.WriteJSON("follows.json", data); err != nil {
		return nil, err
	}
	return &Stats{Posts: len(follows)}, nil
}

// outputDir determines the output directory for an actor
func (s *Scraper) outputDir(actor string) string {
	if s.config.Output.CreateUserFolders {
		return filepath.Join(s.config.Output.BaseDirectory, sanitizeActor(actor))
	}
	return s.config.Output.BaseDirectory
}

// sanitizeActor makes an actor string safe as a directory name
func sanitizeActor(actor string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, actor)
}

// outputFilename names a media file as timestamp_postid_num.extension,
// falling back to the blob reference when the timestamp is unusable
func outputFilename(record *bluesky.Record, file bluesky.MediaFile) string {
	if len(record.CreatedAt) >= 19 {
		ts := strings.ReplaceAll(record.CreatedAt[:19], ":", "-")
		return fmt.Sprintf("%s_%s_%d.%s", ts, record.PostID, file.Num, file.Extension)
	}
	return fmt.Sprintf("%s_%d.%s", file.Filename, file.Num, file.Extension)
}
