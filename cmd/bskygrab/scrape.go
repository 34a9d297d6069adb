package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bskygrab/pkg/auth"
	"bskygrab/pkg/config"
	"bskygrab/pkg/logger"
	"bskygrab/pkg/scraper"
	"bskygrab/pkg/ui"
)

var (
	// Scrape command flags
	outputDir     string
	concurrent    int
	rateLimit     int
	accountName   string
	feedFilter    string
	likesTarget   bool
	repliesTarget bool
	mediaTarget   bool
	feedTarget    string
	listTarget    string
	postTarget    string
	followsTarget bool
)

// scrapeCmd downloads media and metadata for one actor
var scrapeCmd = &cobra.Command{
	Use:   "scrape <handle-or-did>",
	Short: "Download media and metadata from a Bluesky account",
	Long: `Download images and post metadata from a Bluesky actor.

The actor may be a handle (alice.bsky.social) or a DID. By default the
author's own posts and threads are scraped; flags select other query
shapes such as likes, feed generators, lists, a single post, or the
follows list.

Likes require an authenticated session; store credentials with
'bskygrab auth login' or set BSKYGRAB_IDENTIFIER and
BSKYGRAB_APP_PASSWORD.`,
	Example: `  # Download an author's posts
  bskygrab scrape alice.bsky.social

  # Only posts carrying media
  bskygrab scrape alice.bsky.social --media

  # Posts the account has liked (needs credentials)
  bskygrab scrape alice.bsky.social --likes

  # A feed generator or a list owned by the actor
  bskygrab scrape alice.bsky.social --feed aaaorns
  bskygrab scrape alice.bsky.social --list 3k44listkey

  # One post by its record key
  bskygrab scrape alice.bsky.social --post 3k44deefxdk2g

  # Export the accounts the actor follows
  bskygrab scrape alice.bsky.social --follows`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads")
	scrapeCmd.Flags().IntVar(&concurrent, "concurrent", 3, "number of concurrent downloads")
	scrapeCmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "blob requests per minute")
	scrapeCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored account")
	scrapeCmd.Flags().StringVar(&feedFilter, "filter", "", "author feed filter (posts_and_author_threads, posts_no_replies, posts_with_media, posts_with_replies)")
	scrapeCmd.Flags().BoolVar(&likesTarget, "likes", false, "scrape the posts the actor has liked")
	scrapeCmd.Flags().BoolVar(&repliesTarget, "replies", false, "include replies in the author feed")
	scrapeCmd.Flags().BoolVar(&mediaTarget, "media", false, "restrict the author feed to posts with media")
	scrapeCmd.Flags().StringVar(&feedTarget, "feed", "", "scrape a feed generator by its record key")
	scrapeCmd.Flags().StringVar(&listTarget, "list", "", "scrape a list feed by its record key")
	scrapeCmd.Flags().StringVar(&postTarget, "post", "", "scrape a single post by its record key")
	scrapeCmd.Flags().BoolVar(&followsTarget, "follows", false, "export the accounts the actor follows")
}

// buildTarget maps the mutually exclusive target flags onto one Target
func buildTarget(actor string) (scraper.Target, error) {
	target := scraper.Target{Kind: scraper.KindPosts, Actor: actor, Filter: feedFilter}

	selected := 0
	for _, on := range []bool{likesTarget, repliesTarget, mediaTarget, followsTarget,
		feedTarget != "", listTarget != "", postTarget != ""} {
		if on {
			selected++
		}
	}
	if selected > 1 {
		return target, fmt.Errorf("--likes, --replies, --media, --feed, --list, --post and --follows are mutually exclusive")
	}

	switch {
	case likesTarget:
		target.Kind = scraper.KindLikes
	case repliesTarget:
		target.Kind = scraper.KindReplies
	case mediaTarget:
		target.Kind = scraper.KindMedia
	case followsTarget:
		target.Kind = scraper.KindFollows
	case feedTarget != "":
		target.Kind = scraper.KindFeed
		target.Feed = feedTarget
	case listTarget != "":
		target.Kind = scraper.KindList
		target.List = listTarget
	case postTarget != "":
		target.Kind = scraper.KindPost
		target.PostID = postTarget
	}
	return target, nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	actor := strings.TrimSpace(args[0])

	if !quiet {
		ui.PrintLogo()
		ui.PrintInfo("Target", actor)
	}

	target, err := buildTarget(actor)
	if err != nil {
		return err
	}

	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if concurrent != 3 {
		flags["concurrent"] = concurrent
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	if rateLimit != 60 {
		cfg.RateLimit.RequestsPerMinute = rateLimit
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logging", err.Error())
		os.Exit(1)
	}

	applyStoredCredentials(cfg)

	if target.Kind == scraper.KindLikes && cfg.Bluesky.Identifier == "" {
		ui.PrintError("Likes require an authenticated session", "")
		fmt.Println(auth.AppPasswordInstructions)
		os.Exit(1)
	}

	s, err := scraper.NewFromConfig(cfg)
	if err != nil {
		ui.PrintError("Failed to initialize scraper", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := s.Run(ctx, target)
	if err != nil {
		logger.WithError(err).WithField("actor", actor).Error("scrape failed")
		ui.PrintError("Scrape failed", err.Error())
		os.Exit(1)
	}

	if !quiet {
		ui.PrintSuccess("Scrape complete")
		ui.PrintInfo("Posts", fmt.Sprintf("%d", stats.Posts))
		ui.PrintInfo("Files", fmt.Sprintf("%d downloaded, %d skipped, %d failed",
			stats.Downloaded, stats.Skipped, stats.Failed))
		ui.PrintInfo("Elapsed", stats.Duration.Round(10*time.Millisecond).String())
	}
	return nil
}

// applyStoredCredentials fills in credentials from the credential store
// when the config carries none
func applyStoredCredentials(cfg *config.Config) {
	if cfg.Bluesky.Identifier != "" && cfg.Bluesky.AppPassword != "" {
		return
	}

	manager := auth.NewManager()

	name := accountName
	if name == "" {
		ids, err := manager.List()
		if err != nil || len(ids) == 0 {
			// No stored credentials: continue in public mode.
			return
		}
		name = ids[0]
	}

	account, err := manager.Get(name)
	if err != nil {
		if accountName != "" {
			ui.PrintError("Account not found", accountName)
			ui.PrintInfo("Stored accounts", "use 'bskygrab auth list'")
			os.Exit(1)
		}
		return
	}

	cfg.Bluesky.Identifier = account.Identifier
	cfg.Bluesky.AppPassword = account.AppPassword
	if account.UserAgent != "" {
		cfg.Bluesky.UserAgent = account.UserAgent
	}
	if !quiet {
		ui.PrintInfo("Using account", account.Identifier)
	}
}
