package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"bskygrab/pkg/bluesky"
)

// Collector accumulates normalized post records during a scrape and
// writes them out as a single metadata document
type Collector struct {
	mu      sync.Mutex
	actor   string
	started time.Time
	records []*bluesky.Record
}

// Document is the on-disk shape of a scrape's metadata
type Document struct {
	Actor     string            `json:"actor"`
	ScrapedAt time.Time         `json:"scraped_at"`
	PostCount int               `json:"post_count"`
	Posts     []*bluesky.Record `json:"posts"`
}

// FollowsDocument is the on-disk shape of a follows export
type FollowsDocument struct {
	Actor     string          `json:"actor"`
	ScrapedAt time.Time       `json:"scraped_at"`
	Count     int             `json:"count"`
	Follows   []*bluesky.Actor `json:"follows"`
}

// NewCollector creates a collector for one actor's scrape
func NewCollector(actor string) *Collector {
	return &Collector{
		actor:   actor,
		started: time.Now(),
	}
}

// Add records a normalized post
func (c *Collector) Add(record *bluesky.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

// Count returns the number of collected records
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Marshal renders the collected records as an indented JSON document
func (c *Collector) Marshal() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := Document{
		Actor:     c.actor,
		ScrapedAt: c.started,
		PostCount: len(c.records),
		Posts:     c.records,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// MarshalFollows renders a follows export as an indented JSON document
func MarshalFollows(actor string, follows []*bluesky.Actor) ([]byte, error) {
	doc := FollowsDocument{
		Actor:     actor,
		ScrapedAt: time.Now(),
		Count:     len(follows),
		Follows:   follows,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal follows: %w", err)
	}
	return data, nil
}

// Load reads a metadata document back from disk
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &doc, nil
}
