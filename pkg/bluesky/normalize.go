package bluesky

import (
	"encoding/json"
	"strings"
	"time"
)

// createdAtLayout matches the first 19 characters of a post timestamp
const createdAtLayout = "2006-01-02T15:04:05"

// Record is a feed item flattened for path templating and metadata
// output: the post view merged with its embedded record, plus derived
// fields. Hashtags, Mentions and URIs are always non-nil.
type Record struct {
	PostID      string    `json:"post_id"`
	URI         string    `json:"uri"`
	CID         string    `json:"cid"`
	Author      Actor     `json:"author"`
	Text        string    `json:"text"`
	CreatedAt   string    `json:"createdAt"`
	Date        time.Time `json:"date"`
	Langs       []string  `json:"langs,omitempty"`
	ReplyCount  int       `json:"replyCount"`
	RepostCount int       `json:"repostCount"`
	LikeCount   int       `json:"likeCount"`
	Hashtags    []string  `json:"hashtags"`
	Mentions    []string  `json:"mentions"`
	URIs        []string  `json:"uris"`
	Count       int       `json:"count"`

	images []ImageEmbed
}

// MediaFile is one downloadable image: a copy of the post's normalized
// fields plus the per-image fields, numbered from 1 in embed order.
type MediaFile struct {
	Record
	Num         int    `json:"num"`
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Filename    string `json:"filename"`
	Extension   string `json:"extension"`
	URL         string `json:"url"`
}

// DecodeFeedItem parses a raw paginated item as a feed item
func DecodeFeedItem(raw json.RawMessage) (*FeedItem, error) {
	var item FeedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DecodeActor parses a raw paginated item as a profile view
func DecodeActor(raw json.RawMessage) (*Actor, error) {
	var actor Actor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, err
	}
	return &actor, nil
}

// Normalize flattens a feed item into a Record. Record fields win over
// the post view, so the embed consulted for images is the record-level
// one carrying raw blob references.
func Normalize(item *FeedItem) *Record {
	post := item.Post

	rec := &Record{
		URI:         post.URI,
		CID:         post.CID,
		Author:      post.Author,
		Text:        post.Record.Text,
		CreatedAt:   post.Record.CreatedAt,
		Langs:       post.Record.Langs,
		ReplyCount:  post.ReplyCount,
		RepostCount: post.RepostCount,
		LikeCount:   post.LikeCount,
		Hashtags:    []string{},
		Mentions:    []string{},
		URIs:        []string{},
	}

	// The post id is the final path segment of the at:// URI.
	rec.PostID = post.URI[strings.LastIndexByte(post.URI, '/')+1:]

	// Seconds precision; a malformed or short timestamp is not fatal
	// and leaves the zero value.
	if len(rec.CreatedAt) >= len(createdAtLayout) {
		if date, err := time.Parse(createdAtLayout, rec.CreatedAt[:len(createdAtLayout)]); err == nil {
			rec.Date = date
		}
	}

	// Each facet contributes its first feature to exactly one list.
	// Features matching none of the three kinds are dropped.
	for _, facet := range post.Record.Facets {
		if len(facet.Features) == 0 {
			continue
		}
		feature := facet.Features[0]
		switch {
		case feature.Tag != "":
			rec.Hashtags = append(rec.Hashtags, feature.Tag)
		case feature.DID != "":
			rec.Mentions = append(rec.Mentions, feature.DID)
		case feature.URI != "":
			rec.URIs = append(rec.URIs, feature.URI)
		}
	}

	// Direct image embeds carry images at the top level; record-with-
	// media embeds one level down. Everything else has none.
	if embed := post.Record.Embed; embed != nil {
		media := embed
		if media.Media != nil {
			media = media.Media
		}
		rec.images = media.Images
	}
	rec.Count = len(rec.images)

	return rec
}

// MediaFiles enumerates a record's images with their blob-fetch URLs.
// The URL is built against the client's blob host, so metadata and the
// download path always agree on where a blob lives.
func (c *Client) MediaFiles(r *Record) []MediaFile {
	if len(r.images) == 0 {
		return nil
	}

	files := make([]MediaFile, 0, len(r.images))
	for i, img := range r.images {
		file := MediaFile{
			Record:      *r,
			Num:         i + 1,
			Description: img.Alt,
			Filename:    img.Image.Ref.Link,
			Extension:   mimeSubtype(img.Image.MimeType),
			URL:         c.BlobURL(r.Author.DID, img.Image.Ref.Link),
		}
		// Older embeds omit the aspect ratio; zero dimensions are
		// expected, not an error.
		if img.AspectRatio != nil {
			file.Width = img.AspectRatio.Width
			file.Height = img.AspectRatio.Height
		}
		files = append(files, file)
	}
	return files
}

// mimeSubtype returns the text after the slash of a mime type
func mimeSubtype(mimeType string) string {
	return mimeType[strings.LastIndexByte(mimeType, '/')+1:]
}
