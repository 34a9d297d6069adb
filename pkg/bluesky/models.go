package bluesky

import "encoding/json"

// FeedItem wraps a single item of a feed response. Thread lookups return
// the same shape under the "thread" key.
type FeedItem struct {
	Post Post `json:"post"`
}

// Post is the view of a post as returned by feed endpoints
type Post struct {
	URI         string     `json:"uri"`
	CID         string     `json:"cid"`
	Author      Actor      `json:"author"`
	Record      PostRecord `json:"record"`
	ReplyCount  int        `json:"replyCount"`
	RepostCount int        `json:"repostCount"`
	LikeCount   int        `json:"likeCount"`
	IndexedAt   string     `json:"indexedAt"`
}

// Actor is a profile view (post author, followed account, getProfile result)
type Actor struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// PostRecord is the app.bsky.feed.post record embedded in a post view.
// Its fields take precedence over the view when the two are flattened
// into a normalized record.
type PostRecord struct {
	Type      string          `json:"$type,omitempty"`
	Text      string          `json:"text"`
	CreatedAt string          `json:"createdAt"`
	Langs     []string        `json:"langs,omitempty"`
	Facets    []Facet         `json:"facets,omitempty"`
	Embed     *Embed          `json:"embed,omitempty"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}

// Facet is an inline annotation on a span of post text
type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetIndex is the byte span the facet annotates
type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature carries exactly one of Tag, DID or URI depending on
// whether the facet is a hashtag, a mention or a link
type FacetFeature struct {
	Type string `json:"$type,omitempty"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// Embed is the record-level embed. Image embeds carry Images directly;
// record-with-media embeds nest them one level down under Media. Other
// embed kinds (external cards, video, bare quotes) carry no images.
type Embed struct {
	Type   string       `json:"$type,omitempty"`
	Media  *Embed       `json:"media,omitempty"`
	Images []ImageEmbed `json:"images,omitempty"`
}

// ImageEmbed is one attached image
type ImageEmbed struct {
	Alt         string       `json:"alt"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
	Image       Blob         `json:"image"`
}

// AspectRatio is the declared image dimensions; older posts omit it
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Blob references a binary asset by content address
type Blob struct {
	Type     string  `json:"$type,omitempty"`
	Ref      BlobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size,omitempty"`
}

// BlobRef holds the content-addressed link used as the cid query parameter
type BlobRef struct {
	Link string `json:"$link"`
}

// sessionResponse is the body of createSession and refreshSession. On
// failure the server populates Error and Message instead of the tokens.
type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}
