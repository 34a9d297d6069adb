package bluesky

import (
	"context"
	"encoding/json"
	"net/url"
)

// Pager walks a cursor-paginated endpoint one page at a time, in the
// manner of bufio.Scanner:
//
//	for pager.Next(ctx) {
//	    item := pager.Item()
//	    ...
//	}
//	if err := pager.Err(); err != nil { ... }
//
// A page is fetched only when the previous one is consumed. Absence of a
// cursor in a response is the sole termination signal. Pagers are not
// restartable; construct a new one to walk again.
type Pager struct {
	client   *Client
	endpoint string
	params   url.Values
	itemsKey string

	buf       []json.RawMessage
	pos       int
	exhausted bool
	err       error
}

// paginate starts a cursor walk over endpoint. itemsKey names the
// response array holding the items ("feed" for most endpoints).
func (c *Client) paginate(endpoint string, params url.Values, itemsKey string) *Pager {
	return &Pager{
		client:   c,
		endpoint: endpoint,
		params:   params,
		itemsKey: itemsKey,
		pos:      -1,
	}
}

// newStaticPager wraps an already-fetched item list so single-call
// lookups can be consumed like any paginated result.
func newStaticPager(items []json.RawMessage) *Pager {
	return &Pager{
		buf:       items,
		pos:       -1,
		exhausted: true,
	}
}

// Next advances to the next item, fetching the next page when the
// buffer is spent. It returns false at the end of the sequence or on
// error; Err distinguishes the two.
func (p *Pager) Next(ctx context.Context) bool {
	if p.err != nil {
		return false
	}
	p.pos++

	for p.pos >= len(p.buf) {
		if p.exhausted {
			return false
		}
		if !p.fetch(ctx) {
			return false
		}
	}
	return true
}

// Item returns the raw item Next advanced to
func (p *Pager) Item() json.RawMessage {
	return p.buf[p.pos]
}

// Err returns the error that terminated the walk, if any
func (p *Pager) Err() error {
	return p.err
}

func (p *Pager) fetch(ctx context.Context) bool {
	data, err := p.client.call(ctx, p.endpoint, p.params)
	if err != nil {
		p.err = err
		return false
	}

	p.buf = p.buf[:0]
	p.pos = 0
	if raw, ok := data[p.itemsKey]; ok {
		if err := json.Unmarshal(raw, &p.buf); err != nil {
			p.err = err
			return false
		}
	}

	var cursor string
	if raw, ok := data["cursor"]; ok {
		// A malformed cursor value reads as empty, which terminates.
		_ = json.Unmarshal(raw, &cursor)
	}
	if cursor == "" {
		p.exhausted = true
	} else {
		p.params.Set("cursor", cursor)
	}
	return true
}
