// Package paginator implements the client-side contract for backward
// infinite scroll over room history: strictly-older cursor requests, a
// sticky end-of-history signal, and pure-prepend page merging so rendered
// content never re-sorts under the viewport.
package paginator

import (
	"context"
	"sync"
	"time"

	"chat-relay/internal/models"
)

// Fetch retrieves at most limit messages in roomID strictly older than
// before, oldest to newest. The history HTTP endpoint and the store Range
// operation both satisfy this shape.
type Fetch func(ctx context.Context, roomID string, limit int, before int64) ([]*models.Message, error)

type Paginator struct {
	fetch Fetch
	limit int

	mu        sync.Mutex
	roomID    string
	cursor    int64 // timestamp of the oldest loaded message; 0 means "now"
	exhausted bool
	loading   bool
	messages  []*models.Message
}

func New(roomID string, limit int, fetch Fetch) *Paginator {
	return &Paginator{
		fetch:  fetch,
		limit:  limit,
		roomID: roomID,
	}
}

// LoadOlder fetches the next older page and prepends it to the loaded
// history. Concurrent calls for the same cursor are coalesced: while one
// request is in flight, further calls return immediately with no page.
// Once an empty page is seen, all further calls are suppressed until
// Reset. The returned slice is the newly loaded page, oldest to newest.
func (p *Paginator) LoadOlder(ctx context.Context) ([]*models.Message, error) {
	p.mu.Lock()
	if p.exhausted || p.loading {
		p.mu.Unlock()
		return nil, nil
	}
	p.loading = true
	roomID := p.roomID
	cursor := p.cursor
	if cursor == 0 {
		cursor = time.Now().UnixMilli()
	}
	p.mu.Unlock()

	page, err := p.fetch(ctx, roomID, p.limit, cursor)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false

	if err != nil {
		return nil, err
	}
	if p.roomID != roomID {
		// Room changed while the request was in flight; drop the page.
		return nil, nil
	}
	if len(page) == 0 {
		p.exhausted = true
		return nil, nil
	}

	// The page is oldest-to-newest, so its first entry is the new cursor.
	p.cursor = page[0].Timestamp

	// Pure prepend: rendered content keeps its order, the viewport anchors
	// on the pre/post content-height delta.
	merged := make([]*models.Message, 0, len(page)+len(p.messages))
	merged = append(merged, page...)
	merged = append(merged, p.messages...)
	p.messages = merged

	return page, nil
}

// Messages returns the currently loaded history, oldest to newest.
func (p *Paginator) Messages() []*models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Exhausted reports whether the end of history has been reached.
func (p *Paginator) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

// Reset switches the paginator to a new room, clearing the cursor, the
// loaded history and the end-of-history latch.
func (p *Paginator) Reset(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.roomID = roomID
	p.cursor = 0
	p.exhausted = false
	p.messages = nil
}
