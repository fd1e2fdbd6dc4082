package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/darkroom/internal/metrics"
)

const (
	noAlbumKey = "__NOALBUM__"

	DefaultCreateBatchSize = 10
	DefaultAddBatchSize    = 20
	DefaultBatchWait       = 150 * time.Millisecond
)

var ErrBatchResultMissing = errors.New("bulk response has no result for item")

// CreateRequest is one upload token waiting to become a media item.
type CreateRequest struct {
	UploadToken string
	Filename    string
}

// CreateResult is the per-item outcome of a bulk create.
type CreateResult struct {
	ID  string
	Err error
}

// BulkCreateFunc creates reqs in one call. Results are matched to requests by position.
// An empty albumID creates the items outside any album.
type BulkCreateFunc func(ctx context.Context, albumID string, reqs []CreateRequest) ([]CreateResult, error)

// BulkAddFunc adds ids to an album in one call.
type BulkAddFunc func(ctx context.Context, albumID string, ids []string) error

type createItem struct {
	req  CreateRequest
	done chan CreateResult
}

// CreateBatcher coalesces media-item creation per album.
// A queue is flushed when it reaches maxSize or when wait has passed since its first item.
type CreateBatcher struct {
	mu      sync.Mutex
	queues  map[string][]*createItem
	timers  map[string]*time.Timer
	maxSize int
	wait    time.Duration
	bulk    BulkCreateFunc
}

// NewCreateBatcher creates a [CreateBatcher]. Non-positive sizes and waits take the defaults.
func NewCreateBatcher(bulk BulkCreateFunc, maxSize int, wait time.Duration) *CreateBatcher {
	if maxSize <= 0 {
		maxSize = DefaultCreateBatchSize
	}
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	return &CreateBatcher{
		queues:  make(map[string][]*createItem),
		timers:  make(map[string]*time.Timer),
		maxSize: maxSize,
		wait:    wait,
		bulk:    bulk,
	}
}

// Enqueue queues one upload token and blocks until its bulk call settles.
func (b *CreateBatcher) Enqueue(ctx context.Context, uploadToken, filename, albumID string) (string, error) {
	key := albumID
	if key == "" {
		key = noAlbumKey
	}
	item := &createItem{
		req:  CreateRequest{UploadToken: uploadToken, Filename: filename},
		done: make(chan CreateResult, 1),
	}

	b.mu.Lock()
	b.queues[key] = append(b.queues[key], item)
	full := len(b.queues[key]) >= b.maxSize
	if !full && b.timers[key] == nil {
		b.timers[key] = time.AfterFunc(b.wait, func() { b.flush(key) })
	}
	b.mu.Unlock()

	if full {
		go b.flush(key)
	}

	select {
	case res := <-item.done:
		return res.ID, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *CreateBatcher) flush(key string) {
	b.mu.Lock()
	items := b.queues[key]
	delete(b.queues, key)
	if t, ok := b.timers[key]; ok {
		t.Stop()
		delete(b.timers, key)
	}
	b.mu.Unlock()

	if len(items) == 0 {
		return
	}

	albumID := key
	if key == noAlbumKey {
		albumID = ""
	}
	reqs := make([]CreateRequest, len(items))
	for i, it := range items {
		reqs[i] = it.req
	}
	metrics.BatchFlushSize.WithLabelValues("create").Observe(float64(len(reqs)))

	results, err := b.bulk(context.Background(), albumID, reqs)
	for i, it := range items {
		switch {
		case err != nil:
			it.done <- CreateResult{Err: err}
		case i >= len(results):
			it.done <- CreateResult{Err: fmt.Errorf("%w: %d of %d", ErrBatchResultMissing, i, len(items))}
		default:
			it.done <- results[i]
		}
	}
}

type addQueue struct {
	ids     []string
	seen    map[string]struct{}
	waiters []chan error
	timer   *time.Timer
}

// AddBatcher merges add-to-album requests per album into one bulk call.
// Repeated ids are sent once, and every waiter receives the bulk call's outcome.
type AddBatcher struct {
	mu      sync.Mutex
	queues  map[string]*addQueue
	maxSize int
	wait    time.Duration
	bulk    BulkAddFunc
}

// NewAddBatcher creates an [AddBatcher]. Non-positive sizes and waits take the defaults.
func NewAddBatcher(bulk BulkAddFunc, maxSize int, wait time.Duration) *AddBatcher {
	if maxSize <= 0 {
		maxSize = DefaultAddBatchSize
	}
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	return &AddBatcher{
		queues:  make(map[string]*addQueue),
		maxSize: maxSize,
		wait:    wait,
		bulk:    bulk,
	}
}

// Enqueue adds ids to the album's pending set and blocks until the set is flushed.
func (b *AddBatcher) Enqueue(ctx context.Context, albumID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	done := make(chan error, 1)

	b.mu.Lock()
	q, ok := b.queues[albumID]
	if !ok {
		q = &addQueue{seen: make(map[string]struct{})}
		b.queues[albumID] = q
	}
	for _, id := range ids {
		if _, dup := q.seen[id]; dup {
			continue
		}
		q.seen[id] = struct{}{}
		q.ids = append(q.ids, id)
	}
	q.waiters = append(q.waiters, done)
	full := len(q.ids) >= b.maxSize
	if !full && q.timer == nil {
		q.timer = time.AfterFunc(b.wait, func() { b.flush(albumID) })
	}
	b.mu.Unlock()

	if full {
		go b.flush(albumID)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *AddBatcher) flush(albumID string) {
	b.mu.Lock()
	q, ok := b.queues[albumID]
	delete(b.queues, albumID)
	if ok && q.timer != nil {
		q.timer.Stop()
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	metrics.BatchFlushSize.WithLabelValues("add").Observe(float64(len(q.ids)))
	err := b.bulk(context.Background(), albumID, q.ids)
	for _, w := range q.waiters {
		w <- err
	}
}
