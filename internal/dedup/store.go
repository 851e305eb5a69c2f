// Package dedup remembers which listing ids each feed has already produced
// and classifies fetched pages into new and previously seen listings.
//
// The first successful classification of a feed after a reset establishes a
// baseline: every id on that page is recorded and none is reported as new.
// Afterwards a listing is new exactly when its id has not been recorded.
// Ids of new listings are recorded only by Commit, so a caller can finish
// downstream work before the ids become "seen".
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"jobwatch/internal/domain"
	"jobwatch/internal/storage"
)

const keyPrefix = "feed_cursor:"

func cursorKey(feed domain.FeedSelector) string {
	return keyPrefix + string(feed)
}

type cursor struct {
	seen        map[string]struct{}
	order       []string
	initialized bool
}

func newCursor() *cursor {
	return &cursor{seen: make(map[string]struct{})}
}

func (c *cursor) add(id string) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	return true
}

func (c *cursor) snapshot(feed domain.FeedSelector) domain.FeedCursor {
	return domain.FeedCursor{
		FeedName:    feed,
		SeenIDs:     append([]string(nil), c.order...),
		Initialized: c.initialized,
	}
}

// Store is safe for concurrent use, though the engine only ever has one
// writer.
type Store struct {
	kv     storage.KV
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[domain.FeedSelector]*cursor
}

func NewStore(kv storage.KV, logger *slog.Logger) *Store {
	return &Store{
		kv:      kv,
		logger:  logger.With("component", "dedup"),
		cursors: make(map[domain.FeedSelector]*cursor),
	}
}

// Reset forgets every feed cursor, in memory and in the KV.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(domain.AllFeeds()))
	for _, f := range domain.AllFeeds() {
		keys = append(keys, cursorKey(f))
	}
	if err := s.kv.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("remove cursors: %w", err)
	}
	s.cursors = make(map[domain.FeedSelector]*cursor)
	return nil
}

// Classify splits listings into new and seen. Page order is preserved and a
// repeated id within one page is reported once.
func (s *Store) Classify(ctx context.Context, feed domain.FeedSelector, listings []domain.Listing) (domain.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, feed)
	if err != nil {
		return domain.Classification{}, err
	}

	if !c.initialized {
		for _, l := range listings {
			c.add(l.ID)
		}
		c.initialized = true
		if err := s.persist(ctx, feed, c); err != nil {
			return domain.Classification{}, err
		}
		s.logger.Info("baseline established", "feed", feed, "ids", len(listings))
		return domain.Classification{NewListings: []domain.Listing{}, IsFirstRun: true}, nil
	}

	fresh := make([]domain.Listing, 0)
	pending := make(map[string]struct{})
	overlap := false
	for _, l := range listings {
		if _, ok := c.seen[l.ID]; ok {
			overlap = true
			continue
		}
		if _, dup := pending[l.ID]; dup {
			continue
		}
		pending[l.ID] = struct{}{}
		fresh = append(fresh, l)
	}

	if !overlap && len(listings) > 0 && len(c.seen) > 0 {
		s.logger.Warn("page shares no id with cursor, treating every listing as new",
			"feed", feed,
			"listings", len(listings),
		)
	}

	return domain.Classification{NewListings: fresh}, nil
}

// Commit records ids as seen for feed.
func (s *Store) Commit(ctx context.Context, feed domain.FeedSelector, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, feed)
	if err != nil {
		return err
	}
	changed := false
	for _, id := range ids {
		if c.add(id) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist(ctx, feed, c)
}

// Cursor returns a copy of the current state for feed.
func (s *Store) Cursor(ctx context.Context, feed domain.FeedSelector) (domain.FeedCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, feed)
	if err != nil {
		return domain.FeedCursor{}, err
	}
	return c.snapshot(feed), nil
}

// load must be called with s.mu held. A cursor missing from memory is read
// back from the KV, which is how state survives a host restart.
func (s *Store) load(ctx context.Context, feed domain.FeedSelector) (*cursor, error) {
	if c, ok := s.cursors[feed]; ok {
		return c, nil
	}

	c := newCursor()
	var stored domain.FeedCursor
	found, err := storage.GetJSON(ctx, s.kv, cursorKey(feed), &stored)
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", feed, err)
	}
	if found {
		for _, id := range stored.SeenIDs {
			c.add(id)
		}
		c.initialized = stored.Initialized
	}
	s.cursors[feed] = c
	return c, nil
}

func (s *Store) persist(ctx context.Context, feed domain.FeedSelector, c *cursor) error {
	if err := storage.SetJSON(ctx, s.kv, cursorKey(feed), c.snapshot(feed)); err != nil {
		return fmt.Errorf("persist cursor %s: %w", feed, err)
	}
	return nil
}
