package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// IndexStore is an in-memory crawler.IndexStore.
type IndexStore struct {
	mu      sync.RWMutex
	records map[string]crawler.EntityRecord
	upserts int
}

var _ crawler.IndexStore = (*IndexStore)(nil)

// NewIndexStore constructs an empty IndexStore.
func NewIndexStore() *IndexStore {
	return &IndexStore{records: make(map[string]crawler.EntityRecord)}
}

// UpsertEntity inserts or replaces the record keyed by URL.
func (s *IndexStore) UpsertEntity(_ context.Context, record crawler.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.URL] = record
	s.upserts++
	return nil
}

// GetEntity returns the record for url or crawler.ErrRecordNotFound.
func (s *IndexStore) GetEntity(_ context.Context, url string) (crawler.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[url]
	if !ok {
		return crawler.EntityRecord{}, crawler.ErrRecordNotFound
	}
	return record, nil
}

// ListEntities pages through records ordered by name then URL.
func (s *IndexStore) ListEntities(_ context.Context, limit, offset int) ([]crawler.EntityRecord, error) {
	all := s.sorted(func(crawler.EntityRecord) bool { return true })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// CountEntities returns the number of records.
func (s *IndexStore) CountEntities(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ListByThumbnailStatus returns records with the given thumbnail status.
func (s *IndexStore) ListByThumbnailStatus(_ context.Context, status crawler.ThumbnailStatus) ([]crawler.EntityRecord, error) {
	return s.sorted(func(r crawler.EntityRecord) bool { return r.ThumbnailStatus == status }), nil
}

// Ping always succeeds.
func (s *IndexStore) Ping(context.Context) error {
	return nil
}

// Upserts returns how many writes the index has accepted.
func (s *IndexStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

func (s *IndexStore) sorted(keep func(crawler.EntityRecord) bool) []crawler.EntityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.EntityRecord, 0, len(s.records))
	for _, record := range s.records {
		if keep(record) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].URL < out[j].URL
	})
	return out
}
