// Package memory provides an in-process frontier store for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// Store keeps frontier entries in a map. Nothing survives the process.
type Store struct {
	mu      sync.RWMutex
	entries map[string]crawler.FrontierEntry
	saves   int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]crawler.FrontierEntry)}
}

// LoadEntries returns a snapshot of every stored entry.
func (s *Store) LoadEntries(_ context.Context) ([]crawler.FrontierEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.FrontierEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

// SaveEntry inserts or replaces the entry keyed by its URL.
func (s *Store) SaveEntry(_ context.Context, entry crawler.FrontierEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.URL()] = entry
	s.saves++
	return nil
}

// ClearEntries removes every entry.
func (s *Store) ClearEntries(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]crawler.FrontierEntry)
	return nil
}

// Saves reports how many writes the store has accepted.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
