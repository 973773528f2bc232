// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mediascope/mediascope/internal/archive"
)

// ItemStore tracks pipeline items for status polling.
type ItemStore struct {
	mu        sync.RWMutex
	items     map[string]archive.Item
	cancelled map[string]bool
}

// NewItemStore constructs an ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:     make(map[string]archive.Item),
		cancelled: make(map[string]bool),
	}
}

// CreateItem stores a new item in uploaded status.
func (s *ItemStore) CreateItem(_ context.Context, item archive.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// UpdateItem applies the non-nil fields of the update.
func (s *ItemStore) UpdateItem(_ context.Context, itemID string, update archive.ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	now := time.Now().UTC()
	if update.Status != nil {
		item.Status = *update.Status
		if *update.Status == archive.ItemStatusProcessing && item.Started == nil {
			item.Started = &now
		}
		if isTerminal(*update.Status) {
			item.Finished = &now
		}
	}
	if update.Progress != nil {
		item.Progress = *update.Progress
	}
	if update.Message != nil {
		item.Message = *update.Message
	}
	if update.FailReason != nil {
		item.FailReason = *update.FailReason
	}
	if update.NewspaperID != nil {
		item.NewspaperID = *update.NewspaperID
	}
	if update.DateUnresolved != nil {
		item.DateUnresolved = *update.DateUnresolved
	}
	if update.ManualDate != nil {
		d := *update.ManualDate
		item.ManualDate = &d
	}
	if update.ClearCancel {
		delete(s.cancelled, itemID)
	}
	s.items[itemID] = item
	return nil
}

// GetItem fetches an item by ID.
func (s *ItemStore) GetItem(_ context.Context, itemID string) (archive.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return archive.Item{}, fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	return item, nil
}

// RequestCancel flags the item for cancellation.
func (s *ItemStore) RequestCancel(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	s.cancelled[itemID] = true
	return nil
}

// CancelRequested reports whether cancellation was requested.
func (s *ItemStore) CancelRequested(_ context.Context, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return false, fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	return s.cancelled[itemID], nil
}

func isTerminal(status archive.ItemStatus) bool {
	switch status {
	case archive.ItemStatusCompleted, archive.ItemStatusFailed:
		return true
	default:
		return false
	}
}
