package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mediascope/mediascope/internal/archive"
)

// ItemStore persists pipeline item state in Postgres so status survives
// restarts.
type ItemStore struct {
	pool pgxPool
}

// NewItemStore builds an ItemStore from an existing pool (primarily for
// testing).
func NewItemStore(pool pgxPool) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

// ItemStore returns an ItemStore sharing this store's connection pool.
func (s *ArchiveStore) ItemStore() *ItemStore {
	return &ItemStore{pool: s.pool}
}

// CreateItem inserts a new item row.
func (s *ItemStore) CreateItem(ctx context.Context, item archive.Item) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO items (
	id, filename, image_ref, status, progress, message, fail_reason,
	newspaper_id, date_unresolved, manual_date, cancel_requested,
	submitted_at, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,$11,$12,$13)`,
		item.ID, item.Filename, item.ImageRef, string(item.Status), item.Progress,
		item.Message, item.FailReason, item.NewspaperID, item.DateUnresolved,
		item.ManualDate, item.Submitted, item.Started, item.Finished,
	); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// UpdateItem applies the non-nil fields of the update. Started and finished
// timestamps follow the status transitions.
func (s *ItemStore) UpdateItem(ctx context.Context, itemID string, update archive.ItemUpdate) error {
	set := "SET id = id"
	args := []any{itemID}
	add := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
		switch *update.Status {
		case archive.ItemStatusProcessing:
			set += ", started_at = COALESCE(started_at, NOW())"
		case archive.ItemStatusCompleted, archive.ItemStatusFailed:
			set += ", finished_at = NOW()"
		}
	}
	if update.Progress != nil {
		add("progress", *update.Progress)
	}
	if update.Message != nil {
		add("message", *update.Message)
	}
	if update.FailReason != nil {
		add("fail_reason", *update.FailReason)
	}
	if update.NewspaperID != nil {
		add("newspaper_id", *update.NewspaperID)
	}
	if update.DateUnresolved != nil {
		add("date_unresolved", *update.DateUnresolved)
	}
	if update.ManualDate != nil {
		add("manual_date", *update.ManualDate)
	}
	if update.ClearCancel {
		set += ", cancel_requested = FALSE"
	}
	tag, err := s.pool.Exec(ctx, "UPDATE items "+set+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	return nil
}

// GetItem fetches one item row.
func (s *ItemStore) GetItem(ctx context.Context, itemID string) (archive.Item, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, filename, image_ref, status, progress, message, fail_reason,
	newspaper_id, date_unresolved, manual_date, submitted_at, started_at, finished_at
FROM items WHERE id = $1`, itemID)
	var item archive.Item
	var status string
	err := row.Scan(
		&item.ID, &item.Filename, &item.ImageRef, &status, &item.Progress,
		&item.Message, &item.FailReason, &item.NewspaperID, &item.DateUnresolved,
		&item.ManualDate, &item.Submitted, &item.Started, &item.Finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Item{}, fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Item{}, fmt.Errorf("get item: %w", err)
	}
	item.Status = archive.ItemStatus(status)
	return item, nil
}

// RequestCancel flags the item for cancellation.
func (s *ItemStore) RequestCancel(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET cancel_requested = TRUE WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	return nil
}

// CancelRequested reports whether cancellation was requested.
func (s *ItemStore) CancelRequested(ctx context.Context, itemID string) (bool, error) {
	var cancelled bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM items WHERE id = $1`, itemID).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("item %s: %w", itemID, archive.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("query cancel flag: %w", err)
	}
	return cancelled, nil
}
