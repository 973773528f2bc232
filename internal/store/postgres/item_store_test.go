package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
)

func TestCreateItemInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	submitted := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec(`INSERT INTO items`).
		WithArgs("item-1", "scan.jpg", "memory://originals/item-1/scan.jpg", "uploaded",
			0, "", "", "", false, (*time.Time)(nil), submitted, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateItem(context.Background(), archive.Item{
		ID:        "item-1",
		Filename:  "scan.jpg",
		ImageRef:  "memory://originals/item-1/scan.jpg",
		Status:    archive.ItemStatusUploaded,
		Submitted: submitted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemBuildsDynamicSet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	status := archive.ItemStatusProcessing
	progress := 20
	message := "completed preprocess"

	mock.ExpectExec(`UPDATE items SET id = id, status = \$2, started_at = COALESCE\(started_at, NOW\(\)\), progress = \$3, message = \$4 WHERE id = \$1`).
		WithArgs("item-1", "processing", 20, "completed preprocess").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateItem(context.Background(), "item-1", archive.ItemUpdate{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemTerminalSetsFinished(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	status := archive.ItemStatusFailed
	reason := archive.ReasonTimeout

	mock.ExpectExec(`UPDATE items SET id = id, status = \$2, finished_at = NOW\(\), fail_reason = \$3 WHERE id = \$1`).
		WithArgs("item-1", "failed", archive.ReasonTimeout).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateItem(context.Background(), "item-1", archive.ItemUpdate{
		Status:     &status,
		FailReason: &reason,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemClearsCancelFlag(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	status := archive.ItemStatusProcessing
	progress := 5

	mock.ExpectExec(`UPDATE items SET id = id, status = \$2, started_at = COALESCE\(started_at, NOW\(\)\), progress = \$3, cancel_requested = FALSE WHERE id = \$1`).
		WithArgs("item-1", "processing", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateItem(context.Background(), "item-1", archive.ItemUpdate{
		Status:      &status,
		Progress:    &progress,
		ClearCancel: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	progress := 5
	mock.ExpectExec(`UPDATE items`).
		WithArgs("missing", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateItem(context.Background(), "missing", archive.ItemUpdate{Progress: &progress})
	require.ErrorIs(t, err, archive.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetItemScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	submitted := time.Unix(1700000000, 0).UTC()
	started := submitted.Add(time.Second)

	mock.ExpectQuery(`FROM items WHERE id = \$1`).
		WithArgs("item-1").
		WillReturnRows(mock.NewRows([]string{
			"id", "filename", "image_ref", "status", "progress", "message", "fail_reason",
			"newspaper_id", "date_unresolved", "manual_date", "submitted_at", "started_at", "finished_at",
		}).AddRow(
			"item-1", "scan.jpg", "memory://x", "processing", 45, "completed recognize", "",
			"", false, (*time.Time)(nil), submitted, &started, (*time.Time)(nil),
		))

	item, err := store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	require.Equal(t, archive.ItemStatusProcessing, item.Status)
	require.Equal(t, 45, item.Progress)
	require.Equal(t, &started, item.Started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE items SET cancel_requested = TRUE WHERE id = \$1`).
		WithArgs("item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT cancel_requested FROM items WHERE id = \$1`).
		WithArgs("item-1").
		WillReturnRows(mock.NewRows([]string{"cancel_requested"}).AddRow(true))

	require.NoError(t, store.RequestCancel(context.Background(), "item-1"))
	flagged, err := store.CancelRequested(context.Background(), "item-1")
	require.NoError(t, err)
	require.True(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}
