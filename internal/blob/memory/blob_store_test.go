package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "originals/item-1/scan.jpg", "image/jpeg", strings.NewReader("payload"))
	require.NoError(t, err)
	require.Equal(t, "memory://originals/item-1/scan.jpg", uri)

	data, err := store.GetObject(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	data, err = store.GetObject(ctx, "originals/item-1/scan.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	_, err := store.PutObject(ctx, "k", "image/jpeg", strings.NewReader("abc"))
	require.NoError(t, err)

	data, err := store.GetObject(ctx, "k")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := store.GetObject(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "missing")
	require.Error(t, err)
}
