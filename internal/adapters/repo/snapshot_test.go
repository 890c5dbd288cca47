package repo

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-feedback-bot/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewMemory()
	require.NoError(t, src.Put(ctx, domain.CollectionGroupUsers, "-100", []byte(`{"1":{"id":1,"username":"alice"}}`)))
	require.NoError(t, src.Put(ctx, domain.CollectionAdmins, "ids", []byte(`[1,2]`)))
	require.NoError(t, src.Put(ctx, domain.CollectionStats, "1", []byte(`{"username":"alice"}`)))

	var buf bytes.Buffer
	at := time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC)
	written, err := WriteSnapshot(ctx, src, &buf, at)
	require.NoError(t, err)
	assert.Equal(t, 3, written.Count())

	snap, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.True(t, snap.TakenAt.Equal(at))

	dst := NewMemory()
	require.NoError(t, RestoreSnapshot(ctx, dst, snap))
	body, err := dst.Get(ctx, domain.CollectionAdmins, "ids")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(body))
	body, err = dst.Get(ctx, domain.CollectionGroupUsers, "-100")
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"id":1,"username":"alice"}}`, string(body))
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	_, err := ReadSnapshot(bytes.NewReader([]byte("not zstd")))
	assert.Error(t, err)
}
