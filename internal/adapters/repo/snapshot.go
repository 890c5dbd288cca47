package repo

import (
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"tg-feedback-bot/internal/domain"
)

// SnapshotCollections коллекции, попадающие в снимок.
var SnapshotCollections = []string{
	domain.CollectionGroupUsers,
	domain.CollectionStats,
	domain.CollectionPending,
	domain.CollectionAdmins,
}

// Snapshot содержимое всех коллекций хранилища.
type Snapshot struct {
	TakenAt     time.Time                             `json:"taken_at"`
	Collections map[string]map[string]json.RawMessage `json:"collections"`
}

// Count количество документов в снимке.
func (s Snapshot) Count() int {
	n := 0
	for _, docs := range s.Collections {
		n += len(docs)
	}
	return n
}

// WriteSnapshot сохраняет все документы в w в виде JSON, сжатого zstd.
func WriteSnapshot(ctx context.Context, store domain.DocumentStore, w io.Writer, at time.Time) (Snapshot, error) {
	snap := Snapshot{TakenAt: at, Collections: make(map[string]map[string]json.RawMessage, len(SnapshotCollections))}
	for _, coll := range SnapshotCollections {
		docs, err := store.All(ctx, coll)
		if err != nil {
			return Snapshot{}, persistenceErr("snapshot "+coll, err)
		}
		out := make(map[string]json.RawMessage, len(docs))
		for key, body := range docs {
			if !json.Valid(body) {
				return Snapshot{}, fmt.Errorf("snapshot %s/%s: документ не JSON", coll, key)
			}
			out[key] = body
		}
		snap.Collections[coll] = out
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return Snapshot{}, fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Snapshot{}, fmt.Errorf("zstd close: %w", err)
	}
	return snap, nil
}

// ReadSnapshot читает снимок, записанный WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// RestoreSnapshot записывает документы снимка в хранилище поверх существующих.
func RestoreSnapshot(ctx context.Context, store domain.DocumentStore, snap Snapshot) error {
	for coll, docs := range snap.Collections {
		for key, body := range docs {
			if err := store.Put(ctx, coll, key, body); err != nil {
				return persistenceErr("restore "+coll+"/"+key, err)
			}
		}
	}
	return nil
}
