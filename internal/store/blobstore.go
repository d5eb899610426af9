// Package store implements the engine's persistence boundary: CarryoverStore,
// HistoryStore, and AutoSaver, all built atop an opaque BlobStore so the
// engine itself never depends on a concrete database.
package store

import "context"

// Key names for the three blobs the engine persists.
const (
	KeyHistory      = "history"
	KeyCarryover    = "carryover"
	KeyStepTimeline = "step_timeline"
)

// BlobStore is the opaque key-value contract the engine's persistence
// layer is built on/load() on an opaque BlobStore interface;
// implementations may be async internally but must present an ordered,
// fire-and-forget contract from the engine's perspective"). Values are
// pre-serialized bytes; this package owns the (de)serialization of the
// typed records above it.
type BlobStore interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}
