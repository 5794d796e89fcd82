// Package remote talks to the authority that holds the shared copy of every
// collection. Two flavors exist: a relational backend behind HTTP and a Redis
// document store with change notifications.
package remote

import (
	"context"
	"encoding/json"
	"io"

	"github.com/stemsi/exot-sync/internal/model"
)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Adapter is the authority as seen by a desk. Every error it returns is a
// *syncerr.Error.
type Adapter interface {
	Name() string
	// PullAll returns every collection. Collections the authority has never
	// seen come back with Exists false.
	PullAll(ctx context.Context) (map[model.Collection]model.Envelope, error)
	// PushCollection replaces a whole collection.
	PushCollection(ctx context.Context, env model.Envelope) error
	// PushKeyedValue writes one key of the settings map.
	PushKeyedValue(ctx context.Context, key string, value json.RawMessage, updatedAt int64) error
	// Subscribe delivers the current value of c and then every change,
	// including the caller's own writes. Non-realtime adapters return a no-op.
	Subscribe(ctx context.Context, c model.Collection, fn func(model.Envelope)) (Unsubscribe, error)
	// Realtime reports whether Subscribe delivers changes, making polling
	// unnecessary.
	Realtime() bool
	Close() error
}

// FileUploader is implemented by adapters that can store question material.
type FileUploader interface {
	UploadFile(ctx context.Context, category, filename string, r io.Reader) (*model.UploadResult, error)
}

func noopUnsubscribe() {}
