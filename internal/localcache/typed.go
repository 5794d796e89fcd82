package localcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stemsi/exot-sync/internal/model"
)

// Load decodes collection c into a T.
func Load[T any](ctx context.Context, s *Store, c model.Collection) (T, error) {
	var v T
	snap, err := s.Read(ctx, c)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(snap.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", c, err)
	}
	return v, nil
}

// Mutate decodes c, hands it to fn and writes the result back atomically.
// fn may return ErrUnchanged to skip the write.
func Mutate[T any](ctx context.Context, s *Store, c model.Collection, fn func(*T) error) error {
	return s.Update(ctx, c, func(raw json.RawMessage) (json.RawMessage, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

// Save encodes v and writes it as a local change.
func Save[T any](ctx context.Context, s *Store, c model.Collection, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c, err)
	}
	return s.Write(ctx, c, raw, 0)
}
