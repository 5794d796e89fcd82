// Package repository persists the authority's copy of every collection.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stemsi/exot-sync/internal/model"
)

// ErrTxDone is returned by Tx methods after Commit or Rollback.
var ErrTxDone = errors.New("transaction already finished")

// Store opens reconcile transactions and reads consistent snapshots.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	// Snapshot returns every collection plus the logical write time recorded
	// by the last push of each. The activity log is capped at activityLimit
	// newest entries.
	Snapshot(ctx context.Context, activityLimit int) (*model.Dataset, map[model.Collection]int64, error)
}

// Tx is one all-or-nothing push. Rollback after Commit is a no-op so callers
// can defer it.
type Tx interface {
	// DeleteAbsent removes every record of c whose key is not in keep and
	// returns how many went. An empty keep clears the collection.
	DeleteAbsent(ctx context.Context, c model.Collection, keep []string) (int64, error)

	UpsertStudent(ctx context.Context, s *model.Student) error
	UpsertUser(ctx context.Context, u *model.User) error
	UpsertQuestion(ctx context.Context, q *model.Question) error
	UpsertActivity(ctx context.Context, e *model.ActivityEntry) error
	// UpsertReward reports false when another reward already exists for the
	// same examiner; the record is then skipped.
	UpsertReward(ctx context.Context, r *model.ExaminerReward) (bool, error)
	EnsureClass(ctx context.Context, name string) error
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error

	// SetUpdatedAt records the logical write time of c. With keepNewer an
	// older value never replaces a newer one.
	SetUpdatedAt(ctx context.Context, c model.Collection, ts int64, keepNewer bool) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
