package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/metrics"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/repository"
	ws "github.com/stemsi/exot-sync/internal/websocket"
	"github.com/stemsi/exot-sync/internal/worker"
)

// ErrUnknownCollection is returned for pushes to a collection that does not exist.
var ErrUnknownCollection = errors.New("unknown collection")

// ReconcileError names the collection and record that made a push roll back.
type ReconcileError struct {
	Collection model.Collection
	RecordID   string
	Err        error
}

func (e *ReconcileError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("reconcile %s: %v", e.Collection, e.Err)
	}
	return fmt.Sprintf("reconcile %s: record %s: %v", e.Collection, e.RecordID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// ReconcileService merges full collection snapshots pushed by desks into the
// authority's store and serves full pulls.
type ReconcileService struct {
	store         repository.Store
	rdb           *redis.Client
	activityLimit int
	log           zerolog.Logger
}

// NewReconcileService creates a new ReconcileService. rdb may be nil, in which
// case no signals are published and the activity log is never trimmed.
func NewReconcileService(store repository.Store, rdb *redis.Client, activityLimit int, log zerolog.Logger) *ReconcileService {
	return &ReconcileService{
		store:         store,
		rdb:           rdb,
		activityLimit: activityLimit,
		log:           log.With().Str("component", "reconcile_service").Logger(),
	}
}

// Pull returns every collection with its last logical write time. A
// collection the authority holds data for but never received a push for
// (seeded directly) is reported as existing at time zero.
func (s *ReconcileService) Pull(ctx context.Context) (*model.PullResponse, error) {
	ds, stamps, err := s.store.Snapshot(ctx, s.activityLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	out := &model.PullResponse{Collections: make(map[model.Collection]model.Envelope, len(model.Collections))}
	for _, c := range model.Collections {
		payload, err := ds.Payload(c)
		if err != nil {
			return nil, err
		}
		ts, pushed := stamps[c]
		out.Collections[c] = model.Envelope{
			Collection: c,
			Payload:    payload,
			UpdatedAt:  ts,
			Exists:     pushed || hasData(ds, c),
		}
	}
	return out, nil
}

func hasData(ds *model.Dataset, c model.Collection) bool {
	switch c {
	case model.CollectionStudents:
		return len(ds.Students) > 0
	case model.CollectionUsers:
		return len(ds.Users) > 0
	case model.CollectionClasses:
		return len(ds.Classes) > 0
	case model.CollectionQuestions:
		return len(ds.Questions) > 0
	case model.CollectionActivityLog:
		return len(ds.ActivityLog) > 0
	case model.CollectionExaminerRewards:
		return len(ds.ExaminerRewards) > 0
	case model.CollectionSettings:
		return len(ds.Settings) > 0
	}
	return false
}

// Apply reconciles one full collection push inside a single transaction.
func (s *ReconcileService) Apply(ctx context.Context, c model.Collection, payload json.RawMessage, updatedAt int64, origin string) (err error) {
	if !c.Valid() {
		return ErrUnknownCollection
	}
	if updatedAt <= 0 {
		updatedAt = model.NowMillis()
	}

	start := time.Now()
	defer func() { metrics.ObserveReconcile(string(c), time.Since(start), err) }()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var stats applyStats
	switch c {
	case model.CollectionStudents:
		stats, err = applyStudents(ctx, tx, payload)
	case model.CollectionUsers:
		stats, err = applyUsers(ctx, tx, payload)
	case model.CollectionQuestions:
		stats, err = applyQuestions(ctx, tx, payload)
	case model.CollectionClasses:
		stats, err = applyClasses(ctx, tx, payload)
	case model.CollectionActivityLog:
		stats, err = applyActivity(ctx, tx, payload)
	case model.CollectionExaminerRewards:
		stats, err = applyRewards(ctx, tx, payload)
	case model.CollectionSettings:
		stats, err = applySettings(ctx, tx, payload)
	}
	if err != nil {
		return err
	}

	// Settings keys merge, so an older push never rewinds the collection time.
	if err = tx.SetUpdatedAt(ctx, c, updatedAt, c == model.CollectionSettings); err != nil {
		return &ReconcileError{Collection: c, Err: err}
	}
	if err = tx.Commit(ctx); err != nil {
		return &ReconcileError{Collection: c, Err: err}
	}

	s.log.Info().
		Str("collection", string(c)).
		Str("origin", origin).
		Int("upserted", stats.upserted).
		Int64("deleted", stats.deleted).
		Int("skipped", stats.skipped).
		Int64("updated_at", updatedAt).
		Msg("Push reconciled")

	s.afterCommit(ctx, c, updatedAt, origin)
	return nil
}

// ApplySetting writes one settings key.
func (s *ReconcileService) ApplySetting(ctx context.Context, key string, value json.RawMessage, updatedAt int64, origin string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ReconcileError{Collection: model.CollectionSettings, Err: errors.New("empty key")}
	}
	raw, err := json.Marshal(map[string]json.RawMessage{key: value})
	if err != nil {
		return &ReconcileError{Collection: model.CollectionSettings, RecordID: key, Err: err}
	}
	return s.Apply(ctx, model.CollectionSettings, raw, updatedAt, origin)
}

func (s *ReconcileService) afterCommit(ctx context.Context, c model.Collection, updatedAt int64, origin string) {
	if s.rdb == nil {
		return
	}

	msg, _ := json.Marshal(ws.SignalMessage{
		Event:      ws.EventSynced,
		Collection: c,
		UpdatedAt:  updatedAt,
		Origin:     origin,
	})
	if err := s.rdb.Publish(ctx, config.CacheKey.SyncSignalChannel(), msg).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish sync signal")
	}

	if c == model.CollectionActivityLog && s.activityLimit > 0 {
		if err := worker.EnqueueTrim(ctx, s.rdb, s.activityLimit); err != nil {
			s.log.Warn().Err(err).Msg("Failed to enqueue activity trim")
		}
	}
}

// ─── Per-collection merge ──────────────────────────────────────────────────

type applyStats struct {
	upserted int
	deleted  int64
	skipped  int
}

var errNotArray = errors.New("expected a JSON array")

// decodeRecords accepts only a JSON array. A literal null would otherwise
// decode to an empty slice and clear the collection.
func decodeRecords[T any](c model.Collection, payload json.RawMessage) ([]T, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &ReconcileError{Collection: c, Err: fmt.Errorf("payload is not a %s array: %w", c, errNotArray)}
	}
	var out []T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ReconcileError{Collection: c, Err: fmt.Errorf("payload is not a %s array: %w", c, err)}
	}
	return out, nil
}

func recordErr(c model.Collection, id string, index int, err error) error {
	if id == "" {
		id = fmt.Sprintf("#%d", index)
	}
	return &ReconcileError{Collection: c, RecordID: id, Err: err}
}

var errMissingID = errors.New("missing id")

func replaceMembership(ctx context.Context, tx repository.Tx, c model.Collection, keys []string) (int64, error) {
	n, err := tx.DeleteAbsent(ctx, c, keys)
	if err != nil {
		return 0, &ReconcileError{Collection: c, Err: err}
	}
	return n, nil
}

func applyStudents(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionStudents
	var st applyStats
	recs, err := decodeRecords[model.Student](c, payload)
	if err != nil {
		return st, err
	}

	ids := make([]string, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return st, recordErr(c, "", i, errMissingID)
		}
		ids = append(ids, r.ID)
	}
	if st.deleted, err = replaceMembership(ctx, tx, c, ids); err != nil {
		return st, err
	}

	for i := range recs {
		r := &recs[i]
		if r.Type == "" {
			r.Type = model.StudentTypeSiswa
		}
		if r.QRCode == "" {
			r.QRCode = r.ID
		}
		if err := tx.UpsertStudent(ctx, r); err != nil {
			return st, recordErr(c, r.ID, i, err)
		}
		if class := strings.TrimSpace(r.Class); class != "" {
			if err := tx.EnsureClass(ctx, class); err != nil {
				return st, recordErr(c, r.ID, i, err)
			}
		}
		st.upserted++
	}
	return st, nil
}

func applyUsers(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionUsers
	var st applyStats
	recs, err := decodeRecords[model.User](c, payload)
	if err != nil {
		return st, err
	}

	ids := make([]string, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return st, recordErr(c, "", i, errMissingID)
		}
		ids = append(ids, r.ID)
	}
	if st.deleted, err = replaceMembership(ctx, tx, c, ids); err != nil {
		return st, err
	}

	for i := range recs {
		if err := tx.UpsertUser(ctx, &recs[i]); err != nil {
			return st, recordErr(c, recs[i].ID, i, err)
		}
		st.upserted++
	}
	return st, nil
}

func applyQuestions(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionQuestions
	var st applyStats
	recs, err := decodeRecords[model.Question](c, payload)
	if err != nil {
		return st, err
	}

	ids := make([]string, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return st, recordErr(c, "", i, errMissingID)
		}
		ids = append(ids, r.ID)
	}
	if st.deleted, err = replaceMembership(ctx, tx, c, ids); err != nil {
		return st, err
	}

	for i := range recs {
		if err := tx.UpsertQuestion(ctx, &recs[i]); err != nil {
			return st, recordErr(c, recs[i].ID, i, err)
		}
		st.upserted++
	}
	return st, nil
}

func applyClasses(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionClasses
	var st applyStats
	recs, err := decodeRecords[string](c, payload)
	if err != nil {
		return st, err
	}

	names := make([]string, 0, len(recs))
	for _, r := range recs {
		if name := strings.TrimSpace(r); name != "" {
			names = append(names, name)
		}
	}
	if st.deleted, err = replaceMembership(ctx, tx, c, names); err != nil {
		return st, err
	}
	for i, name := range names {
		if err := tx.EnsureClass(ctx, name); err != nil {
			return st, recordErr(c, name, i, err)
		}
		st.upserted++
	}
	return st, nil
}

func applyActivity(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionActivityLog
	var st applyStats
	recs, err := decodeRecords[model.ActivityEntry](c, payload)
	if err != nil {
		return st, err
	}

	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			return st, recordErr(c, "", i, errMissingID)
		}
		if r.UserID == "" {
			r.UserID = model.SystemActor.UserID
		}
		if r.UserName == "" {
			r.UserName = model.SystemActor.UserName
		}
		if err := tx.UpsertActivity(ctx, r); err != nil {
			return st, recordErr(c, r.ID, i, err)
		}
		st.upserted++
	}
	return st, nil
}

func applyRewards(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionExaminerRewards
	var st applyStats
	recs, err := decodeRecords[model.ExaminerReward](c, payload)
	if err != nil {
		return st, err
	}

	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			return st, recordErr(c, "", i, errMissingID)
		}
		if r.ExaminerID == "" {
			return st, recordErr(c, r.ID, i, errors.New("missing examinerId"))
		}
		ok, err := tx.UpsertReward(ctx, r)
		if err != nil {
			return st, recordErr(c, r.ID, i, err)
		}
		if !ok {
			st.skipped++
			continue
		}
		st.upserted++
	}
	return st, nil
}

func applySettings(ctx context.Context, tx repository.Tx, payload json.RawMessage) (applyStats, error) {
	const c = model.CollectionSettings
	var st applyStats
	var settings model.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return st, &ReconcileError{Collection: c, Err: fmt.Errorf("payload is not an object: %w", err)}
	}
	for key, value := range settings {
		if !json.Valid(value) {
			return st, &ReconcileError{Collection: c, RecordID: key, Err: errors.New("invalid JSON value")}
		}
		if err := tx.UpsertSetting(ctx, key, value); err != nil {
			return st, &ReconcileError{Collection: c, RecordID: key, Err: err}
		}
		st.upserted++
	}
	return st, nil
}
