package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

// DefaultActivityLimit is how many entries a desk keeps.
const DefaultActivityLimit = 500

// Audited actions.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionAttendance     = "attendance"
	ActionScoreUpdate    = "score_update"
	ActionStudentAdd     = "student_add"
	ActionStudentImport  = "student_import"
	ActionStudentDelete  = "student_delete"
	ActionUserAdd        = "user_add"
	ActionUserDelete     = "user_delete"
	ActionPasswordChange = "password_change"
	ActionRewardGenerate = "reward_generate"
	ActionRewardClaim    = "reward_claim"
	ActionQuestionAdd    = "question_add"
	ActionBackup         = "backup"
	ActionBackupRestore  = "restore"
	ActionExport         = "export"
)

// ActivityService maintains the desk's audit trail.
type ActivityService struct {
	store *localcache.Store
	limit int
	log   zerolog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(store *localcache.Store, limit int, log zerolog.Logger) *ActivityService {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return &ActivityService{
		store: store,
		limit: limit,
		log:   log.With().Str("component", "activity_service").Logger(),
	}
}

// Log prepends an entry and trims the log to the newest limit entries. A
// zero actor is recorded as the system.
func (s *ActivityService) Log(ctx context.Context, actor model.Actor, action, details string) error {
	if actor.UserID == "" {
		actor = model.SystemActor
	}
	entry := model.ActivityEntry{
		ID:        model.NewID(),
		Action:    action,
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Details:   details,
		Timestamp: model.Now(),
	}

	err := localcache.Mutate(ctx, s.store, model.CollectionActivityLog, func(entries *[]model.ActivityEntry) error {
		next := make([]model.ActivityEntry, 0, min(len(*entries)+1, s.limit))
		next = append(next, entry)
		for _, e := range *entries {
			if len(next) == s.limit {
				break
			}
			next = append(next, e)
		}
		*entries = next
		return nil
	})
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// record logs without failing the surrounding operation, which has already
// been written.
func (s *ActivityService) record(ctx context.Context, actor model.Actor, action, details string) {
	if err := s.Log(ctx, actor, action, details); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("Activity not recorded")
	}
}

// List returns one page of the log, newest first.
func (s *ActivityService) List(ctx context.Context, page, perPage int) ([]model.ActivityEntry, int, error) {
	entries, err := localcache.Load[[]model.ActivityEntry](ctx, s.store, model.CollectionActivityLog)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	total := len(entries)
	start := (page - 1) * perPage
	if start >= total {
		return []model.ActivityEntry{}, total, nil
	}
	end := min(start+perPage, total)
	return entries[start:end], total, nil
}

// Clear empties the log.
func (s *ActivityService) Clear(ctx context.Context) error {
	return localcache.Save(ctx, s.store, model.CollectionActivityLog, []model.ActivityEntry{})
}
