package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

// BackupVersion is written into every export.
const BackupVersion = "1.0"

var ErrInvalidBackup = errors.New("invalid backup format")

// restorable lists the collections a backup may overwrite. The activity log
// is exported for reference but never restored.
var restorable = []model.Collection{
	model.CollectionStudents,
	model.CollectionUsers,
	model.CollectionClasses,
	model.CollectionQuestions,
	model.CollectionExaminerRewards,
	model.CollectionSettings,
}

// BackupService exports and restores a desk's whole cache.
type BackupService struct {
	store    *localcache.Store
	activity *ActivityService
	log      zerolog.Logger
}

// NewBackupService creates a new BackupService.
func NewBackupService(store *localcache.Store, activity *ActivityService, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:    store,
		activity: activity,
		log:      log.With().Str("component", "backup_service").Logger(),
	}
}

// Export snapshots every collection.
func (s *BackupService) Export(ctx context.Context, actor model.Actor) (*model.Backup, error) {
	ds := &model.Dataset{}
	for _, c := range model.Collections {
		snap, err := s.store.Read(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := ds.SetPayload(c, snap.Data); err != nil {
			return nil, err
		}
	}
	s.activity.record(ctx, actor, ActionBackup, "Created full backup")
	return &model.Backup{
		Version:   BackupVersion,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      ds,
	}, nil
}

// Restore writes every collection present in raw as a local change, so it
// propagates to the authority like any other edit. Collections missing from
// the backup are left alone.
func (s *BackupService) Restore(ctx context.Context, actor model.Actor, raw []byte) (string, error) {
	var backup struct {
		CreatedAt string                                `json:"createdAt"`
		Data      map[model.Collection]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &backup); err != nil || backup.Data == nil {
		return "", ErrInvalidBackup
	}

	// Decode everything before writing anything.
	var probe model.Dataset
	for _, c := range restorable {
		payload, ok := backup.Data[c]
		if !ok || string(payload) == "null" {
			continue
		}
		if err := probe.SetPayload(c, payload); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidBackup, err)
		}
	}

	restored := 0
	for _, c := range restorable {
		if _, ok := backup.Data[c]; !ok || string(backup.Data[c]) == "null" {
			continue
		}
		payload, err := probe.Payload(c)
		if err != nil {
			return "", err
		}
		if err := s.store.Write(ctx, c, payload, 0); err != nil {
			return "", fmt.Errorf("restore %s: %w", c, err)
		}
		restored++
	}

	s.log.Info().Int("collections", restored).Str("created_at", backup.CreatedAt).Msg("Backup restored")
	s.activity.record(ctx, actor, ActionBackupRestore, "Restored backup from "+backup.CreatedAt)
	return backup.CreatedAt, nil
}
