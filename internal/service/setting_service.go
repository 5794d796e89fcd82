package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

var ErrInvalidSettingValue = errors.New("setting value is not valid JSON")

type SettingService struct {
	store *localcache.Store
	log   zerolog.Logger
}

func NewSettingService(store *localcache.Store, log zerolog.Logger) *SettingService {
	return &SettingService{
		store: store,
		log:   log.With().Str("component", "setting_service").Logger(),
	}
}

func (s *SettingService) GetAll(ctx context.Context) (model.Settings, error) {
	return localcache.Load[model.Settings](ctx, s.store, model.CollectionSettings)
}

// Save merges the given keys into the settings map. Keys not mentioned keep
// their value.
func (s *SettingService) Save(ctx context.Context, updates model.Settings) (model.Settings, error) {
	for key, v := range updates {
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSettingValue, key)
		}
	}
	var out model.Settings
	err := localcache.Mutate(ctx, s.store, model.CollectionSettings, func(settings *model.Settings) error {
		if *settings == nil {
			*settings = model.Settings{}
		}
		maps.Copy(*settings, updates)
		out = maps.Clone(*settings)
		return nil
	})
	return out, err
}

// Set writes a single key.
func (s *SettingService) Set(ctx context.Context, key string, value json.RawMessage) (model.Settings, error) {
	return s.Save(ctx, model.Settings{key: value})
}

// Toggle flips a boolean setting and returns the new value.
func (s *SettingService) Toggle(ctx context.Context, key string, fallback bool) (bool, error) {
	var next bool
	err := localcache.Mutate(ctx, s.store, model.CollectionSettings, func(settings *model.Settings) error {
		if *settings == nil {
			*settings = model.Settings{}
		}
		next = !settings.Bool(key, fallback)
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		(*settings)[key] = raw
		return nil
	})
	return next, err
}
