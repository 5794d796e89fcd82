package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

var (
	ErrClassNotFound = errors.New("class not found")
	ErrClassExists   = errors.New("class already exists")
)

// ClassService manages the list of exam rooms.
type ClassService struct {
	store *localcache.Store
	log   zerolog.Logger
}

// NewClassService creates a new ClassService.
func NewClassService(store *localcache.Store, log zerolog.Logger) *ClassService {
	return &ClassService{
		store: store,
		log:   log.With().Str("component", "class_service").Logger(),
	}
}

// List returns every class, sorted.
func (s *ClassService) List(ctx context.Context) ([]string, error) {
	return localcache.Load[[]string](ctx, s.store, model.CollectionClasses)
}

// Add inserts a class if it is not there yet and keeps the list sorted.
func (s *ClassService) Add(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	var out []string
	err := localcache.Mutate(ctx, s.store, model.CollectionClasses, func(classes *[]string) error {
		if slices.Contains(*classes, name) {
			out = *classes
			return localcache.ErrUnchanged
		}
		*classes = append(*classes, name)
		slices.Sort(*classes)
		out = *classes
		return nil
	})
	return out, err
}

// Remove deletes a class. Students keep their class label.
func (s *ClassService) Remove(ctx context.Context, name string) ([]string, error) {
	var out []string
	err := localcache.Mutate(ctx, s.store, model.CollectionClasses, func(classes *[]string) error {
		idx := slices.Index(*classes, name)
		if idx < 0 {
			return ErrClassNotFound
		}
		*classes = slices.Delete(*classes, idx, idx+1)
		out = *classes
		return nil
	})
	return out, err
}

// Rename renames a class in place and moves every student in it.
func (s *ClassService) Rename(ctx context.Context, oldName, newName string) ([]string, error) {
	newName = strings.TrimSpace(newName)
	var out []string
	err := localcache.Mutate(ctx, s.store, model.CollectionClasses, func(classes *[]string) error {
		idx := slices.Index(*classes, oldName)
		if idx < 0 {
			return ErrClassNotFound
		}
		if newName != oldName && slices.Contains(*classes, newName) {
			return ErrClassExists
		}
		(*classes)[idx] = newName
		out = *classes
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = localcache.Mutate(ctx, s.store, model.CollectionStudents, func(students *[]model.Student) error {
		moved := 0
		for i := range *students {
			if (*students)[i].Class == oldName {
				(*students)[i].Class = newName
				moved++
			}
		}
		if moved == 0 {
			return localcache.ErrUnchanged
		}
		s.log.Info().Str("from", oldName).Str("to", newName).Int("students", moved).Msg("Class renamed")
		return nil
	})
	return out, err
}
