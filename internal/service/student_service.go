package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/codegen"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

var ErrStudentNotFound = errors.New("student not found")

// StudentFilter narrows List. Zero values match everything.
type StudentFilter struct {
	Class    string
	Type     model.StudentType
	Attended *bool
	Search   string
}

func (f StudentFilter) match(s *model.Student) bool {
	if f.Class != "" && s.Class != f.Class {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Attended != nil && s.Attended != *f.Attended {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// StudentService manages exam participants on a desk.
type StudentService struct {
	store    *localcache.Store
	classes  *ClassService
	activity *ActivityService
	codes    *codegen.Generator
	log      zerolog.Logger
}

// NewStudentService creates a new StudentService.
func NewStudentService(store *localcache.Store, classes *ClassService, activity *ActivityService, log zerolog.Logger) *StudentService {
	return &StudentService{
		store:    store,
		classes:  classes,
		activity: activity,
		codes:    codegen.New("", codegen.DefaultLength),
		log:      log.With().Str("component", "student_service").Logger(),
	}
}

// List returns the participants matching f in stored order.
func (s *StudentService) List(ctx context.Context, f StudentFilter) ([]model.Student, error) {
	all, err := localcache.Load[[]model.Student](ctx, s.store, model.CollectionStudents)
	if err != nil {
		return nil, err
	}
	out := make([]model.Student, 0, len(all))
	for i := range all {
		if f.match(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Get finds a participant by id or by the code printed on their card.
func (s *StudentService) Get(ctx context.Context, idOrQR string) (*model.Student, error) {
	all, err := localcache.Load[[]model.Student](ctx, s.store, model.CollectionStudents)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == idOrQR || all[i].QRCode == idOrQR {
			return &all[i], nil
		}
	}
	return nil, ErrStudentNotFound
}

// Create registers one participant and adds their class if it is new.
func (s *StudentService) Create(ctx context.Context, actor model.Actor, req model.CreateStudentRequest) (*model.Student, error) {
	created, err := s.createBatch(ctx, []model.CreateStudentRequest{req})
	if err != nil {
		return nil, err
	}
	st := created[0]
	s.activity.record(ctx, actor, ActionStudentAdd, fmt.Sprintf("Added student: %s (%s)", st.Name, st.Class))
	return &st, nil
}

// Import registers many participants in a single write.
func (s *StudentService) Import(ctx context.Context, actor model.Actor, reqs []model.CreateStudentRequest) ([]model.Student, error) {
	created, err := s.createBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}
	s.activity.record(ctx, actor, ActionStudentImport, fmt.Sprintf("Imported %d students", len(created)))
	return created, nil
}

func (s *StudentService) createBatch(ctx context.Context, reqs []model.CreateStudentRequest) ([]model.Student, error) {
	var created []model.Student
	err := localcache.Mutate(ctx, s.store, model.CollectionStudents, func(students *[]model.Student) error {
		taken := make(map[string]struct{}, len(*students))
		for _, st := range *students {
			taken[st.QRCode] = struct{}{}
		}
		codes := s.codes.GenerateBatch(taken, len(reqs))

		created = make([]model.Student, 0, len(reqs))
		for i, req := range reqs {
			typ := req.Type
			if typ == "" {
				typ = model.StudentTypeSiswa
			}
			created = append(created, model.Student{
				ID:        model.NewID(),
				Name:      strings.TrimSpace(req.Name),
				Class:     strings.TrimSpace(req.Class),
				Type:      typ,
				QRCode:    codes[i],
				CreatedAt: model.Now(),
			})
		}
		*students = append(*students, created...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, st := range created {
		if _, ok := seen[st.Class]; ok || st.Class == "" {
			continue
		}
		seen[st.Class] = struct{}{}
		if _, err := s.classes.Add(ctx, st.Class); err != nil {
			return created, fmt.Errorf("add class %s: %w", st.Class, err)
		}
	}
	return created, nil
}

// Update patches name, class or type.
func (s *StudentService) Update(ctx context.Context, id string, req model.UpdateStudentRequest) (*model.Student, error) {
	var out model.Student
	err := s.mutateOne(ctx, id, func(st *model.Student) {
		if req.Name != nil {
			st.Name = strings.TrimSpace(*req.Name)
		}
		if req.Class != nil {
			st.Class = strings.TrimSpace(*req.Class)
		}
		if req.Type != nil {
			st.Type = *req.Type
		}
		out = *st
	})
	if err != nil {
		return nil, err
	}
	if req.Class != nil && out.Class != "" {
		if _, err := s.classes.Add(ctx, out.Class); err != nil {
			return &out, err
		}
	}
	return &out, nil
}

// Delete removes a participant.
func (s *StudentService) Delete(ctx context.Context, actor model.Actor, id string) error {
	var name string
	err := localcache.Mutate(ctx, s.store, model.CollectionStudents, func(students *[]model.Student) error {
		for i := range *students {
			if (*students)[i].ID == id {
				name = (*students)[i].Name
				*students = append((*students)[:i], (*students)[i+1:]...)
				return nil
			}
		}
		return ErrStudentNotFound
	})
	if err != nil {
		return err
	}
	s.activity.record(ctx, actor, ActionStudentDelete, "Deleted student: "+name)
	return nil
}

// MarkAttendance checks a participant in. idOrQR may be the scanned card.
func (s *StudentService) MarkAttendance(ctx context.Context, actor model.Actor, idOrQR string) (*model.Student, error) {
	var out model.Student
	err := s.mutateOne(ctx, idOrQR, func(st *model.Student) {
		now := model.Now()
		st.Attended = true
		st.AttendedAt = &now
		out = *st
	})
	if err != nil {
		return nil, err
	}
	s.activity.record(ctx, actor, ActionAttendance, "Marked attendance: "+out.Name)
	return &out, nil
}

// UpdateScore records the examiner's score for one subject.
func (s *StudentService) UpdateScore(ctx context.Context, actor model.Actor, idOrQR string, subject model.Subject, score *float64) (*model.Student, error) {
	var out model.Student
	err := s.mutateOne(ctx, idOrQR, func(st *model.Student) {
		st.SetScore(subject, score, actor.UserID)
		out = *st
	})
	if err != nil {
		return nil, err
	}
	s.activity.record(ctx, actor, ActionScoreUpdate, fmt.Sprintf("Scored %s: %s=%s", out.Name, subject, formatScore(score)))
	return &out, nil
}

func (s *StudentService) mutateOne(ctx context.Context, idOrQR string, fn func(*model.Student)) error {
	return localcache.Mutate(ctx, s.store, model.CollectionStudents, func(students *[]model.Student) error {
		for i := range *students {
			if (*students)[i].ID == idOrQR || (*students)[i].QRCode == idOrQR {
				fn(&(*students)[i])
				return nil
			}
		}
		return ErrStudentNotFound
	})
}

func formatScore(score *float64) string {
	if score == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *score)
}
