package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/remote"
)

var (
	ErrQuestionNotFound  = errors.New("question not found")
	ErrEmptyQuestion     = errors.New("question needs content or a file")
	ErrUploadUnavailable = errors.New("file upload is not supported by this sync backend")
)

// QuestionFile is an attachment uploaded with a question.
type QuestionFile struct {
	Name   string
	Reader io.Reader
}

// QuestionService handles exam questions on a desk.
type QuestionService struct {
	store    *localcache.Store
	uploader remote.FileUploader
	activity *ActivityService
	log      zerolog.Logger
}

// NewQuestionService creates a new QuestionService. uploader may be nil when
// the backend cannot store files.
func NewQuestionService(store *localcache.Store, uploader remote.FileUploader, activity *ActivityService, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		store:    store,
		uploader: uploader,
		activity: activity,
		log:      log.With().Str("component", "question_service").Logger(),
	}
}

// List returns questions, optionally for one room and subject.
func (s *QuestionService) List(ctx context.Context, room string, subject model.Subject) ([]model.Question, error) {
	all, err := localcache.Load[[]model.Question](ctx, s.store, model.CollectionQuestions)
	if err != nil {
		return nil, err
	}
	out := make([]model.Question, 0, len(all))
	for _, q := range all {
		if room != "" && q.Room != room {
			continue
		}
		if subject != "" && q.Subject != subject {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// Create adds a question. With a file, the file is uploaded first and the
// question's content becomes its public URL.
func (s *QuestionService) Create(ctx context.Context, actor model.Actor, req model.CreateQuestionRequest, file *QuestionFile) (*model.Question, error) {
	q := model.Question{
		ID:            model.NewID(),
		Room:          strings.TrimSpace(req.Room),
		Subject:       req.Subject,
		Content:       strings.TrimSpace(req.Content),
		Type:          req.Type,
		TargetStudent: req.TargetStudent,
	}

	if file != nil {
		if s.uploader == nil {
			return nil, ErrUploadUnavailable
		}
		res, err := s.uploader.UploadFile(ctx, string(req.Subject), file.Name, file.Reader)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", file.Name, err)
		}
		q.Content = res.URL
		storagePath := res.URL
		q.StoragePath = &storagePath
	}
	if q.Content == "" {
		return nil, ErrEmptyQuestion
	}

	err := localcache.Mutate(ctx, s.store, model.CollectionQuestions, func(questions *[]model.Question) error {
		*questions = append(*questions, q)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.record(ctx, actor, ActionQuestionAdd, fmt.Sprintf("Added %s question for %s", q.Subject, q.Room))
	return &q, nil
}

// Delete removes a question. Uploaded files stay on the authority.
func (s *QuestionService) Delete(ctx context.Context, id string) error {
	return localcache.Mutate(ctx, s.store, model.CollectionQuestions, func(questions *[]model.Question) error {
		for i := range *questions {
			if (*questions)[i].ID == id {
				*questions = append((*questions)[:i], (*questions)[i+1:]...)
				return nil
			}
		}
		return ErrQuestionNotFound
	})
}
