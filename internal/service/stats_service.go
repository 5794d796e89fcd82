package service

import (
	"context"
	"math"
	"slices"

	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

// StatsService computes dashboard figures from the cached collections.
type StatsService struct {
	store *localcache.Store
	users *UserService
}

// NewStatsService creates a new StatsService.
func NewStatsService(store *localcache.Store, users *UserService) *StatsService {
	return &StatsService{store: store, users: users}
}

func (s *StatsService) students(ctx context.Context) ([]model.Student, error) {
	return localcache.Load[[]model.Student](ctx, s.store, model.CollectionStudents)
}

// Statistics returns participant totals.
func (s *StatsService) Statistics(ctx context.Context) (*model.Statistics, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	var out model.Statistics
	out.Total = len(students)
	for _, st := range students {
		if st.Type == model.StudentTypeGuru {
			out.Guru++
		} else {
			out.Siswa++
		}
		if st.Attended {
			out.Attended++
		}
		if st.Scores.Complete() {
			out.Completed++
		}
	}
	out.Pending = out.Total - out.Attended
	out.InProgress = out.Attended - out.Completed
	return &out, nil
}

// Ranking orders fully scored participants by average, best first. Ties
// keep their stored order.
func (s *StatsService) Ranking(ctx context.Context, class string) ([]model.RankedStudent, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	ranked := make([]model.RankedStudent, 0, len(students))
	for _, st := range students {
		if !st.Scores.Complete() || (class != "" && st.Class != class) {
			continue
		}
		ranked = append(ranked, model.RankedStudent{Student: st, Average: st.Scores.Average()})
	}
	slices.SortStableFunc(ranked, func(a, b model.RankedStudent) int {
		switch {
		case a.Average > b.Average:
			return -1
		case a.Average < b.Average:
			return 1
		}
		return 0
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// SubjectStats summarizes each subject over attended participants.
func (s *StatsService) SubjectStats(ctx context.Context) (map[model.Subject]model.SubjectStats, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Subject]model.SubjectStats, len(model.Subjects))
	for _, subj := range model.Subjects {
		var st model.SubjectStats
		var sum float64
		for _, p := range students {
			score := p.Scores.Get(subj)
			if !p.Attended || score == nil {
				continue
			}
			if st.Count == 0 || *score < st.Min {
				st.Min = *score
			}
			if st.Count == 0 || *score > st.Max {
				st.Max = *score
			}
			sum += *score
			st.Count++
		}
		if st.Count > 0 {
			st.Avg = round1(sum / float64(st.Count))
		}
		out[subj] = st
	}
	return out, nil
}

// RoomStats summarizes every class in class-list order.
func (s *StatsService) RoomStats(ctx context.Context) ([]model.RoomStats, error) {
	classes, err := localcache.Load[[]string](ctx, s.store, model.CollectionClasses)
	if err != nil {
		return nil, err
	}
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.RoomStats, 0, len(classes))
	for _, cls := range classes {
		rs := model.RoomStats{Room: cls}
		var sum float64
		for _, st := range students {
			if st.Class != cls {
				continue
			}
			rs.Total++
			if st.Attended {
				rs.Attended++
			}
			if st.Scores.Complete() {
				rs.Completed++
				sum += st.Scores.Average()
			}
		}
		if rs.Completed > 0 {
			rs.AvgScore = round1(sum / float64(rs.Completed))
		}
		out = append(out, rs)
	}
	return out, nil
}

// StudentsForExaminer returns the attended participants an examiner scores:
// those in their assigned classes, or everyone when none are assigned.
func (s *StatsService) StudentsForExaminer(ctx context.Context, examinerID string) ([]model.Student, error) {
	examiner, err := s.users.GetByID(ctx, examinerID)
	if err != nil {
		return nil, err
	}
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Student, 0, len(students))
	for _, st := range students {
		if !st.Attended {
			continue
		}
		if len(examiner.AssignedClasses) > 0 && !slices.Contains(examiner.AssignedClasses, st.Class) {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// ExaminerProgress counts how many of an examiner's participants are scored
// in subject.
func (s *StatsService) ExaminerProgress(ctx context.Context, examinerID string, subject model.Subject) (*model.ExaminerProgress, error) {
	students, err := s.StudentsForExaminer(ctx, examinerID)
	if err != nil {
		return nil, err
	}
	p := model.ExaminerProgress{Total: len(students)}
	for _, st := range students {
		if st.Scores.Get(subject) != nil {
			p.Scored++
		}
	}
	p.Remaining = p.Total - p.Scored
	p.Complete = p.Total > 0 && p.Scored == p.Total
	return &p, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
