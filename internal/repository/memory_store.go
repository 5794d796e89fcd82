package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/stemsi/exot-sync/internal/model"
)

// MemoryStore keeps the collections in process memory. Transactions are
// serialized: Begin holds the store until Commit or Rollback.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	students  map[string]model.Student
	users     map[string]model.User
	classes   map[string]struct{}
	questions map[string]model.Question
	activity  map[string]model.ActivityEntry
	rewards   map[string]model.ExaminerReward
	settings  map[string]json.RawMessage
	stamps    map[model.Collection]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() memState {
	return memState{
		students:  map[string]model.Student{},
		users:     map[string]model.User{},
		classes:   map[string]struct{}{},
		questions: map[string]model.Question{},
		activity:  map[string]model.ActivityEntry{},
		rewards:   map[string]model.ExaminerReward{},
		settings:  map[string]json.RawMessage{},
		stamps:    map[model.Collection]int64{},
	}
}

func (st memState) clone() memState {
	c := newMemState()
	for k, v := range st.students {
		c.students[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k := range st.classes {
		c.classes[k] = struct{}{}
	}
	for k, v := range st.questions {
		c.questions[k] = v
	}
	for k, v := range st.activity {
		c.activity[k] = v
	}
	for k, v := range st.rewards {
		c.rewards[k] = v
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	for k, v := range st.stamps {
		c.stamps[k] = v
	}
	return c
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, work: s.state.clone()}, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, activityLimit int) (*model.Dataset, map[model.Collection]int64, error) {
	s.mu.Lock()
	st := s.state.clone()
	s.mu.Unlock()

	ds := &model.Dataset{Settings: model.Settings{}}
	for _, v := range st.students {
		ds.Students = append(ds.Students, v)
	}
	sort.Slice(ds.Students, func(i, j int) bool {
		a, b := ds.Students[i], ds.Students[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, v := range st.users {
		ds.Users = append(ds.Users, v)
	}
	sort.Slice(ds.Users, func(i, j int) bool { return ds.Users[i].ID < ds.Users[j].ID })
	for k := range st.classes {
		ds.Classes = append(ds.Classes, k)
	}
	sort.Strings(ds.Classes)
	for _, v := range st.questions {
		ds.Questions = append(ds.Questions, v)
	}
	sort.Slice(ds.Questions, func(i, j int) bool { return ds.Questions[i].ID < ds.Questions[j].ID })
	for _, v := range st.activity {
		ds.ActivityLog = append(ds.ActivityLog, v)
	}
	sort.Slice(ds.ActivityLog, func(i, j int) bool {
		a, b := ds.ActivityLog[i], ds.ActivityLog[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
	if activityLimit > 0 && len(ds.ActivityLog) > activityLimit {
		ds.ActivityLog = ds.ActivityLog[:activityLimit]
	}
	for _, v := range st.rewards {
		ds.ExaminerRewards = append(ds.ExaminerRewards, v)
	}
	sort.Slice(ds.ExaminerRewards, func(i, j int) bool { return ds.ExaminerRewards[i].ID < ds.ExaminerRewards[j].ID })
	for k, v := range st.settings {
		ds.Settings[k] = v
	}
	return ds, st.stamps, nil
}

// TrimActivity keeps only the newest keep entries.
func (s *MemoryStore) TrimActivity(_ context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.ActivityEntry, 0, len(s.state.activity))
	for _, e := range s.state.activity {
		entries = append(entries, e)
	}
	if len(entries) <= keep {
		return 0, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	for _, e := range entries[keep:] {
		delete(s.state.activity, e.ID)
	}
	return int64(len(entries) - keep), nil
}

type memTx struct {
	store *MemoryStore
	work  memState
	done  bool
}

func (t *memTx) DeleteAbsent(_ context.Context, c model.Collection, keep []string) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	set := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		set[k] = struct{}{}
	}
	var n int64
	drop := func(key string, del func()) {
		if _, ok := set[key]; !ok {
			del()
			n++
		}
	}
	switch c {
	case model.CollectionStudents:
		for k := range t.work.students {
			drop(k, func() { delete(t.work.students, k) })
		}
	case model.CollectionUsers:
		for k := range t.work.users {
			drop(k, func() { delete(t.work.users, k) })
		}
	case model.CollectionQuestions:
		for k := range t.work.questions {
			drop(k, func() { delete(t.work.questions, k) })
		}
	case model.CollectionClasses:
		for k := range t.work.classes {
			drop(k, func() { delete(t.work.classes, k) })
		}
	default:
		return 0, fmt.Errorf("%s does not replace membership", c)
	}
	return n, nil
}

func (t *memTx) UpsertStudent(_ context.Context, s *model.Student) error {
	if t.done {
		return ErrTxDone
	}
	v := *s
	if cur, ok := t.work.students[s.ID]; ok {
		v.QRCode = cur.QRCode
		v.CreatedAt = cur.CreatedAt
	} else {
		v.CreatedAt = orNow(v.CreatedAt)
	}
	t.work.students[s.ID] = v
	return nil
}

func (t *memTx) UpsertUser(_ context.Context, u *model.User) error {
	if t.done {
		return ErrTxDone
	}
	v := *u
	v.AssignedClasses = nonNilStrings(v.AssignedClasses)
	if cur, ok := t.work.users[u.ID]; ok {
		v.Username = cur.Username
		v.QRCode = cur.QRCode
		v.CreatedAt = cur.CreatedAt
	} else {
		v.CreatedAt = orNow(v.CreatedAt)
	}
	t.work.users[u.ID] = v
	return nil
}

func (t *memTx) UpsertQuestion(_ context.Context, q *model.Question) error {
	if t.done {
		return ErrTxDone
	}
	v := *q
	if cur, ok := t.work.questions[q.ID]; ok {
		v.Type = cur.Type
		v.TargetStudent = cur.TargetStudent
	}
	t.work.questions[q.ID] = v
	return nil
}

func (t *memTx) UpsertActivity(_ context.Context, e *model.ActivityEntry) error {
	if t.done {
		return ErrTxDone
	}
	v := *e
	if cur, ok := t.work.activity[e.ID]; ok {
		cur.Action, cur.Details = v.Action, v.Details
		v = cur
	} else {
		v.Timestamp = orNow(v.Timestamp)
	}
	t.work.activity[e.ID] = v
	return nil
}

func (t *memTx) UpsertReward(_ context.Context, r *model.ExaminerReward) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	for id, cur := range t.work.rewards {
		if cur.ExaminerID == r.ExaminerID && id != r.ID {
			return false, nil
		}
	}
	v := *r
	if cur, ok := t.work.rewards[r.ID]; ok {
		cur.Claimed, cur.ClaimedAt = v.Claimed, v.ClaimedAt
		v = cur
	} else {
		v.GeneratedAt = orNow(v.GeneratedAt)
	}
	t.work.rewards[r.ID] = v
	return true, nil
}

func (t *memTx) EnsureClass(_ context.Context, name string) error {
	if t.done {
		return ErrTxDone
	}
	t.work.classes[name] = struct{}{}
	return nil
}

func (t *memTx) UpsertSetting(_ context.Context, key string, value json.RawMessage) error {
	if t.done {
		return ErrTxDone
	}
	t.work.settings[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (t *memTx) SetUpdatedAt(_ context.Context, c model.Collection, ts int64, keepNewer bool) error {
	if t.done {
		return ErrTxDone
	}
	if keepNewer && t.work.stamps[c] > ts {
		return nil
	}
	t.work.stamps[c] = ts
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.state = t.work
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
