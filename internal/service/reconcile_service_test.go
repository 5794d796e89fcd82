package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/repository"
)

func newReconciler(t *testing.T) (*ReconcileService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewReconcileService(store, nil, 100, zerolog.Nop()), store
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func pulled[T any](t *testing.T, s *ReconcileService, c model.Collection) (T, model.Envelope) {
	t.Helper()
	res, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	env := res.Collections[c]
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s: %v", c, err)
	}
	return v, env
}

func TestApplyUnknownCollection(t *testing.T) {
	s, _ := newReconciler(t)
	err := s.Apply(context.Background(), model.Collection("grades"), json.RawMessage(`[]`), 1, "d")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("err = %v, want ErrUnknownCollection", err)
	}
}

func TestApplyUsersReplacesMembership(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	users := []model.User{
		{ID: "u1", Username: "a", Name: "A", Role: model.RolePenguji},
		{ID: "u2", Username: "b", Name: "B", Role: model.RolePenguji},
	}
	if err := s.Apply(ctx, model.CollectionUsers, mustJSON(t, users), 10, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(ctx, model.CollectionUsers, mustJSON(t, users[1:]), 20, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, env := pulled[[]model.User](t, s, model.CollectionUsers)
	if len(got) != 1 || got[0].ID != "u2" {
		t.Fatalf("users = %+v, want only u2", got)
	}
	if env.UpdatedAt != 20 {
		t.Fatalf("updated_at = %d, want 20", env.UpdatedAt)
	}
}

func TestApplyRewardsFirstWins(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	first := []model.ExaminerReward{{ID: "r1", ExaminerID: "u1", ExaminerName: "A", QRCode: "RW-1"}}
	second := []model.ExaminerReward{{ID: "r2", ExaminerID: "u1", ExaminerName: "A", QRCode: "RW-2"}}

	if err := s.Apply(ctx, model.CollectionExaminerRewards, mustJSON(t, first), 10, "d1"); err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	if err := s.Apply(ctx, model.CollectionExaminerRewards, mustJSON(t, second), 20, "d2"); err != nil {
		t.Fatalf("Apply second: %v", err)
	}

	got, _ := pulled[[]model.ExaminerReward](t, s, model.CollectionExaminerRewards)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("rewards = %+v, want only r1", got)
	}
}

func TestApplyRewardClaimSticks(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	r := model.ExaminerReward{ID: "r1", ExaminerID: "u1", QRCode: "RW-1"}
	s.Apply(ctx, model.CollectionExaminerRewards, mustJSON(t, []model.ExaminerReward{r}), 10, "d1")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.Claimed, r.ClaimedAt = true, &now
	if err := s.Apply(ctx, model.CollectionExaminerRewards, mustJSON(t, []model.ExaminerReward{r}), 20, "d1"); err != nil {
		t.Fatalf("Apply claim: %v", err)
	}

	got, _ := pulled[[]model.ExaminerReward](t, s, model.CollectionExaminerRewards)
	if len(got) != 1 || !got[0].Claimed {
		t.Fatalf("rewards = %+v, want r1 claimed", got)
	}
}

func TestApplyActivityNeverDeletesByOmission(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	a := model.ActivityEntry{ID: "a1", Action: ActionLogin, Details: "one", Timestamp: ts}
	b := model.ActivityEntry{ID: "a2", Action: ActionLogin, Details: "two", Timestamp: ts.Add(time.Second)}

	s.Apply(ctx, model.CollectionActivityLog, mustJSON(t, []model.ActivityEntry{a}), 10, "d1")
	s.Apply(ctx, model.CollectionActivityLog, mustJSON(t, []model.ActivityEntry{b}), 20, "d2")

	got, _ := pulled[[]model.ActivityEntry](t, s, model.CollectionActivityLog)
	if len(got) != 2 || got[0].ID != "a2" || got[1].ID != "a1" {
		t.Fatalf("activity = %+v, want a2 then a1", got)
	}
	if got[0].UserID != model.SystemActor.UserID {
		t.Fatalf("missing actor stored as %q", got[0].UserID)
	}
}

func TestApplySettingsMergeAndKeepNewest(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	if err := s.Apply(ctx, model.CollectionSettings, json.RawMessage(`{"darkMode":true}`), 50, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.ApplySetting(ctx, "soundEnabled", json.RawMessage(`false`), 40, "d2"); err != nil {
		t.Fatalf("ApplySetting: %v", err)
	}

	got, env := pulled[model.Settings](t, s, model.CollectionSettings)
	if string(got["darkMode"]) != "true" || string(got["soundEnabled"]) != "false" {
		t.Fatalf("settings = %v", got)
	}
	if env.UpdatedAt != 50 {
		t.Fatalf("updated_at = %d, want 50", env.UpdatedAt)
	}

	var rerr *ReconcileError
	if err := s.ApplySetting(ctx, "  ", json.RawMessage(`1`), 60, "d1"); !errors.As(err, &rerr) {
		t.Fatalf("empty key: err = %v, want ReconcileError", err)
	}
}

func TestApplyClassesTrimsBlankNames(t *testing.T) {
	s, _ := newReconciler(t)
	if err := s.Apply(context.Background(), model.CollectionClasses, json.RawMessage(`["7A"," ","7B "]`), 10, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := pulled[[]string](t, s, model.CollectionClasses)
	if len(got) != 2 || got[0] != "7A" || got[1] != "7B" {
		t.Fatalf("classes = %v", got)
	}
}

func TestApplyMalformedPayloadRollsBack(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	s.Apply(ctx, model.CollectionQuestions, mustJSON(t, []model.Question{{ID: "q1", Room: "7A", Subject: model.SubjectEnglish, Content: "x"}}), 10, "d1")

	var rerr *ReconcileError
	err := s.Apply(ctx, model.CollectionQuestions, json.RawMessage(`{"id":"q2"}`), 20, "d1")
	if !errors.As(err, &rerr) || rerr.Collection != model.CollectionQuestions {
		t.Fatalf("err = %v, want ReconcileError for questions", err)
	}

	got, env := pulled[[]model.Question](t, s, model.CollectionQuestions)
	if len(got) != 1 || env.UpdatedAt != 10 {
		t.Fatalf("questions = %+v at %d, want q1 at 10", got, env.UpdatedAt)
	}
}

func TestApplyNullPayloadIsRejected(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	students := []model.Student{
		{ID: "s1", Name: "Ani", Class: "7A", QRCode: "QR1"},
		{ID: "s2", Name: "Budi", Class: "7A", QRCode: "QR2"},
	}
	if err := s.Apply(ctx, model.CollectionStudents, mustJSON(t, students), 10, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, c := range []model.Collection{model.CollectionStudents, model.CollectionUsers, model.CollectionQuestions, model.CollectionClasses} {
		for _, payload := range []string{`null`, ` null `, `"x"`} {
			var rerr *ReconcileError
			err := s.Apply(ctx, c, json.RawMessage(payload), 20, "d1")
			if !errors.As(err, &rerr) || rerr.Collection != c {
				t.Fatalf("%s %s: err = %v, want ReconcileError", c, payload, err)
			}
		}
	}

	got, env := pulled[[]model.Student](t, s, model.CollectionStudents)
	if len(got) != 2 || env.UpdatedAt != 10 {
		t.Fatalf("students = %d at %d, want 2 at 10", len(got), env.UpdatedAt)
	}
}

func TestApplyEmptyArrayClears(t *testing.T) {
	s, _ := newReconciler(t)
	ctx := context.Background()

	s.Apply(ctx, model.CollectionStudents, mustJSON(t, []model.Student{{ID: "s1", Name: "Ani", Class: "7A", QRCode: "QR1"}}), 10, "d1")
	if err := s.Apply(ctx, model.CollectionStudents, json.RawMessage(` [] `), 20, "d1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := pulled[[]model.Student](t, s, model.CollectionStudents)
	if len(got) != 0 {
		t.Fatalf("students = %+v, want none", got)
	}
}

func TestPullReportsSeededDataAtZero(t *testing.T) {
	s, store := newReconciler(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.EnsureClass(ctx, "7A"); err != nil {
		t.Fatalf("EnsureClass: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, env := pulled[[]string](t, s, model.CollectionClasses)
	if !env.Exists || env.UpdatedAt != 0 {
		t.Fatalf("seeded classes env = %+v, want exists at 0", env)
	}
	_, students := pulled[[]model.Student](t, s, model.CollectionStudents)
	if students.Exists {
		t.Fatalf("empty students reported as existing")
	}
}
