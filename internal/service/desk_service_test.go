package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

type desk struct {
	store    *localcache.Store
	auth     *AuthService
	activity *ActivityService
	classes  *ClassService
	students *StudentService
	users    *UserService
	rewards  *RewardService
	settings *SettingService
	stats    *StatsService
	backup   *BackupService
}

func newDesk(t *testing.T) *desk {
	t.Helper()
	log := zerolog.Nop()
	store, err := localcache.Open(context.Background(), localcache.NewMemoryPersister(), localcache.Options{}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d := &desk{store: store, auth: NewAuthService("desk-test-secret", 4)}
	d.activity = NewActivityService(store, DefaultActivityLimit, log)
	d.classes = NewClassService(store, log)
	d.students = NewStudentService(store, d.classes, d.activity, log)
	d.users = NewUserService(store, d.auth, d.activity, log)
	d.rewards = NewRewardService(store, d.users, d.activity, log)
	d.settings = NewSettingService(store, log)
	d.stats = NewStatsService(store, d.users)
	d.backup = NewBackupService(store, d.activity, log)
	return d
}

var admin = model.Actor{UserID: model.AdminUserID, UserName: "Administrator"}

func (d *desk) examiner(t *testing.T, username string, subject model.Subject) *model.User {
	t.Helper()
	u, err := d.users.Create(context.Background(), admin, model.CreateUserRequest{
		Username: username,
		Password: "secret",
		Name:     strings.ToUpper(username),
		Role:     model.RolePenguji,
		Subject:  &subject,
	})
	if err != nil {
		t.Fatalf("create examiner: %v", err)
	}
	return u
}

func ptr[T any](v T) *T { return &v }

// ─── Users & login ─────────────────────────────────────────────────────────

func TestLoginUpgradesPlaintextPassword(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	res, err := d.users.Login(ctx, "admin", "exot2026")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Session.UserID != model.AdminUserID || res.Session.Role != model.RolePanitiaUtama {
		t.Fatalf("session = %+v", res.Session)
	}

	claims, err := d.auth.ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != TokenTypeSession || claims.UserID != model.AdminUserID {
		t.Fatalf("claims = %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("session lifetime = %v, want 15m", got)
	}

	stored, err := d.users.GetByID(ctx, model.AdminUserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !IsHashed(stored.Password) {
		t.Fatalf("password still plaintext after login")
	}

	if _, err := d.users.Login(ctx, "admin", "exot2026"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := d.users.Login(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := d.users.Login(ctx, "nobody", "exot2026"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSessionTimeoutSetting(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	if _, err := d.settings.Set(ctx, model.SettingSessionTimeout, json.RawMessage(`60`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	res, err := d.users.Login(ctx, "admin", "exot2026")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := d.auth.ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("session lifetime = %v, want 1h", got)
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	d := newDesk(t)
	d.examiner(t, "rina", model.SubjectEnglish)

	_, err := d.users.Create(context.Background(), admin, model.CreateUserRequest{
		Username: "rina", Password: "other", Name: "Rina 2", Role: model.RolePenguji,
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestMainAdministratorCannotBeDeleted(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	if err := d.users.Delete(ctx, admin, model.AdminUserID); !errors.Is(err, ErrProtectedUser) {
		t.Fatalf("err = %v, want ErrProtectedUser", err)
	}
	u := d.examiner(t, "budi", model.SubjectArabic)
	if err := d.users.Delete(ctx, admin, u.ID); err != nil {
		t.Fatalf("Delete examiner: %v", err)
	}
	if ok, _ := d.users.UserExists(ctx, u.ID); ok {
		t.Fatalf("deleted examiner still exists")
	}
	if err := d.users.Delete(ctx, admin, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("second delete: err = %v, want ErrUserNotFound", err)
	}
}

func TestChangePassword(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	if err := d.users.ChangePassword(ctx, admin, model.AdminUserID, "bad", "newpass"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("err = %v, want ErrWrongPassword", err)
	}
	if err := d.users.ChangePassword(ctx, admin, model.AdminUserID, "exot2026", "abc"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("err = %v, want ErrPasswordTooShort", err)
	}
	if err := d.users.ChangePassword(ctx, admin, model.AdminUserID, "exot2026", "newpass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := d.users.Login(ctx, "admin", "newpass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestExaminersFilterBySubject(t *testing.T) {
	d := newDesk(t)
	d.examiner(t, "a", model.SubjectEnglish)
	d.examiner(t, "b", model.SubjectArabic)

	all, err := d.users.Examiners(context.Background(), "")
	if err != nil {
		t.Fatalf("Examiners: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d examiners, want 2", len(all))
	}
	english, _ := d.users.Examiners(context.Background(), model.SubjectEnglish)
	if len(english) != 1 || english[0].Username != "a" {
		t.Fatalf("english examiners = %+v", english)
	}
}

// ─── Rewards ───────────────────────────────────────────────────────────────

func TestRewardGeneratedOncePerExaminer(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	u := d.examiner(t, "rina", model.SubjectEnglish)

	r, err := d.rewards.Generate(ctx, admin, u.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(r.QRCode, "RW-") || r.ExaminerName != "RINA" || r.Claimed {
		t.Fatalf("reward = %+v", r)
	}
	if _, err := d.rewards.Generate(ctx, admin, u.ID); !errors.Is(err, ErrRewardExists) {
		t.Fatalf("second Generate: err = %v, want ErrRewardExists", err)
	}
	if _, err := d.rewards.Generate(ctx, admin, "ghost"); !errors.Is(err, ErrExaminerNotFound) {
		t.Fatalf("unknown examiner: err = %v, want ErrExaminerNotFound", err)
	}

	list, _ := d.rewards.List(ctx)
	if len(list) != 1 {
		t.Fatalf("got %d rewards, want 1", len(list))
	}
}

func TestClaimUnknownCodeLeavesRewardsUntouched(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	u := d.examiner(t, "rina", model.SubjectEnglish)
	r, err := d.rewards.Generate(ctx, admin, u.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	before, _ := d.store.Read(ctx, model.CollectionExaminerRewards)
	if _, err := d.rewards.Claim(ctx, admin, "RW-NOPE0000"); !errors.Is(err, ErrInvalidRewardQR) {
		t.Fatalf("err = %v, want ErrInvalidRewardQR", err)
	}
	after, _ := d.store.Read(ctx, model.CollectionExaminerRewards)
	if !bytes.Equal(before.Data, after.Data) || before.UpdatedAt != after.UpdatedAt {
		t.Fatalf("rewards changed by an invalid claim")
	}

	claimed, err := d.rewards.Claim(ctx, admin, r.QRCode)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed.Claimed || claimed.ClaimedAt == nil {
		t.Fatalf("claimed = %+v", claimed)
	}
	if _, err := d.rewards.Claim(ctx, admin, r.ID); !errors.Is(err, ErrRewardClaimed) {
		t.Fatalf("second claim: err = %v, want ErrRewardClaimed", err)
	}
}

// ─── Students & classes ────────────────────────────────────────────────────

func TestCreateStudentRegistersClass(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	st, err := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: " Ani ", Class: "10Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st.Name != "Ani" || st.Type != model.StudentTypeSiswa || st.QRCode == "" {
		t.Fatalf("student = %+v", st)
	}

	classes, _ := d.classes.List(ctx)
	found := false
	for _, c := range classes {
		if c == "10Z" {
			found = true
		}
	}
	if !found {
		t.Fatalf("class 10Z missing from %v", classes)
	}

	byQR, err := d.students.Get(ctx, st.QRCode)
	if err != nil || byQR.ID != st.ID {
		t.Fatalf("Get by qr = %+v, %v", byQR, err)
	}

	entries, _, _ := d.activity.List(ctx, 1, 10)
	if len(entries) == 0 || entries[0].Action != ActionStudentAdd {
		t.Fatalf("activity = %+v", entries)
	}
}

func TestImportGivesUniqueCodes(t *testing.T) {
	d := newDesk(t)
	reqs := make([]model.CreateStudentRequest, 40)
	for i := range reqs {
		reqs[i] = model.CreateStudentRequest{Name: "S", Class: "7A", Type: model.StudentTypeGuru}
	}
	created, err := d.students.Import(context.Background(), admin, reqs)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	seen := map[string]bool{}
	for _, s := range created {
		if seen[s.QRCode] {
			t.Fatalf("duplicate qr %s", s.QRCode)
		}
		seen[s.QRCode] = true
		if s.Type != model.StudentTypeGuru {
			t.Fatalf("type = %s, want guru", s.Type)
		}
	}
}

func TestScoreRecordsExaminer(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	st, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "Ani", Class: "7A"})
	examiner := model.Actor{UserID: "u-eng", UserName: "Rina"}

	got, err := d.students.UpdateScore(ctx, examiner, st.ID, model.SubjectEnglish, ptr(80.0))
	if err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if got.Scores.English == nil || *got.Scores.English != 80 || got.ScoredBy.English == nil || *got.ScoredBy.English != "u-eng" {
		t.Fatalf("scores = %+v by %+v", got.Scores, got.ScoredBy)
	}

	got, err = d.students.UpdateScore(ctx, examiner, st.QRCode, model.SubjectEnglish, nil)
	if err != nil {
		t.Fatalf("clear score: %v", err)
	}
	if got.Scores.English != nil || got.ScoredBy.English != nil {
		t.Fatalf("score not cleared: %+v by %+v", got.Scores, got.ScoredBy)
	}

	if _, err := d.students.UpdateScore(ctx, examiner, "missing", model.SubjectEnglish, ptr(1.0)); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("err = %v, want ErrStudentNotFound", err)
	}
}

func TestRenameClassMovesStudents(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	st, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "Ani", Class: "7A"})

	classes, err := d.classes.Rename(ctx, "7A", "7X")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if classes[0] != "7X" {
		t.Fatalf("classes = %v, want 7X in place of 7A", classes)
	}
	moved, _ := d.students.Get(ctx, st.ID)
	if moved.Class != "7X" {
		t.Fatalf("student class = %s, want 7X", moved.Class)
	}

	if _, err := d.classes.Rename(ctx, "nope", "x"); !errors.Is(err, ErrClassNotFound) {
		t.Fatalf("err = %v, want ErrClassNotFound", err)
	}
	if _, err := d.classes.Rename(ctx, "7X", "7B"); !errors.Is(err, ErrClassExists) {
		t.Fatalf("err = %v, want ErrClassExists", err)
	}
}

func TestAddExistingClassIsNoop(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	before, _ := d.store.Read(ctx, model.CollectionClasses)

	if _, err := d.classes.Add(ctx, "7A"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	after, _ := d.store.Read(ctx, model.CollectionClasses)
	if before.UpdatedAt != after.UpdatedAt {
		t.Fatalf("re-adding a class wrote the collection")
	}
}

// ─── Stats ─────────────────────────────────────────────────────────────────

func TestStatistics(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	ex := model.Actor{UserID: "u1", UserName: "E"}

	a, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "A", Class: "7A"})
	b, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "B", Class: "7A"})
	d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "C", Class: "7B", Type: model.StudentTypeGuru})

	for _, id := range []string{a.ID, b.ID} {
		if _, err := d.students.MarkAttendance(ctx, admin, id); err != nil {
			t.Fatalf("MarkAttendance: %v", err)
		}
	}
	for _, subj := range model.Subjects {
		d.students.UpdateScore(ctx, ex, a.ID, subj, ptr(70.0))
		d.students.UpdateScore(ctx, ex, b.ID, subj, ptr(90.0))
	}
	d.students.UpdateScore(ctx, ex, a.ID, model.SubjectEnglish, ptr(71.0))

	stats, err := d.stats.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	want := model.Statistics{Total: 3, Siswa: 2, Guru: 1, Attended: 2, Pending: 1, Completed: 2, InProgress: 0}
	if *stats != want {
		t.Fatalf("stats = %+v, want %+v", *stats, want)
	}

	ranking, _ := d.stats.Ranking(ctx, "")
	if len(ranking) != 2 || ranking[0].ID != b.ID || ranking[0].Rank != 1 || ranking[1].Rank != 2 {
		t.Fatalf("ranking = %+v", ranking)
	}

	subjects, _ := d.stats.SubjectStats(ctx)
	eng := subjects[model.SubjectEnglish]
	if eng.Count != 2 || eng.Min != 71 || eng.Max != 90 || eng.Avg != 80.5 {
		t.Fatalf("english stats = %+v", eng)
	}

	rooms, _ := d.stats.RoomStats(ctx)
	for _, r := range rooms {
		if r.Room == "7A" && (r.Total != 2 || r.Attended != 2 || r.Completed != 2) {
			t.Fatalf("room 7A = %+v", r)
		}
		if r.Room == "7B" && (r.Total != 1 || r.Attended != 0) {
			t.Fatalf("room 7B = %+v", r)
		}
	}
}

func TestExaminerProgress(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	u := d.examiner(t, "rina", model.SubjectEnglish)
	if _, err := d.users.Update(ctx, u.ID, model.UpdateUserRequest{AssignedClasses: &[]string{"7A"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	a, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "A", Class: "7A"})
	b, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "B", Class: "7A"})
	c, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "C", Class: "7B"})
	for _, id := range []string{a.ID, b.ID, c.ID} {
		d.students.MarkAttendance(ctx, admin, id)
	}
	d.students.UpdateScore(ctx, model.Actor{UserID: u.ID}, a.ID, model.SubjectEnglish, ptr(88.0))

	p, err := d.stats.ExaminerProgress(ctx, u.ID, model.SubjectEnglish)
	if err != nil {
		t.Fatalf("ExaminerProgress: %v", err)
	}
	want := model.ExaminerProgress{Total: 2, Scored: 1, Remaining: 1, Complete: false}
	if *p != want {
		t.Fatalf("progress = %+v, want %+v", *p, want)
	}
}

// ─── Activity, settings, backup ────────────────────────────────────────────

func TestActivityLogIsBounded(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	activity := NewActivityService(d.store, 3, zerolog.Nop())

	for _, details := range []string{"1", "2", "3", "4", "5"} {
		if err := activity.Log(ctx, model.Actor{}, ActionAttendance, details); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	entries, total, err := activity.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || entries[0].Details != "5" || entries[2].Details != "3" {
		t.Fatalf("entries = %+v (total %d)", entries, total)
	}
	if entries[0].UserID != model.SystemActor.UserID {
		t.Fatalf("zero actor recorded as %q", entries[0].UserID)
	}

	page2, _, _ := activity.List(ctx, 2, 2)
	if len(page2) != 1 || page2[0].Details != "3" {
		t.Fatalf("page 2 = %+v", page2)
	}
}

func TestToggleSetting(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	on, err := d.settings.Toggle(ctx, model.SettingDarkMode, false)
	if err != nil || !on {
		t.Fatalf("Toggle = %v, %v; want true", on, err)
	}
	off, _ := d.settings.Toggle(ctx, model.SettingDarkMode, false)
	if off {
		t.Fatalf("second Toggle = true, want false")
	}

	if _, err := d.settings.Save(ctx, model.Settings{"x": json.RawMessage(`{bad`)}); !errors.Is(err, ErrInvalidSettingValue) {
		t.Fatalf("err = %v, want ErrInvalidSettingValue", err)
	}
}

func TestBackupRestore(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	st, _ := d.students.Create(ctx, admin, model.CreateStudentRequest{Name: "Ani", Class: "7A"})

	backup, err := d.backup.Export(ctx, admin)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	raw, err := json.Marshal(backup)
	if err != nil {
		t.Fatalf("marshal backup: %v", err)
	}

	if err := d.students.Delete(ctx, admin, st.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.activity.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	createdAt, err := d.backup.Restore(ctx, admin, raw)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if createdAt != backup.CreatedAt {
		t.Fatalf("createdAt = %q, want %q", createdAt, backup.CreatedAt)
	}
	if _, err := d.students.Get(ctx, st.ID); err != nil {
		t.Fatalf("student not restored: %v", err)
	}

	// Only the restore itself is logged; exported entries stay out.
	entries, total, _ := d.activity.List(ctx, 1, 10)
	if total != 1 || entries[0].Action != ActionBackupRestore {
		t.Fatalf("activity after restore = %+v", entries)
	}

	if _, err := d.backup.Restore(ctx, admin, []byte(`{"version":"1.0"}`)); !errors.Is(err, ErrInvalidBackup) {
		t.Fatalf("err = %v, want ErrInvalidBackup", err)
	}
	if _, err := d.backup.Restore(ctx, admin, []byte(`{"data":{"students":{"not":"a list"}}}`)); !errors.Is(err, ErrInvalidBackup) {
		t.Fatalf("err = %v, want ErrInvalidBackup", err)
	}
}
