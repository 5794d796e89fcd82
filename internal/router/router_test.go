package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/handler"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/remote"
	"github.com/stemsi/exot-sync/internal/repository"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

const testSecret = "router-test-secret"

type authority struct {
	srv   *httptest.Server
	store *repository.MemoryStore
	auth  *service.AuthService
	token string
}

func newAuthority(t *testing.T) *authority {
	t.Helper()
	log := zerolog.Nop()
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		UploadDir:      t.TempDir(),
		FileStore:      "local",
		MaxUploadBytes: 1 << 20,
	}

	auth := service.NewAuthService(testSecret, 4)
	store := repository.NewMemoryStore()
	reconcile := service.NewReconcileService(store, nil, 500, log)
	media := service.NewMediaService(service.NewLocalFileStore(cfg.UploadDir, "/uploads"), cfg.MaxUploadBytes, log)

	r := SetupRouter(auth, &Handlers{
		Sync:   handler.NewSyncHandler(reconcile, log),
		Media:  handler.NewMediaHandler(media, cfg.MaxUploadBytes),
		Health: handler.NewHealthHandler(nil),
	}, cfg)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := auth.GenerateDeviceToken("desk-test", time.Hour)
	if err != nil {
		t.Fatalf("GenerateDeviceToken: %v", err)
	}
	return &authority{srv: srv, store: store, auth: auth, token: token}
}

func (a *authority) adapter(token string) *remote.HTTPAdapter {
	return remote.NewHTTPAdapter(remote.HTTPOptions{
		BaseURL: a.srv.URL,
		Token:   token,
		Origin:  "desk-test",
		Timeout: 5 * time.Second,
	}, zerolog.Nop())
}

func ptr[T any](v T) *T { return &v }

// makeStudents mixes scored and unscored subjects. A subject has a score
// exactly when it has an examiner.
func makeStudents(n int) []model.Student {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]model.Student, n)
	for i := range out {
		st := model.Student{
			ID:        fmt.Sprintf("stu-%03d", i),
			Name:      fmt.Sprintf("Student %d", i),
			Class:     "X-1",
			Type:      model.StudentTypeSiswa,
			QRCode:    fmt.Sprintf("QR%03d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if i%3 != 0 {
			st.Attended = true
			st.AttendedAt = ptr(base.Add(time.Hour + time.Duration(i)*time.Minute))
			st.Scores.English = ptr(float64(60 + i%40))
			st.ScoredBy.English = ptr("u-eng")
		}
		if i%2 == 0 {
			st.Scores.Arabic = ptr(72.5)
			st.ScoredBy.Arabic = ptr("u-arb")
		}
		if i%5 == 0 {
			st.Scores.Alquran = ptr(0.0)
			st.ScoredBy.Alquran = ptr("u-alq")
		}
		out[i] = st
	}
	return out
}

func sameFloat(a, b *float64) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func sameString(a, b *string) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func sameTime(a, b *time.Time) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && a.Equal(*b))
}

func checkStudentDetails(t *testing.T, i int, got, want model.Student) {
	t.Helper()
	if got.Attended != want.Attended || !sameTime(got.AttendedAt, want.AttendedAt) {
		t.Fatalf("student %d attendance = %v/%v, want %v/%v", i, got.Attended, got.AttendedAt, want.Attended, want.AttendedAt)
	}
	for _, subj := range []model.Subject{model.SubjectEnglish, model.SubjectArabic, model.SubjectAlquran} {
		if !sameFloat(got.Scores.Get(subj), want.Scores.Get(subj)) {
			t.Fatalf("student %d %s score = %v, want %v", i, subj, got.Scores.Get(subj), want.Scores.Get(subj))
		}
	}
	if !sameString(got.ScoredBy.English, want.ScoredBy.English) ||
		!sameString(got.ScoredBy.Arabic, want.ScoredBy.Arabic) ||
		!sameString(got.ScoredBy.Alquran, want.ScoredBy.Alquran) {
		t.Fatalf("student %d scoredBy = %+v, want %+v", i, got.ScoredBy, want.ScoredBy)
	}
}

func pushStudents(t *testing.T, a *remote.HTTPAdapter, students []model.Student, ts int64) {
	t.Helper()
	payload, err := json.Marshal(students)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	err = a.PushCollection(context.Background(), model.Envelope{
		Collection: model.CollectionStudents,
		Payload:    payload,
		UpdatedAt:  ts,
	})
	if err != nil {
		t.Fatalf("PushCollection: %v", err)
	}
}

func pullStudents(t *testing.T, a *remote.HTTPAdapter) (model.Envelope, []model.Student) {
	t.Helper()
	envs, err := a.PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	env := envs[model.CollectionStudents]
	var got []model.Student
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("decode students: %v", err)
	}
	return env, got
}

func TestSyncRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			auth := newAuthority(t)
			adapter := auth.adapter(auth.token)

			want := makeStudents(n)
			ts := int64(1_700_000_000_000 + n)
			pushStudents(t, adapter, want, ts)

			env, got := pullStudents(t, adapter)
			if !env.Exists {
				t.Fatalf("students should exist after a push")
			}
			if env.UpdatedAt != ts {
				t.Fatalf("updated_at = %d, want %d", env.UpdatedAt, ts)
			}
			if len(got) != n {
				t.Fatalf("got %d students, want %d", len(got), n)
			}
			for i := range want {
				if got[i].ID != want[i].ID || got[i].QRCode != want[i].QRCode || got[i].Name != want[i].Name {
					t.Fatalf("student %d = %+v, want %+v", i, got[i], want[i])
				}
				if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
					t.Fatalf("student %d createdAt = %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
				}
				checkStudentDetails(t, i, got[i], want[i])
			}
		})
	}
}

func TestEmptyPushClearsCollection(t *testing.T) {
	auth := newAuthority(t)
	adapter := auth.adapter(auth.token)

	pushStudents(t, adapter, makeStudents(3), 10)
	pushStudents(t, adapter, []model.Student{}, 20)

	env, got := pullStudents(t, adapter)
	if len(got) != 0 {
		t.Fatalf("got %d students after empty push, want 0", len(got))
	}
	if !env.Exists || env.UpdatedAt != 20 {
		t.Fatalf("env = %+v, want exists at 20", env)
	}
}

func TestPushImpliesClass(t *testing.T) {
	auth := newAuthority(t)
	adapter := auth.adapter(auth.token)

	pushStudents(t, adapter, makeStudents(1), 10)

	envs, err := adapter.PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	var classes []string
	if err := json.Unmarshal(envs[model.CollectionClasses].Payload, &classes); err != nil {
		t.Fatalf("decode classes: %v", err)
	}
	if len(classes) != 1 || classes[0] != "X-1" {
		t.Fatalf("classes = %v, want [X-1]", classes)
	}
}

func TestUnseenCollectionsDoNotExist(t *testing.T) {
	auth := newAuthority(t)
	envs, err := auth.adapter(auth.token).PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	for _, c := range model.Collections {
		if envs[c].Exists {
			t.Fatalf("%s exists on an empty authority", c)
		}
	}
}

func TestPushSettingMergesKey(t *testing.T) {
	auth := newAuthority(t)
	adapter := auth.adapter(auth.token)
	ctx := context.Background()

	if err := adapter.PushKeyedValue(ctx, "darkMode", json.RawMessage(`true`), 5); err != nil {
		t.Fatalf("PushKeyedValue: %v", err)
	}
	if err := adapter.PushKeyedValue(ctx, "sessionTimeout", json.RawMessage(`30`), 3); err != nil {
		t.Fatalf("PushKeyedValue: %v", err)
	}

	envs, err := adapter.PullAll(ctx)
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	env := envs[model.CollectionSettings]
	var settings model.Settings
	if err := json.Unmarshal(env.Payload, &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if string(settings["darkMode"]) != "true" || string(settings["sessionTimeout"]) != "30" {
		t.Fatalf("settings = %v", settings)
	}
	if env.UpdatedAt != 5 {
		t.Fatalf("settings updated_at = %d, want 5 (older key must not rewind)", env.UpdatedAt)
	}
}

func TestRejectedPushRollsBack(t *testing.T) {
	auth := newAuthority(t)
	adapter := auth.adapter(auth.token)

	pushStudents(t, adapter, makeStudents(2), 10)

	bad := makeStudents(3)
	bad[2].ID = ""
	payload, _ := json.Marshal(bad)
	err := adapter.PushCollection(context.Background(), model.Envelope{
		Collection: model.CollectionStudents,
		Payload:    payload,
		UpdatedAt:  20,
	})
	if !syncerr.Is(err, syncerr.KindAuthorityRejected) {
		t.Fatalf("err = %v, want authority_rejected", err)
	}

	env, got := pullStudents(t, adapter)
	if len(got) != 2 || env.UpdatedAt != 10 {
		t.Fatalf("after rejected push: %d students at %d, want 2 at 10", len(got), env.UpdatedAt)
	}
}

func TestSyncRequiresDeviceToken(t *testing.T) {
	auth := newAuthority(t)

	_, err := auth.adapter("").PullAll(context.Background())
	if !syncerr.Is(err, syncerr.KindAuthorityRejected) {
		t.Fatalf("no token: err = %v, want authority_rejected", err)
	}

	session, err := auth.auth.GenerateSessionToken(&model.User{ID: "u1", Name: "A", Role: model.RolePenguji}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	_, err = auth.adapter(session).PullAll(context.Background())
	if !syncerr.Is(err, syncerr.KindAuthorityRejected) {
		t.Fatalf("session token: err = %v, want authority_rejected", err)
	}
}

func TestUnknownCollection(t *testing.T) {
	auth := newAuthority(t)

	req, _ := http.NewRequest(http.MethodPost, auth.srv.URL+"/api/v1/sync/grades", strings.NewReader(`{"payload":[]}`))
	req.Header.Set("Authorization", "Bearer "+auth.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "UNKNOWN_COLLECTION" {
		t.Fatalf("code = %q, want UNKNOWN_COLLECTION", body.Error.Code)
	}
}

func TestUploadFile(t *testing.T) {
	auth := newAuthority(t)
	adapter := auth.adapter(auth.token)

	res, err := adapter.UploadFile(context.Background(), "english", "soal.txt", strings.NewReader("question one"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !strings.HasPrefix(res.URL, auth.srv.URL+"/uploads/english/") {
		t.Fatalf("url = %q", res.URL)
	}
	if res.OriginalName != "soal.txt" {
		t.Fatalf("original name = %q", res.OriginalName)
	}

	resp, err := http.Get(res.URL)
	if err != nil {
		t.Fatalf("GET upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "question one" {
		t.Fatalf("GET upload = %d %q", resp.StatusCode, body)
	}

	_, err = adapter.UploadFile(context.Background(), "english", "virus.exe", strings.NewReader("x"))
	if !syncerr.Is(err, syncerr.KindAuthorityRejected) {
		t.Fatalf("exe upload: err = %v, want authority_rejected", err)
	}
}

func TestHealth(t *testing.T) {
	auth := newAuthority(t)
	resp, err := http.Get(auth.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
