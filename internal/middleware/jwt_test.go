package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

func serve(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireDeviceJWT(t *testing.T) {
	auth := service.NewAuthService("mw-secret", 4)
	r := gin.New()
	r.GET("/sync", RequireDeviceJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).DeskID)
	})

	device, _ := auth.GenerateDeviceToken("lab-1", time.Hour)
	session, _ := auth.GenerateSessionToken(&model.User{ID: "u1", Role: model.RolePenguji}, time.Hour)
	expired, _ := auth.GenerateSessionToken(&model.User{ID: "u1", Role: model.RolePenguji}, -time.Minute)
	foreign, _ := service.NewAuthService("other-secret", 4).GenerateDeviceToken("lab-1", time.Hour)

	if w := serve(r, "/sync", "Bearer "+device); w.Code != http.StatusOK || w.Body.String() != "lab-1" {
		t.Fatalf("device header = %d %q", w.Code, w.Body.String())
	}
	if w := serve(r, "/sync?token="+device, ""); w.Code != http.StatusOK {
		t.Fatalf("device query = %d", w.Code)
	}

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"session", "Bearer " + session, http.StatusForbidden, "DEVICE_ACCESS_ONLY"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"foreign", "Bearer " + foreign, http.StatusUnauthorized, "TOKEN_INVALID"},
	}
	for _, tc := range cases {
		w := serve(r, "/sync", tc.header)
		if w.Code != tc.status || errCode(t, w) != tc.code {
			t.Fatalf("%s: %d %s, want %d %s", tc.name, w.Code, errCode(t, w), tc.status, tc.code)
		}
	}
}

func TestRequireSessionAndRole(t *testing.T) {
	auth := service.NewAuthService("mw-secret", 4)
	r := gin.New()
	r.GET("/admin", RequireSession(auth), RequireRole(model.RolePanitiaUtama), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	admin, _ := auth.GenerateSessionToken(&model.User{ID: "a", Role: model.RolePanitiaUtama}, time.Hour)
	examiner, _ := auth.GenerateSessionToken(&model.User{ID: "e", Role: model.RolePenguji}, time.Hour)
	stale, _ := auth.GenerateSessionToken(&model.User{ID: "a", Role: model.RolePanitiaUtama}, -time.Minute)

	if w := serve(r, "/admin", "Bearer "+admin); w.Code != http.StatusNoContent {
		t.Fatalf("admin = %d", w.Code)
	}
	if w := serve(r, "/admin", "Bearer "+examiner); w.Code != http.StatusForbidden || errCode(t, w) != "ADMIN_ACCESS_ONLY" {
		t.Fatalf("examiner = %d", w.Code)
	}
	if w := serve(r, "/admin", "Bearer "+stale); w.Code != http.StatusUnauthorized || errCode(t, w) != "SESSION_EXPIRED" {
		t.Fatalf("stale = %d", w.Code)
	}
}
