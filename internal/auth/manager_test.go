package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/asif420570/Image-compressor/internal/config"
	"github.com/asif420570/Image-compressor/internal/jobs"
	"github.com/asif420570/Image-compressor/internal/workspace"
)

type testEnv struct {
	router     *gin.Engine
	manager    *Manager
	workspaces *workspace.Registry
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := &config.Config{
		AppUsername:        "admin",
		AppPasswordHash:    string(hash),
		SessionSecret:      "0123456789abcdef0123456789abcdef",
		SessionIdleMinutes: 30,
	}

	env := &testEnv{now: time.Now()}
	env.workspaces = workspace.NewRegistry(workspace.Options{
		Transformer: jobs.TransformFunc(func(_ context.Context, in []byte, _ jobs.Options) ([]byte, error) { return in, nil }),
		Defaults:    jobs.Parameters{Value: 500, Unit: jobs.UnitKB},
		Logger:      zerolog.Nop(),
	})
	env.manager = NewManager(cfg, env.workspaces, zerolog.Nop())
	env.manager.now = func() time.Time { return env.now }

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte(cfg.SessionSecret))))
	router.POST("/auth/login", env.manager.Login)
	protected := router.Group("/api", env.manager.RequireLogin(), env.manager.VerifyCSRF())
	protected.POST("/auth/logout", env.manager.Logout)
	protected.GET("/whoami", func(c *gin.Context) {
		ws, ok := CurrentWorkspace(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"workspace": ws.ID})
	})
	protected.POST("/mutate", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	env.router = router
	return env
}

func (e *testEnv) do(method, path, body string, cookies []*http.Cookie, csrf string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:1234"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) ([]*http.Cookie, string) {
	t.Helper()
	rec := e.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"secret"}`, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	token := rec.Header().Get(csrfHeader)
	if token == "" {
		t.Fatal("missing csrf token")
	}
	return rec.Result().Cookies(), token
}

func TestLoginOpensWorkspace(t *testing.T) {
	env := newTestEnv(t)
	cookies, _ := env.login(t)

	if env.workspaces.Len() != 1 {
		t.Fatalf("workspaces = %d, want 1", env.workspaces.Len())
	}
	rec := env.do(http.MethodGet, "/api/whoami", "", cookies, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("whoami status = %d", rec.Code)
	}
}

func TestRequireLoginRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/api/whoami", "", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestVerifyCSRF(t *testing.T) {
	env := newTestEnv(t)
	cookies, token := env.login(t)

	if rec := env.do(http.MethodPost, "/api/mutate", "", cookies, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("status without token = %d, want 403", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/mutate", "", cookies, "wrong"); rec.Code != http.StatusForbidden {
		t.Fatalf("status with wrong token = %d, want 403", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/mutate", "", cookies, token); rec.Code != http.StatusNoContent {
		t.Fatalf("status with token = %d, want 204", rec.Code)
	}
}

func TestLogoutClosesWorkspace(t *testing.T) {
	env := newTestEnv(t)
	cookies, token := env.login(t)

	rec := env.do(http.MethodPost, "/api/auth/logout", "", cookies, token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rec.Code)
	}
	if env.workspaces.Len() != 0 {
		t.Fatalf("workspaces after logout = %d, want 0", env.workspaces.Len())
	}
}

func TestIdleTimeoutClosesWorkspace(t *testing.T) {
	env := newTestEnv(t)
	cookies, _ := env.login(t)

	env.now = env.now.Add(31 * time.Minute)
	rec := env.do(http.MethodGet, "/api/whoami", "", cookies, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if env.workspaces.Len() != 0 {
		t.Fatalf("workspaces after idle timeout = %d, want 0", env.workspaces.Len())
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < maxLoginAttempts; i++ {
		rec := env.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"nope"}`, nil, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}
	rec := env.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"secret"}`, nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	env.now = env.now.Add(lockDuration + time.Second)
	env.login(t)
}

func TestLoginLimiterWindowResets(t *testing.T) {
	now := time.Now()
	l := newLoginLimiter(func() time.Time { return now })
	if remaining := l.recordFailure("ip"); remaining != maxLoginAttempts-1 {
		t.Fatalf("remaining = %d", remaining)
	}
	now = now.Add(loginWindow + time.Second)
	if remaining := l.recordFailure("ip"); remaining != maxLoginAttempts-1 {
		t.Fatalf("remaining after window = %d", remaining)
	}
}
