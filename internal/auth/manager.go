// Package auth はログイン・セッション管理と、セッションに紐づくワークスペースの割り当てを提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/asif420570/Image-compressor/internal/config"
	"github.com/asif420570/Image-compressor/internal/workspace"
)

const (
	SessionCookieName    = "ic_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"
	sessionKeyWorkspace  = "workspace_id"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

// ContextWorkspaceKey は、セッションに紐づくワークスペースを共有するためのキーです。
const ContextWorkspaceKey = "auth.workspace"

// Workspaces はセッション毎のワークスペースを開閉します。
type Workspaces interface {
	Open() (*workspace.Workspace, error)
	Get(id string) (*workspace.Workspace, bool)
	Close(id string) bool
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg         *config.Config
	workspaces  Workspaces
	limiter     *loginLimiter
	idleTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, workspaces Workspaces, logger zerolog.Logger) *Manager {
	idle := defaultIdleTimeout
	if cfg.SessionIdleMinutes > 0 {
		idle = time.Duration(cfg.SessionIdleMinutes) * time.Minute
	}
	m := &Manager{
		cfg:         cfg,
		workspaces:  workspaces,
		idleTimeout: idle,
		logger:      logger.With().Str("component", "auth").Logger(),
		now:         time.Now,
	}
	m.limiter = newLoginLimiter(func() time.Time { return m.now() })
	return m
}

// CurrentWorkspace は RequireLogin が割り当てたワークスペースを返します。
func CurrentWorkspace(c *gin.Context) (*workspace.Workspace, bool) {
	v, ok := c.Get(ContextWorkspaceKey)
	if !ok {
		return nil, false
	}
	ws, ok := v.(*workspace.Workspace)
	return ws, ok && ws != nil
}

// RequireLogin はセッションを検証し、ワークスペースを割り当てるミドルウェアを返します。
// 期限切れのセッションはワークスペースごと破棄します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			m.endSession(session)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "セッションの有効期限が切れました",
			})
			return
		}

		if lastActive.IsZero() || now.Sub(lastActive) > m.idleTimeout {
			m.endSession(session)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "しばらく操作がなかったため再ログインしてください",
			})
			return
		}

		ws, err := m.attachWorkspace(session)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to open workspace")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "作業領域の準備に失敗しました",
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(ContextUserKey, user)
		c.Set(ContextWorkspaceKey, ws)
		c.Next()
	}
}

// attachWorkspace はセッションのワークスペースを返します。
// サーバー再起動や期限切れ掃除で失われている場合は新しく開きます。
func (m *Manager) attachWorkspace(session sessions.Session) (*workspace.Workspace, error) {
	if id, ok := session.Get(sessionKeyWorkspace).(string); ok && id != "" {
		if ws, ok := m.workspaces.Get(id); ok {
			return ws, nil
		}
	}
	ws, err := m.workspaces.Open()
	if err != nil {
		return nil, err
	}
	session.Set(sessionKeyWorkspace, ws.ID)
	return ws, nil
}

// endSession はワークスペースを閉じてからセッションを破棄します。
func (m *Manager) endSession(session sessions.Session) {
	if id, ok := session.Get(sessionKeyWorkspace).(string); ok && id != "" {
		m.workspaces.Close(id)
	}
	session.Clear()
	_ = session.Save()
}

func (m *Manager) ensureCredentials() error {
	if m.cfg.AppUsername == "" {
		return errors.New("APP_USERNAME が設定されていません")
	}
	if m.cfg.AppPasswordHash == "" {
		return errors.New("APP_PASSWORD_HASH が設定されていません")
	}
	if m.cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET が設定されていません")
	}
	return nil
}

func (m *Manager) verifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.AppPasswordHash), []byte(password)) == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
