package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /auth/login のハンドラーです。成功するとワークスペースを新しく開きます。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	if err := m.ensureCredentials(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": err.Error(),
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.limiter.check(ip); retryAfter > 0 {
		// Retry-After は秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if req.Username != m.cfg.AppUsername || !m.verifyPassword(req.Password) {
		remaining := m.limiter.recordFailure(ip)
		m.logger.Warn().Str("ip", ip).Int("remainingAttempts", remaining).Msg("login failed")
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}

	m.limiter.reset(ip)

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	// 再ログイン時は前のワークスペースを破棄する
	if id, ok := session.Get(sessionKeyWorkspace).(string); ok && id != "" {
		m.workspaces.Close(id)
	}
	ws, err := m.workspaces.Open()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to open workspace")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "作業領域の準備に失敗しました",
		})
		return
	}

	now := m.now()
	session.Set(sessionKeyUser, m.cfg.AppUsername)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	session.Set(sessionKeyWorkspace, ws.ID)

	if err := session.Save(); err != nil {
		m.workspaces.Close(ws.ID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	m.logger.Info().Str("workspace", ws.ID).Msg("login succeeded")
	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /auth/logout のハンドラーです。ワークスペースのジョブとハンドルをすべて解放します。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if id, ok := session.Get(sessionKeyWorkspace).(string); ok && id != "" {
		m.workspaces.Close(id)
	}
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Session は /auth/session のハンドラーです。ログイン状態と CSRF トークンを返します。
func (m *Manager) Session(c *gin.Context) {
	session := sessions.Default(c)
	token, _ := session.Get(sessionKeyCSRF).(string)
	if token != "" {
		c.Header(csrfHeader, token)
	}
	c.JSON(http.StatusOK, gin.H{
		"user":      c.GetString(ContextUserKey),
		"csrfToken": token,
	})
}
