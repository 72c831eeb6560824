// Package session は匿名の作業セットをブラウザへ結び付けるセッションとCSRF保護を提供します。
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	CookieName           = "tf_session"
	sessionKeyWorkspace  = "workspace_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

// ContextWorkspaceKey は、ハンドラー間で作業セットIDを共有するためのキーです。
const ContextWorkspaceKey = "session.workspace"

var maxSessionLifetime = 12 * time.Hour

// MaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func MaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager はセッションの発行と検証を行います。
type Manager struct {
	idleTimeout time.Duration
	onExpire    func(workspaceID string)
	now         func() time.Time
}

// NewManager はセッションマネージャーを作成します。onExpire は期限切れで破棄した作業セットIDを受け取ります。
func NewManager(idleTimeout time.Duration, onExpire func(workspaceID string)) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Minute
	}
	return &Manager{idleTimeout: idleTimeout, onExpire: onExpire, now: time.Now}
}

// Attach は作業セットIDをセッションへ結び付けるミドルウェアです。
// セッションが無い、または期限切れの場合は新しい作業セットを発行します。
func (m *Manager) Attach() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		now := m.now()

		workspaceID, _ := session.Get(sessionKeyWorkspace).(string)
		if workspaceID != "" && m.expired(session, now) {
			if m.onExpire != nil {
				m.onExpire(workspaceID)
			}
			session.Clear()
			workspaceID = ""
		}

		if workspaceID == "" {
			token, err := generateToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    "TOKEN_GENERATION_FAILED",
					"message": "CSRF トークンの生成に失敗しました",
				})
				return
			}
			workspaceID = uuid.NewString()
			session.Set(sessionKeyWorkspace, workspaceID)
			session.Set(sessionKeyIssuedAt, now.Unix())
			session.Set(sessionKeyCSRF, token)
		}

		session.Set(sessionKeyLastActive, now.Unix())
		if err := session.Save(); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "SESSION_SAVE_FAILED",
				"message": "セッションの保存に失敗しました",
			})
			return
		}

		if token, ok := session.Get(sessionKeyCSRF).(string); ok {
			c.Header(csrfHeader, token)
		}
		c.Set(ContextWorkspaceKey, workspaceID)
		c.Next()
	}
}

func (m *Manager) expired(session sessions.Session, now time.Time) bool {
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))
	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		return true
	}
	return lastActive.IsZero() || now.Sub(lastActive) > m.idleTimeout
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// Info は GET /api/session のハンドラーです。
func (m *Manager) Info(c *gin.Context) {
	session := sessions.Default(c)
	token, _ := session.Get(sessionKeyCSRF).(string)
	c.JSON(http.StatusOK, gin.H{
		"workspaceId": WorkspaceID(c),
		"csrfToken":   token,
	})
}

// WorkspaceID は Attach が設定した作業セットIDを返します。
func WorkspaceID(c *gin.Context) string {
	return c.GetString(ContextWorkspaceKey)
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

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
