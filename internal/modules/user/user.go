// Package user implements profile self-management. Changing a password
// revokes every outstanding token so stolen credentials die with it.
package user

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

type UpdateUserDTO struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	NewPassword     *string `json:"new_password"`
	CurrentPassword string  `json:"current_password" binding:"required"`
}

type sessionResponse struct {
	SessionKey   string    `json:"session_key"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`
}

type Service struct {
	db        *gorm.DB
	sessions  *session.Store
	blacklist *blacklist.Store
	monitor   *security.Monitor
	log       *zap.Logger
}

func NewService(db *gorm.DB, sessions *session.Store, bl *blacklist.Store, monitor *security.Monitor, log *zap.Logger) *Service {
	return &Service{db: db, sessions: sessions, blacklist: bl, monitor: monitor, log: log}
}

// Update applies profile changes after re-verifying the current password.
// Returns (user, passwordChanged, error).
func (s *Service) Update(userID uint, dto *UpdateUserDTO) (*models.UserModel, bool, error) {
	var u models.UserModel
	if err := s.db.First(&u, userID).Error; err != nil {
		return nil, false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(dto.CurrentPassword)); err != nil {
		return nil, false, secerr.ErrInvalidCredentials
	}

	updates := map[string]interface{}{}
	if dto.Username != nil && *dto.Username != "" {
		updates["username"] = *dto.Username
		u.Username = *dto.Username
	}
	if dto.Email != nil && *dto.Email != "" {
		email := strings.ToLower(*dto.Email)
		updates["email"] = email
		u.Email = email
	}

	passwordChanged := false
	if dto.NewPassword != nil && *dto.NewPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*dto.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, err
		}
		updates["password"] = string(hash)
		passwordChanged = true
	}

	if len(updates) > 0 {
		if err := s.db.Model(&u).Updates(updates).Error; err != nil {
			return nil, false, err
		}
	}

	if passwordChanged {
		// Everything issued before this moment is now worthless.
		if err := s.blacklist.RevokeAll(userID); err != nil {
			return nil, false, err
		}
		if err := s.sessions.DeleteAllForUser(userID); err != nil {
			return nil, false, err
		}
		s.monitor.RecordEvent(userID, "", security.EventTokensRevoked,
			"/api/user/update", http.StatusOK,
			map[string]interface{}{"reason": "password_change"})
	}
	return &u, passwordChanged, nil
}

// ListSessions returns the user's active sessions.
func (s *Service) ListSessions(userID uint, currentKey string) ([]sessionResponse, error) {
	sessions, err := s.sessions.ListActive(userID)
	if err != nil {
		return nil, err
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			SessionKey:   sess.SessionKey,
			State:        sess.State,
			LastActivity: sess.LastActivity,
			CreatedAt:    sess.CreatedAt,
			ExpiresAt:    sess.ExpiresAt,
			Current:      sess.SessionKey == currentKey,
		})
	}
	return out, nil
}

// TerminateSession removes one of the user's own sessions.
func (s *Service) TerminateSession(userID uint, sessionKey string) error {
	sess, err := s.sessions.Get(sessionKey)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return secerr.ErrSessionUserMismatch
	}
	if err := s.sessions.Delete(sessionKey); err != nil {
		return err
	}
	s.monitor.RecordEvent(userID, sessionKey, security.EventSessionTerminated,
		"/api/user/sessions", http.StatusOK, nil)
	return nil
}

// TerminateOtherSessions removes every session except the current one.
func (s *Service) TerminateOtherSessions(userID uint, keepKey string) (int, error) {
	sessions, err := s.sessions.ListActive(userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sess := range sessions {
		if sess.SessionKey == keepKey {
			continue
		}
		if err := s.sessions.Delete(sess.SessionKey); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.monitor.RecordEvent(userID, keepKey, security.EventSessionTerminated,
			"/api/user/sessions", http.StatusOK,
			map[string]interface{}{"count": removed})
	}
	return removed, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authed ...gin.HandlerFunc) {
	g := rg.Group("/user", authed...)
	g.PUT("/update", h.update)
	g.GET("/sessions", h.listSessions)
	g.DELETE("/sessions", h.terminateOthers)
	g.DELETE("/sessions/:sessionKey", h.terminateSession)
}

func (h *Handler) update(c *gin.Context) {
	var dto UpdateUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid update payload")
		return
	}
	u, passwordChanged, err := h.svc.Update(middleware.CurrentUserID(c), &dto)
	if err != nil {
		if errors.Is(err, secerr.ErrInvalidCredentials) {
			response.Rejected(c, secerr.Reject(err))
			return
		}
		if strings.Contains(err.Error(), "Duplicate") {
			response.Conflict(c, "Username or email already taken")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{
		"id":              u.ID,
		"username":        u.Username,
		"email":           u.Email,
		"reauth_required": passwordChanged,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.svc.ListSessions(middleware.CurrentUserID(c), middleware.CurrentSessionKey(c))
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, sessions)
}

func (h *Handler) terminateSession(c *gin.Context) {
	err := h.svc.TerminateSession(middleware.CurrentUserID(c), c.Param("sessionKey"))
	if err != nil {
		response.Rejected(c, secerr.Reject(err))
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func (h *Handler) terminateOthers(c *gin.Context) {
	removed, err := h.svc.TerminateOtherSessions(middleware.CurrentUserID(c), middleware.CurrentSessionKey(c))
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"removed": removed})
}
