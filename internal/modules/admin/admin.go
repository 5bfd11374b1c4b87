// Package admin implements the administrator surface: account blocking,
// session oversight and the audit trail.
package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

var (
	errCannotBlockAdmin     = errors.New("the administrator account cannot be blocked")
	errCannotKillOwnSession = errors.New("terminate your own session via logout")
)

type BlockUserDTO struct {
	Reason string `json:"reason"`
}

type UpdateUserDTO struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

type userView struct {
	ID            uint       `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	CreatedAt     time.Time  `json:"created"`
	IsBlocked     bool       `json:"is_blocked"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
}

type Service struct {
	db        *gorm.DB
	sessions  *session.Store
	blacklist *blacklist.Store
	monitor   *security.Monitor
	roles     roles.Provider
	log       *zap.Logger
}

func NewService(db *gorm.DB, sessions *session.Store, bl *blacklist.Store, monitor *security.Monitor, rp roles.Provider, log *zap.Logger) *Service {
	return &Service{db: db, sessions: sessions, blacklist: bl, monitor: monitor, roles: rp, log: log}
}

// ListUsers returns every account with its block status.
func (s *Service) ListUsers() ([]userView, error) {
	var users []models.UserModel
	if err := s.db.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	var statuses []models.UserStatus
	if err := s.db.Find(&statuses).Error; err != nil {
		return nil, err
	}
	statusByID := make(map[uint]*models.UserStatus, len(statuses))
	for i := range statuses {
		statusByID[statuses[i].UserID] = &statuses[i]
	}

	out := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
		if st := statusByID[u.ID]; st != nil {
			v.IsBlocked = st.IsBlocked
			v.BlockedAt = st.BlockedAt
			v.BlockedReason = st.BlockedReason
		}
		out = append(out, v)
	}
	return out, nil
}

// GetUser returns one account with its block status.
func (s *Service) GetUser(id uint) (*userView, error) {
	var u models.UserModel
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	v := userView{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
	var st models.UserStatus
	if err := s.db.Where("user_id = ?", id).First(&st).Error; err == nil {
		v.IsBlocked = st.IsBlocked
		v.BlockedAt = st.BlockedAt
		v.BlockedReason = st.BlockedReason
	}
	return &v, nil
}

// UpdateUser lets an admin fix a username or email.
func (s *Service) UpdateUser(id uint, dto *UpdateUserDTO) (*userView, error) {
	var u models.UserModel
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if dto.Username != nil && *dto.Username != "" {
		updates["username"] = *dto.Username
	}
	if dto.Email != nil && *dto.Email != "" {
		updates["email"] = strings.ToLower(*dto.Email)
	}
	if len(updates) > 0 {
		if err := s.db.Model(&u).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetUser(id)
}

// BlockUser locks an account and kills everything it holds: tokens and
// sessions both. The administrator account itself is untouchable.
func (s *Service) BlockUser(adminID, targetID uint, reason string) error {
	if roles.IsAdmin(s.roles, targetID) {
		return errCannotBlockAdmin
	}
	now := time.Now()
	status := models.UserStatus{
		UserID:        targetID,
		IsBlocked:     true,
		BlockedAt:     &now,
		BlockedReason: reason,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_blocked", "blocked_at", "blocked_reason"}),
	}).Create(&status).Error
	if err != nil {
		return err
	}
	if err := s.blacklist.RevokeAll(targetID); err != nil {
		return err
	}
	if err := s.sessions.DeleteAllForUser(targetID); err != nil {
		return err
	}
	s.monitor.RecordEvent(targetID, "", security.EventAccountBlocked,
		"/api/admin/users", http.StatusOK,
		map[string]interface{}{"by": adminID, "reason": reason})
	return nil
}

// UnblockUser lifts a block. Old tokens stay revoked; the user logs in
// fresh.
func (s *Service) UnblockUser(targetID uint) error {
	return s.db.Model(&models.UserStatus{}).
		Where("user_id = ?", targetID).
		Updates(map[string]interface{}{
			"is_blocked":     false,
			"blocked_at":     nil,
			"blocked_reason": "",
		}).Error
}

// UserSessions returns a user's active sessions with hijack risk scores.
func (s *Service) UserSessions(userID uint) ([]security.SessionRisk, error) {
	return s.monitor.AssessUserSessions(userID, roles.IsAdmin(s.roles, userID))
}

// AllSessions scores every active session in the system.
func (s *Service) AllSessions() ([]security.SessionRisk, error) {
	var userIDs []uint
	err := s.db.Model(&models.UserSession{}).
		Where("state = ? AND expires_at > ?", models.SessionActive, time.Now()).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	var out []security.SessionRisk
	for _, id := range userIDs {
		risks, err := s.UserSessions(id)
		if err != nil {
			return nil, err
		}
		out = append(out, risks...)
	}
	return out, nil
}

// TerminateSession kills any session except the admin's own.
func (s *Service) TerminateSession(adminID uint, adminSessionKey, targetKey string) error {
	if targetKey == adminSessionKey {
		return errCannotKillOwnSession
	}
	sess, err := s.sessions.Get(targetKey)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(targetKey); err != nil {
		return err
	}
	s.monitor.RecordEvent(sess.UserID, targetKey, security.EventSessionTerminated,
		"/api/admin/sessions", http.StatusOK,
		map[string]interface{}{"by": adminID})
	return nil
}

// TerminateUserSessions kills all sessions of one user and revokes their
// tokens. Admins log out of their own account instead.
func (s *Service) TerminateUserSessions(adminID, targetID uint) error {
	if targetID == adminID {
		return errCannotKillOwnSession
	}
	if err := s.blacklist.RevokeAll(targetID); err != nil {
		return err
	}
	if err := s.sessions.DeleteAllForUser(targetID); err != nil {
		return err
	}
	s.monitor.RecordEvent(targetID, "", security.EventTokensRevoked,
		"/api/admin/sessions", http.StatusOK,
		map[string]interface{}{"by": adminID})
	return nil
}

// UserEvents returns the audit trail for a user.
func (s *Service) UserEvents(userID uint, limit int) ([]models.SecurityEvent, error) {
	return s.monitor.RecentEvents(userID, limit)
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, adminGate gin.HandlerFunc, authed ...gin.HandlerFunc) {
	g := rg.Group("/admin", append(append([]gin.HandlerFunc{}, authed...), adminGate)...)
	g.GET("/users", h.listUsers)
	g.GET("/users/:id", h.getUser)
	g.PUT("/users/:id", h.updateUser)
	g.POST("/users/:id/block", h.blockUser)
	g.POST("/users/:id/unblock", h.unblockUser)
	g.GET("/users/:id/sessions", h.userSessions)
	g.DELETE("/users/:id/sessions", h.terminateUserSessions)
	g.GET("/users/:id/events", h.userEvents)
	g.GET("/sessions", h.allSessions)
	g.DELETE("/sessions/:sessionKey", h.terminateSession)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.svc.ListUsers()
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, users)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	u, err := h.svc.GetUser(id)
	if err != nil {
		response.NotFound(c, "User not found")
		return
	}
	response.OK(c, u)
}

func (h *Handler) updateUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var dto UpdateUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid update payload")
		return
	}
	u, err := h.svc.UpdateUser(id, &dto)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "User not found")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, u)
}

func (h *Handler) blockUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var dto BlockUserDTO
	_ = c.ShouldBindJSON(&dto)
	err := h.svc.BlockUser(middleware.CurrentUserID(c), id, dto.Reason)
	if err != nil {
		if errors.Is(err, errCannotBlockAdmin) {
			response.Forbidden(c, err.Error())
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func (h *Handler) unblockUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.UnblockUser(id); err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func (h *Handler) userSessions(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	risks, err := h.svc.UserSessions(id)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, risks)
}

func (h *Handler) terminateUserSessions(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.TerminateUserSessions(middleware.CurrentUserID(c), id); err != nil {
		if errors.Is(err, errCannotKillOwnSession) {
			response.Forbidden(c, err.Error())
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func (h *Handler) userEvents(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.svc.UserEvents(id, limit)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, events)
}

func (h *Handler) allSessions(c *gin.Context) {
	risks, err := h.svc.AllSessions()
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, risks)
}

func (h *Handler) terminateSession(c *gin.Context) {
	err := h.svc.TerminateSession(middleware.CurrentUserID(c),
		middleware.CurrentSessionKey(c), c.Param("sessionKey"))
	if err != nil {
		if errors.Is(err, errCannotKillOwnSession) {
			response.Forbidden(c, err.Error())
			return
		}
		if errors.Is(err, secerr.ErrSessionInvalid) {
			response.NotFound(c, "Session not found")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "Invalid user id")
		return 0, false
	}
	return uint(id), true
}
