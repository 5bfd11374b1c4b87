// Package auth implements credential verification, token issuance and the
// session lifecycle endpoints.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mr9733n/blog-site/internal/config"
	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	jwtpkg "github.com/mr9733n/blog-site/internal/pkg/jwt"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// failedLoginDelay slows down credential guessing. Applied on every
// failed attempt regardless of whether the user exists.
const failedLoginDelay = 3 * time.Second

type LoginDTO struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Fingerprint string `json:"fingerprint"`
}

type RegisterDTO struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type TokenSettingsDTO struct {
	TokenLifetime        int `json:"token_lifetime" binding:"required"`
	RefreshTokenLifetime int `json:"refresh_token_lifetime" binding:"required"`
}

type userResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	User             *userResponse `json:"user"`
	CSRFToken        string        `json:"csrf_token"`
	AccessExpiresIn  int           `json:"access_expires_in"`
	RefreshExpiresIn int           `json:"refresh_expires_in"`
}

func toUserResponse(u *models.UserModel) *userResponse {
	return &userResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

// issued bundles everything a successful login or refresh produces.
type issued struct {
	user         *models.UserModel
	sess         *models.UserSession
	accessToken  string
	refreshToken string
	accessTTL    int
	refreshTTL   int
}

type Service struct {
	db        *gorm.DB
	sessions  *session.Store
	blacklist *blacklist.Store
	monitor   *security.Monitor
	cfg       config.AuthConfig
	log       *zap.Logger
}

func NewService(db *gorm.DB, sessions *session.Store, bl *blacklist.Store, monitor *security.Monitor, cfg config.AuthConfig, log *zap.Logger) *Service {
	return &Service{db: db, sessions: sessions, blacklist: bl, monitor: monitor, cfg: cfg, log: log}
}

// Login verifies credentials and opens a new session bound to the caller's
// device and network.
func (s *Service) Login(dto *LoginDTO, ip, ua string) (*issued, error) {
	var u models.UserModel
	err := s.db.Where("username = ?", dto.Username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		time.Sleep(failedLoginDelay)
		return nil, secerr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(dto.Password)); err != nil {
		time.Sleep(failedLoginDelay)
		s.monitor.RecordEvent(u.ID, "", security.EventLoginFailed, "/api/login",
			http.StatusUnauthorized, nil)
		return nil, secerr.ErrInvalidCredentials
	}

	blocked, err := s.monitor.IsBlocked(u.ID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, secerr.ErrAccountBlocked
	}

	accessTTL, refreshTTL := s.tokenLifetimes(u.ID)

	binding := jwtpkg.Binding{
		FpHash: security.FingerprintHash(dto.Fingerprint),
		IPNet:  security.NetworkHash(ip, ua),
		UAHash: security.UserAgentHash(ua),
	}
	var fp, netHash *string
	if binding.FpHash != "" {
		fp = &binding.FpHash
	}
	netHash = &binding.IPNet

	sess, err := s.sessions.Create(u.ID, time.Duration(refreshTTL)*time.Second, fp, netHash)
	if err != nil {
		return nil, err
	}

	return s.signPair(&u, sess, binding, accessTTL, refreshTTL)
}

// Refresh rotates the token pair for an existing session. The presented
// refresh token is burned so it cannot be replayed, the session key stays
// the same and the CSRF state rotates.
func (s *Service) Refresh(claims *jwtpkg.Claims, sess *models.UserSession) (*issued, error) {
	var u models.UserModel
	if err := s.db.First(&u, claims.UserID).Error; err != nil {
		return nil, err
	}

	if err := s.blacklist.Revoke(claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	if _, err := s.sessions.RotateCSRF(sess.SessionKey); err != nil {
		return nil, err
	}
	refreshed, err := s.sessions.Get(sess.SessionKey)
	if err != nil {
		return nil, err
	}

	accessTTL, refreshTTL := s.tokenLifetimes(u.ID)
	binding := jwtpkg.Binding{FpHash: claims.FpHash, IPNet: claims.IPNet, UAHash: claims.UAHash}
	return s.signPair(&u, refreshed, binding, accessTTL, refreshTTL)
}

func (s *Service) signPair(u *models.UserModel, sess *models.UserSession, binding jwtpkg.Binding, accessTTL, refreshTTL int) (*issued, error) {
	access, _, err := jwtpkg.Sign(jwtpkg.TypeAccess, u.ID, sess.SessionKey, binding,
		time.Duration(accessTTL)*time.Second)
	if err != nil {
		return nil, err
	}
	refresh, _, err := jwtpkg.Sign(jwtpkg.TypeRefresh, u.ID, sess.SessionKey, binding,
		time.Duration(refreshTTL)*time.Second)
	if err != nil {
		return nil, err
	}
	return &issued{
		user:         u,
		sess:         sess,
		accessToken:  access,
		refreshToken: refresh,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
	}, nil
}

// Logout burns the current token and removes the session.
func (s *Service) Logout(claims *jwtpkg.Claims) error {
	if err := s.blacklist.Revoke(claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	return s.sessions.Delete(claims.SessionKey)
}

// Register creates a new account. The first account registered becomes
// the administrator.
func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := models.UserModel{
		Username: dto.Username,
		Email:    strings.ToLower(dto.Email),
		Password: string(hash),
	}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// tokenLifetimes resolves per-user token lifetimes, clamped into the
// allowed ranges, falling back to the configured defaults.
func (s *Service) tokenLifetimes(userID uint) (accessTTL, refreshTTL int) {
	accessTTL = s.cfg.AccessTokenTTL
	refreshTTL = s.cfg.RefreshTokenTTL

	var settings models.UserSettings
	err := s.db.Where("user_id = ?", userID).First(&settings).Error
	if err == nil {
		if settings.TokenLifetime > 0 {
			accessTTL = settings.TokenLifetime
		}
		if settings.RefreshTokenLifetime > 0 {
			refreshTTL = settings.RefreshTokenLifetime
		}
	}
	return jwtpkg.ClampAccessTTL(accessTTL), jwtpkg.ClampRefreshTTL(refreshTTL)
}

// UpdateTokenSettings stores per-user token lifetimes, clamped.
func (s *Service) UpdateTokenSettings(userID uint, dto *TokenSettingsDTO) (*models.UserSettings, error) {
	settings := models.UserSettings{
		UserID:               userID,
		TokenLifetime:        jwtpkg.ClampAccessTTL(dto.TokenLifetime),
		RefreshTokenLifetime: jwtpkg.ClampRefreshTTL(dto.RefreshTokenLifetime),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_lifetime", "refresh_token_lifetime"}),
	}).Create(&settings).Error
	return &settings, err
}

// TokenSettings returns the user's effective token lifetimes.
func (s *Service) TokenSettings(userID uint) *TokenSettingsDTO {
	accessTTL, refreshTTL := s.tokenLifetimes(userID)
	return &TokenSettingsDTO{TokenLifetime: accessTTL, RefreshTokenLifetime: refreshTTL}
}

type Handler struct {
	svc *Service
	cfg config.AuthConfig
}

func NewHandler(svc *Service, cfg config.AuthConfig) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// RegisterRoutes wires the auth endpoints. authed carries the access token
// gates, refresh the refresh token gate.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, refresh gin.HandlerFunc, authed ...gin.HandlerFunc) {
	rg.POST("/login", h.login)
	rg.POST("/register", h.register)
	rg.POST("/refresh", refresh, h.refresh)

	a := rg.Group("", authed...)
	a.POST("/logout", h.logout)
	a.GET("/me", h.me)
	a.GET("/token-info", h.tokenInfo)
	a.GET("/settings/token-settings", h.getTokenSettings)
	a.PUT("/settings/token-settings", h.updateTokenSettings)
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid login payload")
		return
	}
	if dto.Fingerprint == "" {
		dto.Fingerprint = c.GetHeader(middleware.FingerprintHeader)
	}
	out, err := h.svc.Login(&dto, middleware.ClientIP(c), c.Request.UserAgent())
	if err != nil {
		response.Rejected(c, secerr.Reject(err))
		return
	}
	h.respondWithTokens(c, out, http.StatusOK)
}

func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid registration payload")
		return
	}
	u, err := h.svc.Register(&dto)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate") {
			response.Conflict(c, "Username or email already taken")
			return
		}
		response.InternalError(c)
		return
	}
	response.Created(c, toUserResponse(u))
}

func (h *Handler) refresh(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	sess := middleware.CurrentSession(c)
	out, err := h.svc.Refresh(claims, sess)
	if err != nil {
		response.Rejected(c, secerr.Reject(err))
		return
	}
	h.respondWithTokens(c, out, http.StatusOK)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.svc.Logout(middleware.CurrentClaims(c)); err != nil {
		response.InternalError(c)
		return
	}
	clearTokenCookies(c, h.cfg)
	response.OK(c, gin.H{"ok": 1})
}

func (h *Handler) me(c *gin.Context) {
	var u models.UserModel
	if err := h.svc.db.First(&u, middleware.CurrentUserID(c)).Error; err != nil {
		response.NotFound(c, "")
		return
	}
	response.OK(c, toUserResponse(&u))
}

// tokenInfo exposes the current token binding for debugging clients.
func (h *Handler) tokenInfo(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	sess := middleware.CurrentSession(c)
	response.OK(c, gin.H{
		"user_id":     claims.UserID,
		"session_key": claims.SessionKey,
		"token_type":  claims.TokenType,
		"issued_at":   claims.CreatedAt,
		"expires_at":  claims.ExpiresAt.Unix(),
		"age_seconds": int(claims.Age().Seconds()),
		"fingerprint": claims.FpHash != "",
		"session": gin.H{
			"state":         sess.State,
			"last_activity": sess.LastActivity,
			"expires_at":    sess.ExpiresAt,
		},
	})
}

func (h *Handler) getTokenSettings(c *gin.Context) {
	response.OK(c, h.svc.TokenSettings(middleware.CurrentUserID(c)))
}

func (h *Handler) updateTokenSettings(c *gin.Context) {
	var dto TokenSettingsDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid token settings")
		return
	}
	settings, err := h.svc.UpdateTokenSettings(middleware.CurrentUserID(c), &dto)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, settings)
}

func (h *Handler) respondWithTokens(c *gin.Context, out *issued, status int) {
	setTokenCookies(c, h.cfg, out.accessToken, out.refreshToken, out.accessTTL, out.refreshTTL)
	// csrf_state stays JS-readable; the client echoes it back in a header.
	c.SetCookie(middleware.CSRFCookie, out.sess.CSRFState, out.refreshTTL, "/", "", h.cfg.CookieSecure, false)
	csrf := session.CSRFToken(out.sess.CSRFState)
	c.Header(middleware.CSRFHeader, csrf)
	c.JSON(status, loginResponse{
		User:             toUserResponse(out.user),
		CSRFToken:        csrf,
		AccessExpiresIn:  out.accessTTL,
		RefreshExpiresIn: out.refreshTTL,
	})
}

func setTokenCookies(c *gin.Context, cfg config.AuthConfig, access, refresh string, accessTTL, refreshTTL int) {
	c.SetSameSite(sameSite(cfg.CookieSameSite))
	c.SetCookie(middleware.CookieAccessToken, access, accessTTL, "/", "", cfg.CookieSecure, true)
	c.SetCookie(middleware.CookieRefreshToken, refresh, refreshTTL, "/api/refresh", "", cfg.CookieSecure, true)
}

func clearTokenCookies(c *gin.Context, cfg config.AuthConfig) {
	c.SetSameSite(sameSite(cfg.CookieSameSite))
	c.SetCookie(middleware.CookieAccessToken, "", -1, "/", "", cfg.CookieSecure, true)
	c.SetCookie(middleware.CookieRefreshToken, "", -1, "/api/refresh", "", cfg.CookieSecure, true)
	c.SetCookie(middleware.CSRFCookie, "", -1, "/", "", cfg.CookieSecure, false)
}

func sameSite(mode string) http.SameSite {
	switch mode {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
