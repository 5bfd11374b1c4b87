package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	"github.com/mr9733n/blog-site/internal/pkg/jwt"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// Cookie names used for token transport.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
)

// Context keys set by the auth middleware.
const (
	ContextKeyUserID  = "user_id"
	ContextKeySID     = "session_id"
	ContextKeyClaims  = "token_claims"
	ContextKeySession = "session_obj"
)

// Pipeline bundles the stores every security gate needs. It is built once
// at startup and handed to the router; no gate reads global state.
type Pipeline struct {
	Sessions  *session.Store
	Blacklist *blacklist.Store
	Monitor   *security.Monitor
	Roles     roles.Provider
	Log       *zap.Logger

	// CookieSecure marks rotated csrf_state cookies Secure.
	CookieSecure bool
}

// Auth validates the access token, its blacklist status and the backing
// session, then stores the identity on the request context. Internal
// failures reject the request rather than letting it through unchecked.
func (p *Pipeline) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, sess, err := p.authenticate(c, extractAccessToken(c), jwt.TypeAccess)
		if err != nil {
			response.Rejected(c, secerr.Reject(err))
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeySID, claims.SessionKey)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// RefreshAuth validates the refresh token for the token refresh endpoint.
// The session must still be alive; refresh does not resurrect anything.
// Refresh is a mutating request, so it passes the CSRF check and
// re-proves the device binding before a new pair is issued.
func (p *Pipeline) RefreshAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(CookieRefreshToken)
		claims, sess, err := p.authenticate(c, token, jwt.TypeRefresh)
		if err != nil {
			response.Rejected(c, secerr.Reject(err))
			return
		}
		path := c.Request.URL.Path
		if err := p.checkCSRF(c, sess); err != nil {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventCsrfFail,
				path, http.StatusForbidden, map[string]interface{}{"method": c.Request.Method})
			response.Rejected(c, secerr.Reject(err))
			return
		}
		if err := session.ValidateFingerprint(sess, claims.FpHash); err != nil {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventFingerprintFail,
				path, http.StatusForbidden, map[string]interface{}{"stage": "refresh"})
			response.Rejected(c, secerr.Reject(err))
			return
		}
		if raw := c.GetHeader(FingerprintHeader); raw != "" && sess.DeviceFingerprint != nil &&
			*sess.DeviceFingerprint != security.FingerprintHash(raw) {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventFingerprintFail,
				path, http.StatusForbidden, map[string]interface{}{"stage": "refresh"})
			response.Rejected(c, secerr.Reject(secerr.ErrFingerprintMismatch))
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeySID, claims.SessionKey)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

func (p *Pipeline) authenticate(c *gin.Context, token, tokenType string) (*jwt.Claims, *models.UserSession, error) {
	if token == "" {
		return nil, nil, secerr.ErrSessionInvalid
	}
	claims, err := jwt.ParseTyped(token, tokenType)
	if err != nil {
		return nil, nil, secerr.ErrSessionInvalid
	}

	revoked, err := p.Blacklist.IsRevoked(claims.ID, claims.UserID, time.Unix(claims.CreatedAt, 0))
	if err != nil {
		// Cannot prove the token is clean, so treat it as dirty.
		p.Log.Error("blacklist lookup failed", zap.Error(err))
		return nil, nil, secerr.ErrInternalSecurity
	}
	if revoked {
		return nil, nil, secerr.ErrTokenRevoked
	}

	sess, err := p.Sessions.Validate(claims.SessionKey, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return claims, sess, nil
}

func extractAccessToken(c *gin.Context) string {
	if token, err := c.Cookie(CookieAccessToken); err == nil && token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) uint {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(uint)
	return id
}

// CurrentSessionKey extracts the authenticated session key from context.
func CurrentSessionKey(c *gin.Context) string {
	v, _ := c.Get(ContextKeySID)
	key, _ := v.(string)
	return key
}

// CurrentClaims extracts the parsed token claims from context.
func CurrentClaims(c *gin.Context) *jwt.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*jwt.Claims)
	return claims
}

// CurrentSession extracts the loaded session record from context.
func CurrentSession(c *gin.Context) *models.UserSession {
	v, _ := c.Get(ContextKeySession)
	sess, _ := v.(*models.UserSession)
	return sess
}
