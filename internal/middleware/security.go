package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// CSRF transport: the canonical header carries the bare token, the state
// header and cookie carry the full "token:issued" state.
const (
	CSRFHeader      = "X-CSRF-TOKEN"
	CSRFStateHeader = "X-CSRF-STATE"
	CSRFCookie      = "csrf_state"
)

// FingerprintHeader carries the raw device fingerprint on login and
// refresh requests.
const FingerprintHeader = "X-Device-Fingerprint"

// adminFreshness is the maximum token age accepted for mutating admin
// operations. Older tokens must be refreshed first.
const adminFreshness = 15 * time.Minute

// adminRiskThreshold rejects admin access once a session's hijack
// confidence reaches this score.
const adminRiskThreshold = 60

// Guard runs the ordered security gates on every authenticated request.
// Order matters: cheap identity checks run before DB-heavy tracking, and
// tracking runs before gates that read what it wrote.
func (p *Pipeline) Guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		sess := CurrentSession(c)
		if claims == nil || sess == nil {
			response.Rejected(c, secerr.Reject(secerr.ErrSessionInvalid))
			return
		}
		path := c.Request.URL.Path
		sensitive := security.IsSensitivePath(path)

		blocked, err := p.Monitor.IsBlocked(claims.UserID)
		if err != nil {
			p.Log.Error("block status lookup failed", zap.Error(err))
			response.Rejected(c, secerr.Reject(secerr.ErrInternalSecurity))
			return
		}
		if blocked {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventAccountBlocked,
				path, http.StatusForbidden, nil)
			response.Rejected(c, secerr.Reject(secerr.ErrAccountBlocked))
			return
		}

		if mutating(c.Request.Method) {
			if err := p.checkCSRF(c, sess); err != nil {
				p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventCsrfFail,
					path, http.StatusForbidden, map[string]interface{}{"method": c.Request.Method})
				response.Rejected(c, secerr.Reject(err))
				return
			}
		} else if session.CSRFNeedsRotation(sess.CSRFState) {
			if state, err := p.Sessions.RotateCSRF(sess.SessionKey); err == nil {
				sess.CSRFState = state
				c.Header(CSRFHeader, session.CSRFToken(state))
				// JS-readable so the client can echo it back in a header.
				c.SetCookie(CSRFCookie, state, 0, "/", "", p.CookieSecure, false)
			}
		}

		if err := p.Sessions.Touch(sess.SessionKey); err != nil {
			p.Log.Warn("session touch failed", zap.Error(err))
		}

		// Detections below are recorded on every request but only reject
		// where the damage would land: network changes gate state-changing
		// requests, anomaly signals gate the sensitive paths.
		if err := p.Monitor.CheckNetworkChange(sess, ClientIP(c), c.Request.UserAgent()); err != nil {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventNetworkChange,
				path, http.StatusPreconditionRequired, nil)
			if mutating(c.Request.Method) {
				response.Rejected(c, secerr.Reject(err))
				return
			}
		}

		if err := p.Monitor.TrackRequestCounter(sess.SessionKey); err != nil {
			if err == secerr.ErrSuspiciousActivity {
				p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventConcurrentUse,
					path, http.StatusPreconditionRequired, nil)
				if sensitive {
					response.Rejected(c, secerr.Reject(err))
					return
				}
			} else {
				p.Log.Warn("request counter update failed", zap.Error(err))
			}
		}

		if err := p.Monitor.TrackActivityPattern(sess.SessionKey, time.Now()); err != nil {
			if err == secerr.ErrSuspiciousActivity {
				p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventPatternAnomaly,
					path, http.StatusPreconditionRequired, nil)
				if sensitive {
					response.Rejected(c, secerr.Reject(err))
					return
				}
			} else {
				p.Log.Warn("activity tracking failed", zap.Error(err))
			}
		}

		if sensitive {
			if err := session.ValidateFingerprint(sess, claims.FpHash); err != nil {
				p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventFingerprintFail,
					path, http.StatusForbidden, nil)
				response.Rejected(c, secerr.Reject(err))
				return
			}
		}

		c.Next()
	}
}

// AdminGate enforces the admin-only rules on top of Guard: role check,
// token freshness for mutating operations, hard device binding and a
// hijack risk ceiling.
func (p *Pipeline) AdminGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		sess := CurrentSession(c)
		path := c.Request.URL.Path

		if !roles.IsAdmin(p.Roles, claims.UserID) {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventAdminDenied,
				path, http.StatusForbidden, nil)
			response.Rejected(c, secerr.Reject(secerr.ErrAdminRequired))
			return
		}

		if mutating(c.Request.Method) && claims.Age() > adminFreshness {
			response.Rejected(c, secerr.Reject(secerr.ErrFreshTokenRequired))
			return
		}

		// Admin sessions are always hard-bound to a device and browser.
		if err := session.ValidateFingerprint(sess, claims.FpHash); err != nil {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventFingerprintFail,
				path, http.StatusForbidden, map[string]interface{}{"scope": "admin"})
			response.Rejected(c, secerr.Reject(err))
			return
		}
		if claims.UAHash != "" && claims.UAHash != security.UserAgentHash(c.Request.UserAgent()) {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventFingerprintFail,
				path, http.StatusForbidden, map[string]interface{}{"signal": "user_agent"})
			response.Rejected(c, secerr.Reject(secerr.ErrUserAgentMismatch))
			return
		}

		if p.Monitor.SessionConfidence(sess, true) >= adminRiskThreshold {
			p.Monitor.RecordEvent(claims.UserID, sess.SessionKey, security.EventPatternAnomaly,
				path, http.StatusPreconditionRequired, map[string]interface{}{"scope": "admin"})
			response.Rejected(c, secerr.Reject(secerr.ErrSuspiciousActivity))
			return
		}

		c.Next()
	}
}

// checkCSRF verifies the double-submit pair: the csrf_state cookie must
// be present and a header must carry the matching token.
func (p *Pipeline) checkCSRF(c *gin.Context, sess *models.UserSession) error {
	if _, err := c.Cookie(CSRFCookie); err != nil {
		return secerr.ErrCsrfMissing
	}
	return session.CheckCSRF(sess.CSRFState, csrfFromRequest(c))
}

// csrfFromRequest accepts the token header or the full state header. The
// csrf_state cookie itself is never accepted as proof since the browser
// attaches it automatically.
func csrfFromRequest(c *gin.Context) string {
	if v := c.GetHeader(CSRFHeader); v != "" {
		return v
	}
	return c.GetHeader(CSRFStateHeader)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
