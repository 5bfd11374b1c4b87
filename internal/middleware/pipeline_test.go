package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	jwtpkg "github.com/mr9733n/blog-site/internal/pkg/jwt"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
	jwtpkg.SetSecret("pipeline-test-secret")
}

type testEnv struct {
	pipeline *Pipeline
	router   *gin.Engine
	db       *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserSession{}, &models.RevokedToken{},
		&models.SecurityEvent{}, &models.UserStatus{},
	))

	sessions := session.NewStore(db, time.Hour)
	p := &Pipeline{
		Sessions:  sessions,
		Blacklist: blacklist.NewStore(db),
		Monitor:   security.NewMonitor(db, sessions, zap.NewNop()),
		Roles:     roles.FirstUserProvider{},
		Log:       zap.NewNop(),
	}

	router := gin.New()
	router.POST("/api/refresh", p.RefreshAuth(), okHandler)
	authed := router.Group("/api", p.Auth(), p.Guard())
	authed.GET("/posts", okHandler)
	authed.POST("/posts", okHandler)
	authed.PUT("/user/update", okHandler)
	authed.GET("/settings/token-settings", okHandler)
	admin := router.Group("/api/admin", p.Auth(), p.Guard(), p.AdminGate())
	admin.GET("/users", okHandler)

	return &testEnv{pipeline: p, router: router, db: db}
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": CurrentUserID(c)})
}

// openSession creates a session and a matching access token the way a
// login would.
func (e *testEnv) openSession(t *testing.T, userID uint, binding jwtpkg.Binding) (*models.UserSession, string, string) {
	t.Helper()
	var fp, netHash *string
	if binding.FpHash != "" {
		fp = &binding.FpHash
	}
	if binding.IPNet != "" {
		netHash = &binding.IPNet
	}
	sess, err := e.pipeline.Sessions.Create(userID, time.Hour, fp, netHash)
	require.NoError(t, err)

	token, jti, err := jwtpkg.Sign(jwtpkg.TypeAccess, userID, sess.SessionKey, binding, time.Hour)
	require.NoError(t, err)
	return sess, token, jti
}

func (e *testEnv) do(method, path, token, csrf string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: token})
	}
	if csrf != "" {
		req.Header.Set(CSRFHeader, csrf)
		req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: csrf})
	}
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.168.1.10:4567"
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doRefresh(refreshToken, csrf, fingerprint string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.AddCookie(&http.Cookie{Name: CookieRefreshToken, Value: refreshToken})
	if csrf != "" {
		req.Header.Set(CSRFHeader, csrf)
		req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: csrf})
	}
	if fingerprint != "" {
		req.Header.Set(FingerprintHeader, fingerprint)
	}
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.168.1.10:4567"
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAuthRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/posts", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	env := newTestEnv(t)
	_, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":2`)
}

func TestAuthRejectsRevokedToken(t *testing.T) {
	env := newTestEnv(t)
	_, token, jti := env.openSession(t, 2, jwtpkg.Binding{})

	require.NoError(t, env.pipeline.Blacklist.Revoke(jti, 2, time.Now().Add(time.Hour)))
	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsAfterRevokeAll(t *testing.T) {
	env := newTestEnv(t)
	_, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	require.NoError(t, env.pipeline.Blacklist.RevokeAll(2))
	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsRefreshTokenOnAccessRoute(t *testing.T) {
	env := newTestEnv(t)
	sess, _, _ := env.openSession(t, 2, jwtpkg.Binding{})
	refresh, _, err := jwtpkg.Sign(jwtpkg.TypeRefresh, 2, sess.SessionKey, jwtpkg.Binding{}, time.Hour)
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/posts", refresh, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuardRequiresCSRFOnMutation(t *testing.T) {
	env := newTestEnv(t)
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	w := env.do(http.MethodPost, "/api/posts", token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/posts", token, "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/posts", token, session.CSRFToken(sess.CSRFState))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGuardRotatesStaleCSRFOnSafeRequest(t *testing.T) {
	env := newTestEnv(t)
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	staleState := fmt.Sprintf("oldtoken:%d", time.Now().Add(-10*time.Minute).Unix())
	require.NoError(t, env.db.Model(&models.UserSession{}).
		Where("session_key = ?", sess.SessionKey).
		Update("csrf_state", staleState).Error)

	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	rotated := w.Header().Get(CSRFHeader)
	require.NotEmpty(t, rotated)
	assert.NotEqual(t, "oldtoken", rotated)
}

func TestGuardBlocksBlockedAccount(t *testing.T) {
	env := newTestEnv(t)
	_, token, _ := env.openSession(t, 2, jwtpkg.Binding{})
	require.NoError(t, env.db.Create(&models.UserStatus{UserID: 2, IsBlocked: true}).Error)

	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGuardNetworkChangeGatesMutatingRequests(t *testing.T) {
	env := newTestEnv(t)
	// Session bound to a different network than the test requests use.
	bound := security.NetworkHash("8.8.8.8", "test-agent")
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{IPNet: bound})
	csrf := session.CSRFToken(sess.CSRFState)

	// Safe requests pass with the change recorded, sensitive path or not.
	w := env.do(http.MethodGet, "/api/posts", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/api/settings/token-settings", token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// State-changing requests are stepped up.
	w = env.do(http.MethodPut, "/api/user/update", token, csrf)
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.Contains(t, w.Body.String(), "REVERIFY_REQUIRED")

	var count int64
	require.NoError(t, env.db.Model(&models.SecurityEvent{}).
		Where("event_type = ?", security.EventNetworkChange).
		Count(&count).Error)
	assert.GreaterOrEqual(t, count, int64(3))
}

func TestGuardAllowsRapidBrowsingOnNonSensitivePaths(t *testing.T) {
	env := newTestEnv(t)
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	// A burst of reads trips the pattern detector but never the gate.
	for i := 0; i < 8; i++ {
		w := env.do(http.MethodGet, "/api/posts", token, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	var count int64
	require.NoError(t, env.db.Model(&models.SecurityEvent{}).
		Where("event_type = ?", security.EventPatternAnomaly).
		Count(&count).Error)
	assert.GreaterOrEqual(t, count, int64(1))

	// The same session is stepped up once it touches a sensitive path.
	w := env.do(http.MethodPut, "/api/user/update", token, session.CSRFToken(sess.CSRFState))
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.Contains(t, w.Body.String(), "SUSPICIOUS_ACTIVITY")
}

func TestGuardRequiresCSRFCookieOnMutation(t *testing.T) {
	env := newTestEnv(t)
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	// A correct header without the csrf_state cookie is not enough.
	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	req.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: token})
	req.Header.Set(CSRFHeader, session.CSRFToken(sess.CSRFState))
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.168.1.10:4567"
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRefreshRequiresCSRF(t *testing.T) {
	env := newTestEnv(t)
	sess, _, _ := env.openSession(t, 2, jwtpkg.Binding{})
	refresh, _, err := jwtpkg.Sign(jwtpkg.TypeRefresh, 2, sess.SessionKey, jwtpkg.Binding{}, time.Hour)
	require.NoError(t, err)

	w := env.doRefresh(refresh, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.doRefresh(refresh, session.CSRFToken(sess.CSRFState), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshValidatesFingerprintBinding(t *testing.T) {
	env := newTestEnv(t)
	fpHash := security.FingerprintHash("device-1")
	sess, _, _ := env.openSession(t, 2, jwtpkg.Binding{FpHash: fpHash})
	csrf := session.CSRFToken(sess.CSRFState)
	refresh, _, err := jwtpkg.Sign(jwtpkg.TypeRefresh, 2, sess.SessionKey,
		jwtpkg.Binding{FpHash: fpHash}, time.Hour)
	require.NoError(t, err)

	// The bound device refreshes fine.
	w := env.doRefresh(refresh, csrf, "device-1")
	assert.Equal(t, http.StatusOK, w.Code)

	// A different device presenting the stolen token pair does not.
	w = env.doRefresh(refresh, csrf, "other-device")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A session that never stored a fingerprint cannot satisfy a bound
	// token.
	bare, err := env.pipeline.Sessions.Create(2, time.Hour, nil, nil)
	require.NoError(t, err)
	boundRefresh, _, err := jwtpkg.Sign(jwtpkg.TypeRefresh, 2, bare.SessionKey,
		jwtpkg.Binding{FpHash: fpHash}, time.Hour)
	require.NoError(t, err)
	w = env.doRefresh(boundRefresh, session.CSRFToken(bare.CSRFState), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUserAgentBindingGatesAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	staleUA := security.UserAgentHash("other-agent")

	// Regular sensitive paths tolerate a browser swap.
	sess, token, _ := env.openSession(t, 2, jwtpkg.Binding{UAHash: staleUA})
	w := env.do(http.MethodPut, "/api/user/update", token, session.CSRFToken(sess.CSRFState))
	assert.Equal(t, http.StatusOK, w.Code)

	// Admin requests are hard-bound to the browser.
	_, adminToken, _ := env.openSession(t, 1, jwtpkg.Binding{UAHash: staleUA})
	w = env.do(http.MethodGet, "/api/admin/users", adminToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGuardFingerprintFailsClosedOnSensitivePath(t *testing.T) {
	env := newTestEnv(t)
	// Token carries a fingerprint but the session never stored one.
	sess, err := env.pipeline.Sessions.Create(2, time.Hour, nil, nil)
	require.NoError(t, err)
	token, _, err := jwtpkg.Sign(jwtpkg.TypeAccess, 2, sess.SessionKey,
		jwtpkg.Binding{FpHash: security.FingerprintHash("device")}, time.Hour)
	require.NoError(t, err)

	w := env.do(http.MethodPut, "/api/user/update", token, session.CSRFToken(sess.CSRFState))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminGateRejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, token, _ := env.openSession(t, 2, jwtpkg.Binding{})

	w := env.do(http.MethodGet, "/api/admin/users", token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminGateAllowsAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, token, _ := env.openSession(t, 1, jwtpkg.Binding{})

	w := env.do(http.MethodGet, "/api/admin/users", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
