package auth

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mr9733n/blog-site/internal/config"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	jwtpkg "github.com/mr9733n/blog-site/internal/pkg/jwt"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

func init() {
	jwtpkg.SetSecret("auth-test-secret")
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserModel{}, &models.UserStatus{}, &models.UserSettings{},
		&models.UserSession{}, &models.RevokedToken{}, &models.SecurityEvent{},
	))

	sessions := session.NewStore(db, time.Hour)
	bl := blacklist.NewStore(db)
	monitor := security.NewMonitor(db, sessions, zap.NewNop())
	cfg := config.AuthConfig{
		AccessTokenTTL:  jwtpkg.DefaultAccessTTL,
		RefreshTokenTTL: jwtpkg.DefaultRefreshTTL,
	}
	return NewService(db, sessions, bl, monitor, cfg, zap.NewNop()), db
}

func createUser(t *testing.T, db *gorm.DB, username, password string) *models.UserModel {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.UserModel{Username: username, Email: username + "@example.com", Password: string(hash)}
	require.NoError(t, db.Create(u).Error)
	return u
}

func TestLoginIssuesBoundTokenPair(t *testing.T) {
	svc, db := newTestService(t)
	u := createUser(t, db, "alice", "secret-pw")

	out, err := svc.Login(&LoginDTO{
		Username:    "alice",
		Password:    "secret-pw",
		Fingerprint: "device-1",
	}, "192.168.1.10", "Mozilla/5.0")
	require.NoError(t, err)

	claims, err := jwtpkg.ParseTyped(out.accessToken, jwtpkg.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, out.sess.SessionKey, claims.SessionKey)
	assert.Equal(t, security.FingerprintHash("device-1"), claims.FpHash)
	assert.Equal(t, security.NetworkHash("192.168.1.10", "Mozilla/5.0"), claims.IPNet)

	refreshClaims, err := jwtpkg.ParseTyped(out.refreshToken, jwtpkg.TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionKey, refreshClaims.SessionKey)
	assert.NotEqual(t, claims.ID, refreshClaims.ID)

	// Session stores the fingerprint hash for later validation.
	require.NotNil(t, out.sess.DeviceFingerprint)
	assert.Equal(t, claims.FpHash, *out.sess.DeviceFingerprint)
}

func TestLoginRejectsBlockedAccount(t *testing.T) {
	svc, db := newTestService(t)
	u := createUser(t, db, "bob", "secret-pw")
	require.NoError(t, db.Create(&models.UserStatus{UserID: u.ID, IsBlocked: true}).Error)

	_, err := svc.Login(&LoginDTO{Username: "bob", Password: "secret-pw"}, "1.2.3.4", "ua")
	assert.ErrorIs(t, err, secerr.ErrAccountBlocked)
}

func TestRefreshBurnsOldTokenAndKeepsSession(t *testing.T) {
	svc, _ := newTestService(t)
	u := createUser(t, svc.db, "carol", "secret-pw")

	out, err := svc.Login(&LoginDTO{Username: "carol", Password: "secret-pw"}, "1.2.3.4", "ua")
	require.NoError(t, err)
	oldCSRF := out.sess.CSRFState

	refreshClaims, err := jwtpkg.ParseTyped(out.refreshToken, jwtpkg.TypeRefresh)
	require.NoError(t, err)

	out2, err := svc.Refresh(refreshClaims, out.sess)
	require.NoError(t, err)

	// Same session survives, CSRF state rotates.
	assert.Equal(t, out.sess.SessionKey, out2.sess.SessionKey)
	assert.NotEqual(t, oldCSRF, out2.sess.CSRFState)

	// The presented refresh token is burned.
	revoked, err := svc.blacklist.IsRevoked(refreshClaims.ID, u.ID, time.Unix(refreshClaims.CreatedAt, 0))
	require.NoError(t, err)
	assert.True(t, revoked)

	// The new pair still parses.
	_, err = jwtpkg.ParseTyped(out2.accessToken, jwtpkg.TypeAccess)
	assert.NoError(t, err)
	_, err = jwtpkg.ParseTyped(out2.refreshToken, jwtpkg.TypeRefresh)
	assert.NoError(t, err)
}

func TestLogoutRevokesTokenAndDropsSession(t *testing.T) {
	svc, _ := newTestService(t)
	u := createUser(t, svc.db, "dave", "secret-pw")

	out, err := svc.Login(&LoginDTO{Username: "dave", Password: "secret-pw"}, "1.2.3.4", "ua")
	require.NoError(t, err)
	claims, err := jwtpkg.ParseTyped(out.accessToken, jwtpkg.TypeAccess)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(claims))

	revoked, err := svc.blacklist.IsRevoked(claims.ID, u.ID, time.Unix(claims.CreatedAt, 0))
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = svc.sessions.Get(claims.SessionKey)
	assert.ErrorIs(t, err, secerr.ErrSessionInvalid)
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, db := newTestService(t)

	u, err := svc.Register(&RegisterDTO{Username: "eve", Email: "Eve@Example.com", Password: "secret-pw"})
	require.NoError(t, err)
	assert.Equal(t, "eve@example.com", u.Email)
	assert.NotEqual(t, "secret-pw", u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("secret-pw")))

	var stored models.UserModel
	require.NoError(t, db.First(&stored, u.ID).Error)
	assert.Equal(t, "eve", stored.Username)
}

func TestTokenLifetimesClampUserSettings(t *testing.T) {
	svc, db := newTestService(t)
	u := createUser(t, db, "frank", "secret-pw")

	// Out-of-range values come back clamped.
	settings, err := svc.UpdateTokenSettings(u.ID, &TokenSettingsDTO{
		TokenLifetime:        5,
		RefreshTokenLifetime: 1 << 30,
	})
	require.NoError(t, err)
	assert.Equal(t, jwtpkg.MinAccessTTL, settings.TokenLifetime)
	assert.Equal(t, jwtpkg.MaxRefreshTTL, settings.RefreshTokenLifetime)

	accessTTL, refreshTTL := svc.tokenLifetimes(u.ID)
	assert.Equal(t, jwtpkg.MinAccessTTL, accessTTL)
	assert.Equal(t, jwtpkg.MaxRefreshTTL, refreshTTL)

	// Users without settings get the configured defaults.
	accessTTL, refreshTTL = svc.tokenLifetimes(9999)
	assert.Equal(t, jwtpkg.DefaultAccessTTL, accessTTL)
	assert.Equal(t, jwtpkg.DefaultRefreshTTL, refreshTTL)

	// Updating twice overwrites rather than duplicating.
	_, err = svc.UpdateTokenSettings(u.ID, &TokenSettingsDTO{
		TokenLifetime:        3600,
		RefreshTokenLifetime: jwtpkg.MinRefreshTTL,
	})
	require.NoError(t, err)
	accessTTL, _ = svc.tokenLifetimes(u.ID)
	assert.Equal(t, 3600, accessTTL)
}
