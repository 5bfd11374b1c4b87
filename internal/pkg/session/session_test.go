package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UserSession{}))
	return db
}

func TestCreateAndValidate(t *testing.T) {
	store := NewStore(openTestDB(t), time.Hour)

	fp := "fp-hash"
	sess, err := store.Create(7, time.Hour, &fp, nil)
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionKey)
	assert.Equal(t, models.SessionActive, sess.State)

	got, err := store.Validate(sess.SessionKey, 7)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionKey, got.SessionKey)

	_, err = store.Validate(sess.SessionKey, 8)
	assert.ErrorIs(t, err, secerr.ErrSessionUserMismatch)

	_, err = store.Validate("no-such-key", 7)
	assert.ErrorIs(t, err, secerr.ErrSessionInvalid)
}

func TestInactivityExpiresSession(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, 10*time.Millisecond)

	sess, err := store.Create(1, time.Hour, nil, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = store.Validate(sess.SessionKey, 1)
	assert.ErrorIs(t, err, secerr.ErrSessionInvalid)

	got, err := store.Get(sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.State)
}

func TestValidateFingerprintFailsClosed(t *testing.T) {
	stored := "stored-hash"
	withFp := &models.UserSession{DeviceFingerprint: &stored}
	withoutFp := &models.UserSession{}

	// Token without fingerprint binds nothing.
	assert.NoError(t, ValidateFingerprint(withFp, ""))
	// Matching hashes pass.
	assert.NoError(t, ValidateFingerprint(withFp, "stored-hash"))
	// Mismatch is rejected.
	assert.ErrorIs(t, ValidateFingerprint(withFp, "other"), secerr.ErrFingerprintMismatch)
	// A session with no stored fingerprint cannot satisfy a bound token.
	assert.ErrorIs(t, ValidateFingerprint(withoutFp, "stored-hash"), secerr.ErrFingerprintMismatch)
}

func TestCheckCSRF(t *testing.T) {
	state := NewCSRFState()
	token := CSRFToken(state)

	assert.NoError(t, CheckCSRF(state, token))
	assert.NoError(t, CheckCSRF(state, state)) // full state accepted too
	assert.ErrorIs(t, CheckCSRF(state, ""), secerr.ErrCsrfMissing)
	assert.ErrorIs(t, CheckCSRF(state, "wrong-token"), secerr.ErrCsrfMismatch)

	stale := fmt.Sprintf("%s:%d", token, time.Now().Add(-25*time.Hour).Unix())
	assert.ErrorIs(t, CheckCSRF(stale, token), secerr.ErrStaleCsrf)
}

func TestCSRFNeedsRotation(t *testing.T) {
	assert.False(t, CSRFNeedsRotation(NewCSRFState()))

	old := fmt.Sprintf("tok:%d", time.Now().Add(-10*time.Minute).Unix())
	assert.True(t, CSRFNeedsRotation(old))
	assert.True(t, CSRFNeedsRotation("malformed"))
}

func TestRotateCSRF(t *testing.T) {
	store := NewStore(openTestDB(t), time.Hour)
	sess, err := store.Create(1, time.Hour, nil, nil)
	require.NoError(t, err)

	state, err := store.RotateCSRF(sess.SessionKey)
	require.NoError(t, err)
	assert.NotEqual(t, sess.CSRFState, state)

	got, err := store.Get(sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, state, got.CSRFState)
}

func TestIncrementCounterSequential(t *testing.T) {
	store := NewStore(openTestDB(t), time.Hour)
	sess, err := store.Create(1, time.Hour, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		suspicious, err := store.IncrementCounter(sess.SessionKey)
		require.NoError(t, err)
		assert.False(t, suspicious)
	}

	got, err := store.Get(sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.RequestCounter)
	require.NotNil(t, got.LastCounterUpdate)
}

func TestAppendActivityKeepsWindow(t *testing.T) {
	store := NewStore(openTestDB(t), time.Hour)
	sess, err := store.Create(1, time.Hour, nil, nil)
	require.NoError(t, err)

	var times models.FloatArray
	base := time.Now()
	for i := 0; i < 25; i++ {
		times, err = store.AppendActivity(sess.SessionKey, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	assert.Len(t, times, activityWindow)
	// Oldest entries fell out of the window.
	assert.InDelta(t, float64(base.Add(5*time.Second).UnixNano())/1e9, times[0], 0.01)
}

func TestSweepExpired(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, time.Hour)

	sess, err := store.Create(1, time.Hour, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.UserSession{}).
		Where("session_key = ?", sess.SessionKey).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	removed, err := store.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(sess.SessionKey)
	assert.ErrorIs(t, err, secerr.ErrSessionInvalid)
}

func TestDeleteAllForUser(t *testing.T) {
	store := NewStore(openTestDB(t), time.Hour)
	for i := 0; i < 3; i++ {
		_, err := store.Create(5, time.Hour, nil, nil)
		require.NoError(t, err)
	}
	other, err := store.Create(6, time.Hour, nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteAllForUser(5))

	sessions, err := store.ListActive(5)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = store.Get(other.SessionKey)
	assert.NoError(t, err)
}
