// Package blacklist implements token revocation. Individual tokens are
// revoked by jti; a per-user sentinel entry revokes everything issued
// before it in one write.
package blacklist

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mr9733n/blog-site/internal/models"
)

// sentinelTTL keeps the all-tokens marker alive long past any token
// lifetime so old tokens can never outlive it.
const sentinelTTL = 365 * 24 * time.Hour

// Store persists revoked token identifiers.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func sentinelKey(userID uint) string {
	return fmt.Sprintf("user_all_tokens:%d", userID)
}

// Revoke blacklists a single token id. Revoking the same jti twice is a
// no-op, not an error.
func (s *Store) Revoke(jti string, userID uint, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RevokedToken{
		JTI:           jti,
		UserID:        userID,
		BlacklistedAt: time.Now(),
		ExpiresAt:     expiresAt,
	}).Error
}

// RevokeAll invalidates every outstanding token of a user by removing the
// per-jti rows and writing a sentinel that dominates them.
func (s *Store) RevokeAll(userID uint) error {
	if err := s.db.Where("user_id = ? AND jti NOT LIKE ?", userID, "user_all_tokens:%").
		Delete(&models.RevokedToken{}).Error; err != nil {
		return err
	}
	now := time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoUpdates: clause.AssignmentColumns([]string{"blacklisted_at", "expires_at"}),
	}).Create(&models.RevokedToken{
		JTI:           sentinelKey(userID),
		UserID:        userID,
		BlacklistedAt: now,
		ExpiresAt:     now.Add(sentinelTTL),
	}).Error
}

// IsRevoked reports whether a token is blacklisted, either directly by jti
// or by a user-wide sentinel issued after the token was created.
func (s *Store) IsRevoked(jti string, userID uint, tokenIssuedAt time.Time) (bool, error) {
	now := time.Now()

	var count int64
	err := s.db.Model(&models.RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	var sentinel models.RevokedToken
	err = s.db.Where("jti = ? AND expires_at > ?", sentinelKey(userID), now).
		First(&sentinel).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Tokens issued after the sentinel was written are fine.
	return !tokenIssuedAt.After(sentinel.BlacklistedAt), nil
}

// SweepExpired removes blacklist rows whose tokens have expired on their
// own. Returns the number of rows removed.
func (s *Store) SweepExpired() (int64, error) {
	res := s.db.Where("expires_at < ?", time.Now()).Delete(&models.RevokedToken{})
	return res.RowsAffected, res.Error
}
