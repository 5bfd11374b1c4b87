package security

import (
	"time"

	"github.com/mr9733n/blog-site/internal/models"
)

// Confidence points per signal. Multiple signals stack; the total is
// capped so a score never reads as certainty.
const (
	pointsNetworkChange = 40
	pointsFingerprint   = 70
	pointsConcurrent    = 50
	adminWeight         = 1.5
	confidenceCap       = 95
)

// Risk labels derived from the confidence score.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// SessionRisk is the per-session assessment shown in the admin view.
type SessionRisk struct {
	SessionKey   string   `json:"session_key"`
	UserID       uint     `json:"user_id"`
	Confidence   int      `json:"confidence"`
	Risk         string   `json:"risk"`
	Signals      []string `json:"signals"`
	LastActivity string   `json:"last_activity"`
}

// AssessSession scores one session from its recent audit events.
// isAdmin weights the score up since an admin session is a bigger prize.
func (m *Monitor) AssessSession(sess *models.UserSession, isAdmin bool) (*SessionRisk, error) {
	since := time.Now().Add(-24 * time.Hour)
	var events []models.SecurityEvent
	err := m.db.Where("session_key = ? AND created_at > ?", sess.SessionKey, since).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	score := 0.0
	var signals []string
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.EventType] {
			continue
		}
		switch ev.EventType {
		case EventNetworkChange:
			score += pointsNetworkChange
		case EventFingerprintFail:
			score += pointsFingerprint
		case EventConcurrentUse, EventPatternAnomaly:
			score += pointsConcurrent
		default:
			continue
		}
		seen[ev.EventType] = true
		signals = append(signals, ev.EventType)
	}
	if isAdmin {
		score *= adminWeight
	}
	confidence := int(score)
	if confidence > confidenceCap {
		confidence = confidenceCap
	}

	return &SessionRisk{
		SessionKey:   sess.SessionKey,
		UserID:       sess.UserID,
		Confidence:   confidence,
		Risk:         riskLabel(confidence),
		Signals:      signals,
		LastActivity: sess.LastActivity.UTC().Format(time.RFC3339),
	}, nil
}

// AssessUserSessions scores every active session of a user.
func (m *Monitor) AssessUserSessions(userID uint, isAdmin bool) ([]SessionRisk, error) {
	sessions, err := m.sessions.ListActive(userID)
	if err != nil {
		return nil, err
	}
	risks := make([]SessionRisk, 0, len(sessions))
	for i := range sessions {
		r, err := m.AssessSession(&sessions[i], isAdmin)
		if err != nil {
			return nil, err
		}
		risks = append(risks, *r)
	}
	return risks, nil
}

// SessionConfidence returns just the score for the admin freshness gate.
func (m *Monitor) SessionConfidence(sess *models.UserSession, isAdmin bool) int {
	r, err := m.AssessSession(sess, isAdmin)
	if err != nil {
		// Scoring failures count as elevated risk, not as clean.
		return pointsConcurrent
	}
	return r.Confidence
}

func riskLabel(confidence int) string {
	switch {
	case confidence >= 80:
		return RiskCritical
	case confidence >= 60:
		return RiskHigh
	case confidence >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}
