package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	pkgcron "github.com/mr9733n/blog-site/internal/pkg/cron"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// eventRetention is how long audit entries are kept.
const eventRetention = 90 * 24 * time.Hour

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, sessions *session.Store, bl *blacklist.Store, monitor *security.Monitor, logger *zap.Logger) {
	sched.Register(pkgcron.Job{
		Name:        "sweep_sessions",
		Description: "Remove expired sessions and mark idle ones expired",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			removed, err := sessions.SweepExpired()
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				return err
			}
			logger.Info("session sweep done", zap.Int64("removed", removed))
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_blacklist",
		Description: "Drop blacklist entries for tokens that expired on their own",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			removed, err := bl.SweepExpired()
			if err != nil {
				logger.Warn("blacklist sweep failed", zap.Error(err))
				return err
			}
			logger.Info("blacklist sweep done", zap.Int64("removed", removed))
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_security_events",
		Description: "Trim old audit log entries",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			removed, err := monitor.SweepEvents(eventRetention)
			if err != nil {
				logger.Warn("event sweep failed", zap.Error(err))
				return err
			}
			logger.Info("event sweep done", zap.Int64("removed", removed))
			return nil
		},
	})
}
