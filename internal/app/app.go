package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/config"
	"github.com/mr9733n/blog-site/internal/database"
	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/pkg/blacklist"
	pkgcron "github.com/mr9733n/blog-site/internal/pkg/cron"
	jwtpkg "github.com/mr9733n/blog-site/internal/pkg/jwt"
	pkgredis "github.com/mr9733n/blog-site/internal/pkg/redis"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
	"github.com/mr9733n/blog-site/internal/pkg/security"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// App holds all application dependencies.
type App struct {
	cfg      *config.AppConfig
	router   *gin.Engine
	db       *gorm.DB
	logger   *zap.Logger
	cancel   context.CancelFunc
	sched    *pkgcron.Scheduler
	pipeline *middleware.Pipeline
}

// New initializes the application: config → DB (with migration) → Redis →
// security pipeline → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwtpkg.SetSecret(cfg.JWTSecret)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		// Redis only backs rate limiting; the site runs without it.
		logger.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		rc = nil
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(corsMiddleware(cfg))

	sessions := session.NewStore(db, time.Duration(cfg.Auth.MaxInactivity)*time.Second)
	bl := blacklist.NewStore(db)
	monitor := security.NewMonitor(db, sessions, logger.Named("security"))
	pipeline := &middleware.Pipeline{
		Sessions:     sessions,
		Blacklist:    bl,
		Monitor:      monitor,
		Roles:        roles.FirstUserProvider{},
		Log:          logger,
		CookieSecure: cfg.Auth.CookieSecure,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := pkgcron.New()
	registerCronJobs(sched, sessions, bl, monitor, logger.Named("cron"))
	sched.Start(ctx)

	app := &App{
		cfg:      cfg,
		router:   router,
		db:       db,
		logger:   logger,
		cancel:   cancel,
		sched:    sched,
		pipeline: pipeline,
	}
	app.registerRoutes(rc)
	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown cleans up background goroutines.
func (a *App) Shutdown() { a.cancel() }

func corsMiddleware(cfg *config.AppConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.CSRFHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.CSRFHeader},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return cors.New(corsConfig)
}
