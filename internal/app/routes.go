package app

import (
	"github.com/gin-gonic/gin"

	"github.com/mr9733n/blog-site/internal/middleware"
	pkgredis "github.com/mr9733n/blog-site/internal/pkg/redis"

	"github.com/mr9733n/blog-site/internal/modules/admin"
	"github.com/mr9733n/blog-site/internal/modules/auth"
	"github.com/mr9733n/blog-site/internal/modules/comment"
	"github.com/mr9733n/blog-site/internal/modules/image"
	"github.com/mr9733n/blog-site/internal/modules/post"
	"github.com/mr9733n/blog-site/internal/modules/user"
)

// registerRoutes wires every module under /api. Authenticated routes run
// Auth then Guard; admin routes add AdminGate on top.
func (a *App) registerRoutes(rc *pkgredis.Client) {
	p := a.pipeline
	api := a.router.Group("/api")
	api.Use(middleware.RateLimit(rc, a.cfg.Auth.RateLimit))

	authed := []gin.HandlerFunc{p.Auth(), p.Guard()}

	authSvc := auth.NewService(a.db, p.Sessions, p.Blacklist, p.Monitor, a.cfg.Auth, a.logger)
	auth.NewHandler(authSvc, a.cfg.Auth).RegisterRoutes(api, p.RefreshAuth(), authed...)

	userSvc := user.NewService(a.db, p.Sessions, p.Blacklist, p.Monitor, a.logger)
	user.NewHandler(userSvc).RegisterRoutes(api, authed...)

	adminSvc := admin.NewService(a.db, p.Sessions, p.Blacklist, p.Monitor, p.Roles, a.logger)
	admin.NewHandler(adminSvc).RegisterRoutes(api, p.AdminGate(), authed...)

	postSvc := post.NewService(a.db, p.Roles)
	post.NewHandler(postSvc).RegisterRoutes(api, authed...)

	commentSvc := comment.NewService(a.db, p.Roles)
	comment.NewHandler(commentSvc).RegisterRoutes(api, authed...)

	imageSvc := image.NewService(a.db, p.Roles)
	image.NewHandler(imageSvc).RegisterRoutes(api, authed...)
}
