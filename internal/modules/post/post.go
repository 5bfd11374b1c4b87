// Package post implements blog post CRUD behind the security pipeline.
package post

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
)

type PostDTO struct {
	Title   string `json:"title" binding:"required,max=255"`
	Content string `json:"content" binding:"required"`
}

type Service struct {
	db    *gorm.DB
	roles roles.Provider
}

func NewService(db *gorm.DB, rp roles.Provider) *Service {
	return &Service{db: db, roles: rp}
}

func (s *Service) List() ([]models.PostModel, error) {
	var posts []models.PostModel
	err := s.db.Order("created_at DESC").Find(&posts).Error
	return posts, err
}

func (s *Service) Get(id uint) (*models.PostModel, error) {
	var p models.PostModel
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Create(userID uint, dto *PostDTO) (*models.PostModel, error) {
	p := models.PostModel{Title: dto.Title, Content: dto.Content, UserID: userID}
	return &p, s.db.Create(&p).Error
}

// Update is restricted to the post's author.
func (s *Service) Update(userID, id uint, dto *PostDTO) (*models.PostModel, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	err = s.db.Model(p).Updates(map[string]interface{}{
		"title":   dto.Title,
		"content": dto.Content,
	}).Error
	return p, err
}

// Delete is allowed for the author and for admins.
func (s *Service) Delete(userID, id uint) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	if p.UserID != userID && !roles.IsAdmin(s.roles, userID) {
		return gorm.ErrRecordNotFound
	}
	return s.db.Delete(p).Error
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authed ...gin.HandlerFunc) {
	rg.GET("/posts", h.list)
	rg.GET("/posts/:id", h.get)

	a := rg.Group("", authed...)
	a.POST("/posts", h.create)
	a.PUT("/posts/:id", h.update)
	a.DELETE("/posts/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	posts, err := h.svc.List()
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, posts)
}

func (h *Handler) get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	p, err := h.svc.Get(id)
	if err != nil {
		response.NotFound(c, "Post not found")
		return
	}
	response.OK(c, p)
}

func (h *Handler) create(c *gin.Context) {
	var dto PostDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid post payload")
		return
	}
	p, err := h.svc.Create(middleware.CurrentUserID(c), &dto)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.Created(c, p)
}

func (h *Handler) update(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var dto PostDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid post payload")
		return
	}
	p, err := h.svc.Update(middleware.CurrentUserID(c), id, &dto)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Post not found")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, p)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(middleware.CurrentUserID(c), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Post not found")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"ok": 1})
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "Invalid id")
		return 0, false
	}
	return uint(id), true
}
