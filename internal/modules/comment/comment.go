// Package comment implements post comments behind the security pipeline.
package comment

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

type CommentDTO struct {
	Content string `json:"content" binding:"required,max=2000"`
}

type Service struct {
	db    *gorm.DB
	roles roles.Provider
}

func NewService(db *gorm.DB, rp roles.Provider) *Service {
	return &Service{db: db, roles: rp}
}

func (s *Service) ListForPost(postID uint) ([]models.CommentModel, error) {
	var comments []models.CommentModel
	err := s.db.Where("post_id = ?", postID).Order("created_at").Find(&comments).Error
	return comments, err
}

func (s *Service) Create(userID, postID uint, dto *CommentDTO) (*models.CommentModel, error) {
	var post models.PostModel
	if err := s.db.First(&post, postID).Error; err != nil {
		return nil, err
	}
	cm := models.CommentModel{PostID: postID, UserID: userID, Content: dto.Content}
	return &cm, s.db.Create(&cm).Error
}

// Delete is allowed for the comment author and for admins.
func (s *Service) Delete(userID, id uint) error {
	var cm models.CommentModel
	if err := s.db.First(&cm, id).Error; err != nil {
		return err
	}
	if cm.UserID != userID && !roles.IsAdmin(s.roles, userID) {
		return gorm.ErrRecordNotFound
	}
	return s.db.Delete(&cm).Error
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authed ...gin.HandlerFunc) {
	rg.GET("/posts/:id/comments", h.list)

	a := rg.Group("", authed...)
	a.POST("/posts/:id/comments", h.create)
	a.DELETE("/comments/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	postID, ok := paramID(c)
	if !ok {
		return
	}
	comments, err := h.svc.ListForPost(postID)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, comments)
}

func (h *Handler) create(c *gin.Context) {
	postID, ok := paramID(c)
	if !ok {
		return
	}
	var dto CommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Invalid comment payload")
		return
	}
	cm, err := h.svc.Create(middleware.CurrentUserID(c), postID, &dto)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Post not found")
			return
		}
		response.InternalError(c)
		return
	}
	response.Created(c, cm)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(middleware.CurrentUserID(c), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Comment not found")
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
