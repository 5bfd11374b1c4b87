// Package image stores uploaded images in the database and serves them
// back with their original content type.
package image

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/middleware"
	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/response"
	"github.com/mr9733n/blog-site/internal/pkg/roles"
)

// maxUploadSize bounds a single image upload.
const maxUploadSize = 5 << 20

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type Service struct {
	db    *gorm.DB
	roles roles.Provider
}

func NewService(db *gorm.DB, rp roles.Provider) *Service {
	return &Service{db: db, roles: rp}
}

func (s *Service) Get(id uint) (*models.ImageModel, error) {
	var img models.ImageModel
	if err := s.db.First(&img, id).Error; err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Service) ListForUser(userID uint) ([]models.ImageModel, error) {
	var images []models.ImageModel
	err := s.db.Select("id, user_id, filename, content_type, size, created_at, updated_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&images).Error
	return images, err
}

func (s *Service) Save(userID uint, filename, contentType string, data []byte) (*models.ImageModel, error) {
	img := models.ImageModel{
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
	return &img, s.db.Create(&img).Error
}

// Delete is allowed for the uploader and for admins.
func (s *Service) Delete(userID, id uint) error {
	img, err := s.Get(id)
	if err != nil {
		return err
	}
	if img.UserID != userID && !roles.IsAdmin(s.roles, userID) {
		return gorm.ErrRecordNotFound
	}
	return s.db.Delete(img).Error
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authed ...gin.HandlerFunc) {
	rg.GET("/images/:id", h.serve)

	a := rg.Group("", authed...)
	a.GET("/images", h.list)
	a.POST("/images", h.upload)
	a.DELETE("/images/:id", h.delete)
}

func (h *Handler) serve(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	img, err := h.svc.Get(id)
	if err != nil {
		response.NotFound(c, "Image not found")
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(200, img.ContentType, img.Data)
}

func (h *Handler) list(c *gin.Context) {
	images, err := h.svc.ListForUser(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, images)
}

func (h *Handler) upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		response.BadRequest(c, "Image file is required")
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		response.PayloadTooLarge(c, "Image exceeds the size limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !allowedTypes[contentType] {
		response.BadRequest(c, "Unsupported image type")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		response.InternalError(c)
		return
	}
	if len(data) > maxUploadSize {
		response.PayloadTooLarge(c, "Image exceeds the size limit")
		return
	}

	img, err := h.svc.Save(middleware.CurrentUserID(c), header.Filename, contentType, data)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.Created(c, gin.H{
		"id":           img.ID,
		"filename":     img.Filename,
		"content_type": img.ContentType,
		"size":         img.Size,
	})
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(middleware.CurrentUserID(c), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Image not found")
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
