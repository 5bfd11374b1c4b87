package models

// PostModel is a blog post. The CRUD handlers around it are thin
// parameterized-query wrappers gated by the security pipeline.
type PostModel struct {
	Base
	Title   string `json:"title"   gorm:"size:255;not null"`
	Content string `json:"content" gorm:"type:longtext"`
	UserID  uint   `json:"user_id" gorm:"index;not null"`
}

func (PostModel) TableName() string { return "posts" }

// CommentModel is a comment on a post.
type CommentModel struct {
	Base
	PostID  uint   `json:"post_id" gorm:"index;not null"`
	UserID  uint   `json:"user_id" gorm:"index;not null"`
	Content string `json:"content" gorm:"type:text;not null"`
}

func (CommentModel) TableName() string { return "comments" }

// ImageModel stores an uploaded image blob.
type ImageModel struct {
	Base
	UserID      uint   `json:"user_id"      gorm:"index;not null"`
	Filename    string `json:"filename"     gorm:"size:255;not null"`
	ContentType string `json:"content_type" gorm:"size:64"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"            gorm:"type:longblob"`
}

func (ImageModel) TableName() string { return "images" }
