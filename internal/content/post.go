package content

import (
	"context"
	"errors"
	"time"

	"github.com/2beens/trifecta/internal/access"
)

var (
	// ErrNotFound is also returned for content the subject is not allowed to see.
	ErrNotFound        = errors.New("not found")
	ErrMalformedUpload = errors.New("malformed upload")
)

type Post struct {
	ID        uint64
	OwnerID   uint64
	Title     string
	IsPublic  bool
	CreatedAt time.Time
	// in upload order, without image data
	Images []*Image
}

func (p *Post) Resource() access.Resource {
	return access.Resource{
		OwnerID: p.OwnerID,
		Public:  p.IsPublic,
	}
}

type Image struct {
	ID        uint64
	PostID    uint64
	Data      []byte
	MimeType  string
	Caption   string
	CreatedAt time.Time
}

type Repo interface {
	AddPost(ctx context.Context, post *Post) error
	// GetPost returns the post with its images, without the image data.
	GetPost(ctx context.Context, postID uint64) (*Post, error)
	// ListPosts lists the posts of one owner, or all posts if ownerID is nil. Newest first.
	ListPosts(ctx context.Context, ownerID *uint64) ([]*Post, error)
	SetPostTitle(ctx context.Context, postID uint64, title string) error
	SetPostPublic(ctx context.Context, postID uint64, public bool) error
	// DeletePost removes the post with its images and returns the removed image ids.
	DeletePost(ctx context.Context, postID uint64) ([]uint64, error)

	// AppendImage adds the image at the end of its post's image list, atomically.
	AppendImage(ctx context.Context, image *Image) error
	// GetImage returns the image without its data.
	GetImage(ctx context.Context, imageID uint64) (*Image, error)
	GetImageData(ctx context.Context, imageID uint64) ([]byte, error)
	SetImageCaption(ctx context.Context, imageID uint64, caption string) error
	DeleteImage(ctx context.Context, imageID uint64) error
}
