package content

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/pkg"

	log "github.com/sirupsen/logrus"
)

// UploadPart is one decoded file part of an upload request.
type UploadPart struct {
	Filename string
	MimeType string
	Data     []byte
	// short id of an existing post, empty for a new post
	PostID string
}

type UploadResult struct {
	ID     string `json:"id"`
	PostID string `json:"postId"`
}

// Ingest stores the uploaded image into the given or into a new post.
func (s *Service) Ingest(ctx context.Context, subject access.Subject, part UploadPart) (*UploadResult, error) {
	var postID *uint64
	if part.PostID != "" {
		id, err := pkg.ParseShortID(part.PostID)
		if err != nil {
			return nil, ErrNotFound
		}
		postID = &id
	}

	if len(part.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedUpload)
	}
	if int64(len(part.Data)) > s.maxUploadSize {
		return nil, fmt.Errorf("%w: file larger than %d bytes", ErrMalformedUpload, s.maxUploadSize)
	}

	// the claimed type is only logged, stored images always carry the sniffed one
	mimeType := http.DetectContentType(part.Data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: not an image (claimed [%s], detected [%s])", ErrMalformedUpload, part.MimeType, mimeType)
	}
	if part.MimeType != "" && part.MimeType != mimeType {
		log.Debugf("upload [%s] claimed type [%s], detected [%s]", part.Filename, part.MimeType, mimeType)
	}

	post, image, err := s.AppendImage(ctx, subject, postID, part.Data, mimeType)
	if err != nil {
		return nil, err
	}

	log.Tracef("upload [%s] stored as image %d of post %d", part.Filename, image.ID, post.ID)

	return &UploadResult{
		ID:     pkg.MakeShortID(image.ID),
		PostID: pkg.MakeShortID(post.ID),
	}, nil
}
