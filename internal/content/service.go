package content

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/internal/telemetry/metrics"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultMaxUploadSize  = 32 * 1024 * 1024
	DefaultImageCacheSize = 64 * 1024 * 1024
)

type Service struct {
	repo          Repo
	metrics       *metrics.Manager
	maxUploadSize int64
	// image id -> image data; visibility is never decided from the cache
	imageCache *freecache.Cache

	// injectable for tests
	Now func() time.Time
}

type NewServiceParams struct {
	Repo           Repo
	Metrics        *metrics.Manager
	MaxUploadSize  int64
	ImageCacheSize int
}

func NewService(params NewServiceParams) *Service {
	maxUploadSize := params.MaxUploadSize
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	imageCacheSize := params.ImageCacheSize
	if imageCacheSize <= 0 {
		imageCacheSize = DefaultImageCacheSize
	}
	metricsManager := params.Metrics
	if metricsManager == nil {
		metricsManager = metrics.NewTestManager()
	}

	return &Service{
		repo:          params.Repo,
		metrics:       metricsManager,
		maxUploadSize: maxUploadSize,
		imageCache:    freecache.NewCache(imageCacheSize),
		Now:           time.Now,
	}
}

func (s *Service) MaxUploadSize() int64 {
	return s.maxUploadSize
}

func imageCacheKey(imageID uint64) []byte {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], imageID)
	return key[:]
}

// writablePost loads the post and checks the subject may change it. Posts the subject
// cannot even read are reported as not found.
func (s *Service) writablePost(ctx context.Context, subject access.Subject, postID uint64) (*Post, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(subject, post.Resource()) {
		return nil, ErrNotFound
	}
	if !access.CanWrite(subject, post.Resource()) {
		return nil, access.ErrForbidden
	}
	return post, nil
}

func (s *Service) readablePost(ctx context.Context, subject access.Subject, postID uint64) (*Post, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(subject, post.Resource()) {
		return nil, ErrNotFound
	}
	return post, nil
}

func (s *Service) CreatePost(ctx context.Context, subject access.Subject) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.createpost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	ownerID, ok := subject.UserID()
	if !ok {
		return nil, access.ErrForbidden
	}

	id, err := pkg.NewRandomID()
	if err != nil {
		return nil, fmt.Errorf("generate post id: %w", err)
	}

	post := &Post{
		ID:        id,
		OwnerID:   ownerID,
		IsPublic:  true,
		CreatedAt: s.Now(),
	}
	if err := s.repo.AddPost(ctx, post); err != nil {
		return nil, err
	}

	log.Debugf("content service, post %s created by %s", pkg.MakeShortID(id), subject)
	return post, nil
}

// AppendImage adds an image to the post, or to a new post when postID is nil.
func (s *Service) AppendImage(
	ctx context.Context,
	subject access.Subject,
	postID *uint64,
	data []byte,
	mimeType string,
) (_ *Post, _ *Image, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.appendimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("size", len(data)))

	if subject.IsAnonymous() {
		return nil, nil, access.ErrForbidden
	}

	imageID, err := pkg.NewRandomID()
	if err != nil {
		return nil, nil, fmt.Errorf("generate image id: %w", err)
	}

	var post *Post
	if postID == nil {
		post, err = s.CreatePost(ctx, subject)
	} else {
		post, err = s.writablePost(ctx, subject, *postID)
	}
	if err != nil {
		return nil, nil, err
	}

	image := &Image{
		ID:        imageID,
		PostID:    post.ID,
		Data:      data,
		MimeType:  mimeType,
		CreatedAt: s.Now(),
	}
	if err := s.repo.AppendImage(ctx, image); err != nil {
		if postID == nil {
			// no empty post for a failed first upload
			if _, delErr := s.repo.DeletePost(ctx, post.ID); delErr != nil {
				log.Errorf("append image, delete new post %d: %s", post.ID, delErr)
			}
		}
		return nil, nil, err
	}

	s.metrics.CounterUploads.Inc()
	s.metrics.HistogramUploadSize.Observe(float64(len(data)))

	post, err = s.repo.GetPost(ctx, post.ID)
	if err != nil {
		return nil, nil, err
	}

	return post, image, nil
}

func (s *Service) SetPostTitle(ctx context.Context, subject access.Subject, postID uint64, title string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.setposttitle")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if _, err := s.writablePost(ctx, subject, postID); err != nil {
		return err
	}
	return s.repo.SetPostTitle(ctx, postID, title)
}

func (s *Service) SetPostVisibility(ctx context.Context, subject access.Subject, postID uint64, public bool) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.setpostvisibility")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Bool("public", public))

	if _, err := s.writablePost(ctx, subject, postID); err != nil {
		return err
	}
	return s.repo.SetPostPublic(ctx, postID, public)
}

func (s *Service) SetImageCaption(ctx context.Context, subject access.Subject, imageID uint64, caption string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.setimagecaption")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	image, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	if _, err := s.writablePost(ctx, subject, image.PostID); err != nil {
		return err
	}
	return s.repo.SetImageCaption(ctx, imageID, caption)
}

// GetPost returns the post with its images (without data) in upload order.
func (s *Service) GetPost(ctx context.Context, subject access.Subject, postID uint64) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.getpost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return s.readablePost(ctx, subject, postID)
}

// GetImage returns the image with its data. The parent post decides who can see it.
func (s *Service) GetImage(ctx context.Context, subject access.Subject, imageID uint64) (_ *Image, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.getimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	image, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.readablePost(ctx, subject, image.PostID); err != nil {
		return nil, err
	}

	cacheKey := imageCacheKey(imageID)
	if data, err := s.imageCache.Get(cacheKey); err == nil {
		span.SetAttributes(attribute.Bool("cached", true))
		image.Data = data
		return image, nil
	}

	data, err := s.repo.GetImageData(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if err := s.imageCache.Set(cacheKey, data, 0); err != nil {
		// too large for the cache, which is fine
		log.Tracef("content service, cache image %d: %s", imageID, err)
	}

	image.Data = data
	return image, nil
}

// ListPosts lists the posts of the subject, or all posts for admins.
func (s *Service) ListPosts(ctx context.Context, subject access.Subject) (_ []*Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.listposts")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	userID, ok := subject.UserID()
	if !ok {
		return nil, access.ErrForbidden
	}
	if subject.IsAdmin() {
		return s.repo.ListPosts(ctx, nil)
	}
	return s.repo.ListPosts(ctx, &userID)
}

func (s *Service) DeleteImage(ctx context.Context, subject access.Subject, imageID uint64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.deleteimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	image, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	if _, err := s.writablePost(ctx, subject, image.PostID); err != nil {
		return err
	}
	if err := s.repo.DeleteImage(ctx, imageID); err != nil {
		return err
	}

	s.imageCache.Del(imageCacheKey(imageID))
	return nil
}

func (s *Service) DeletePost(ctx context.Context, subject access.Subject, postID uint64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.content.deletepost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if _, err := s.writablePost(ctx, subject, postID); err != nil {
		return err
	}

	imageIDs, err := s.repo.DeletePost(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete post: %w", err)
	}
	for _, imageID := range imageIDs {
		s.imageCache.Del(imageCacheKey(imageID))
	}

	log.Debugf("content service, post %s deleted by %s, %d images removed", pkg.MakeShortID(postID), subject, len(imageIDs))
	return nil
}
