package content

import (
	"context"
	"sort"
	"sync"
)

var _ Repo = (*MemoryRepo)(nil)

// MemoryRepo keeps posts and images in maps guarded by one lock, which makes
// appends atomic with respect to a post's image list.
type MemoryRepo struct {
	mutex  sync.RWMutex
	posts  map[uint64]*Post
	images map[uint64]*Image
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		posts:  make(map[uint64]*Post),
		images: make(map[uint64]*Image),
	}
}

func imageInfo(image *Image) *Image {
	info := *image
	info.Data = nil
	return &info
}

func postCopy(post *Post) *Post {
	p := *post
	p.Images = make([]*Image, 0, len(post.Images))
	for _, image := range post.Images {
		p.Images = append(p.Images, imageInfo(image))
	}
	return &p
}

func (r *MemoryRepo) AddPost(_ context.Context, post *Post) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p := *post
	p.Images = nil
	r.posts[p.ID] = &p
	return nil
}

func (r *MemoryRepo) GetPost(_ context.Context, postID uint64) (*Post, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	post, ok := r.posts[postID]
	if !ok {
		return nil, ErrNotFound
	}
	return postCopy(post), nil
}

func (r *MemoryRepo) ListPosts(_ context.Context, ownerID *uint64) ([]*Post, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var posts []*Post
	for _, post := range r.posts {
		if ownerID != nil && post.OwnerID != *ownerID {
			continue
		}
		posts = append(posts, postCopy(post))
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

func (r *MemoryRepo) SetPostTitle(_ context.Context, postID uint64, title string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.posts[postID]
	if !ok {
		return ErrNotFound
	}
	post.Title = title
	return nil
}

func (r *MemoryRepo) SetPostPublic(_ context.Context, postID uint64, public bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.posts[postID]
	if !ok {
		return ErrNotFound
	}
	post.IsPublic = public
	return nil
}

func (r *MemoryRepo) DeletePost(_ context.Context, postID uint64) ([]uint64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.posts[postID]
	if !ok {
		return nil, ErrNotFound
	}

	imageIDs := make([]uint64, 0, len(post.Images))
	for _, image := range post.Images {
		delete(r.images, image.ID)
		imageIDs = append(imageIDs, image.ID)
	}
	delete(r.posts, postID)
	return imageIDs, nil
}

func (r *MemoryRepo) AppendImage(_ context.Context, image *Image) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.posts[image.PostID]
	if !ok {
		return ErrNotFound
	}

	i := *image
	r.images[i.ID] = &i
	post.Images = append(post.Images, &i)
	return nil
}

func (r *MemoryRepo) GetImage(_ context.Context, imageID uint64) (*Image, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	image, ok := r.images[imageID]
	if !ok {
		return nil, ErrNotFound
	}
	return imageInfo(image), nil
}

func (r *MemoryRepo) GetImageData(_ context.Context, imageID uint64) ([]byte, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	image, ok := r.images[imageID]
	if !ok {
		return nil, ErrNotFound
	}
	return image.Data, nil
}

func (r *MemoryRepo) SetImageCaption(_ context.Context, imageID uint64, caption string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	image, ok := r.images[imageID]
	if !ok {
		return ErrNotFound
	}
	image.Caption = caption
	return nil
}

func (r *MemoryRepo) DeleteImage(_ context.Context, imageID uint64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	image, ok := r.images[imageID]
	if !ok {
		return ErrNotFound
	}
	delete(r.images, imageID)

	if post, ok := r.posts[image.PostID]; ok {
		for i, img := range post.Images {
			if img.ID == imageID {
				post.Images = append(post.Images[:i:i], post.Images[i+1:]...)
				break
			}
		}
	}
	return nil
}
