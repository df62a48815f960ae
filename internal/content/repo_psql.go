package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var _ Repo = (*PsqlRepo)(nil)

type PsqlRepo struct {
	db *pgxpool.Pool
}

func NewPsqlRepo(db *pgxpool.Pool) *PsqlRepo {
	return &PsqlRepo{
		db: db,
	}
}

func (r *PsqlRepo) AddPost(ctx context.Context, post *Post) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.addpost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(
		ctx,
		`INSERT INTO post (id, owner_id, title, is_public, created_at) VALUES ($1, $2, $3, $4, $5);`,
		int64(post.ID), int64(post.OwnerID), post.Title, post.IsPublic, post.CreatedAt,
	)
	if err != nil {
		if pkg.IsForeignKeyViolationError(err) {
			return fmt.Errorf("%w: owner %d", ErrNotFound, post.OwnerID)
		}
		return fmt.Errorf("add post: %w", err)
	}
	return nil
}

func (r *PsqlRepo) GetPost(ctx context.Context, postID uint64) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.getpost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var id, ownerID int64
	post := &Post{}
	err = r.db.
		QueryRow(ctx, `
			SELECT id, owner_id, title, is_public, created_at
			FROM post
			WHERE id = $1
		`, int64(postID)).
		Scan(&id, &ownerID, &post.Title, &post.IsPublic, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	post.ID = uint64(id)
	post.OwnerID = uint64(ownerID)

	images, err := r.listImages(ctx, []uint64{post.ID})
	if err != nil {
		return nil, err
	}
	post.Images = images[post.ID]

	return post, nil
}

// listImages returns the images (without data) of the given posts, grouped by post id, in upload order.
func (r *PsqlRepo) listImages(ctx context.Context, postIDs []uint64) (map[uint64][]*Image, error) {
	ids := make([]int64, 0, len(postIDs))
	for _, id := range postIDs {
		ids = append(ids, int64(id))
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, post_id, mime_type, caption, created_at
		FROM image
		WHERE post_id = ANY($1)
		ORDER BY post_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make(map[uint64][]*Image, len(postIDs))
	for rows.Next() {
		var id, postID int64
		image := &Image{}
		if err := rows.Scan(&id, &postID, &image.MimeType, &image.Caption, &image.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		image.ID = uint64(id)
		image.PostID = uint64(postID)
		images[image.PostID] = append(images[image.PostID], image)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return images, nil
}

func (r *PsqlRepo) ListPosts(ctx context.Context, ownerID *uint64) (_ []*Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.listposts")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Bool("all", ownerID == nil))

	var rows pgx.Rows
	if ownerID == nil {
		rows, err = r.db.Query(ctx, `
			SELECT id, owner_id, title, is_public, created_at
			FROM post
			ORDER BY created_at DESC
		`)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT id, owner_id, title, is_public, created_at
			FROM post
			WHERE owner_id = $1
			ORDER BY created_at DESC
		`, int64(*ownerID))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	var postIDs []uint64
	for rows.Next() {
		var id, owner int64
		post := &Post{}
		if err := rows.Scan(&id, &owner, &post.Title, &post.IsPublic, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		post.ID = uint64(id)
		post.OwnerID = uint64(owner)
		posts = append(posts, post)
		postIDs = append(postIDs, post.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(posts) == 0 {
		return posts, nil
	}

	images, err := r.listImages(ctx, postIDs)
	if err != nil {
		return nil, err
	}
	for _, post := range posts {
		post.Images = images[post.ID]
	}

	return posts, nil
}

func (r *PsqlRepo) SetPostTitle(ctx context.Context, postID uint64, title string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.setposttitle")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `UPDATE post SET title = $1 WHERE id = $2;`, title, int64(postID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PsqlRepo) SetPostPublic(ctx context.Context, postID uint64, public bool) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.setpostpublic")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `UPDATE post SET is_public = $1 WHERE id = $2;`, public, int64(postID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PsqlRepo) DeletePost(ctx context.Context, postID uint64) (_ []uint64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.deletepost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `DELETE FROM image WHERE post_id = $1 RETURNING id;`, int64(postID))
	if err != nil {
		return nil, err
	}
	var imageIDs []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		imageIDs = append(imageIDs, uint64(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM post WHERE id = $1;`, int64(postID))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return imageIDs, nil
}

// AppendImage locks the post row, so concurrent appends to the same post are serialized
// and every image gets the next position.
func (r *PsqlRepo) AppendImage(ctx context.Context, image *Image) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.appendimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var lockedID int64
	err = tx.QueryRow(ctx, `SELECT id FROM post WHERE id = $1 FOR UPDATE;`, int64(image.PostID)).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO image (id, post_id, position, data, mime_type, caption, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(position) + 1, 0) FROM image WHERE post_id = $2), $3, $4, $5, $6);
	`,
		int64(image.ID), lockedID, image.Data, image.MimeType, image.Caption, image.CreatedAt,
	)
	if err != nil {
		if pkg.IsForeignKeyViolationError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert image: %w", err)
	}

	return nil
}

func (r *PsqlRepo) GetImage(ctx context.Context, imageID uint64) (_ *Image, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.getimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var id, postID int64
	image := &Image{}
	err = r.db.
		QueryRow(ctx, `
			SELECT id, post_id, mime_type, caption, created_at
			FROM image
			WHERE id = $1
		`, int64(imageID)).
		Scan(&id, &postID, &image.MimeType, &image.Caption, &image.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	image.ID = uint64(id)
	image.PostID = uint64(postID)
	return image, nil
}

func (r *PsqlRepo) GetImageData(ctx context.Context, imageID uint64) (_ []byte, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.getimagedata")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var data []byte
	err = r.db.QueryRow(ctx, `SELECT data FROM image WHERE id = $1`, int64(imageID)).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (r *PsqlRepo) SetImageCaption(ctx context.Context, imageID uint64, caption string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.setimagecaption")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `UPDATE image SET caption = $1 WHERE id = $2;`, caption, int64(imageID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PsqlRepo) DeleteImage(ctx context.Context, imageID uint64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.content.deleteimage")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `DELETE FROM image WHERE id = $1;`, int64(imageID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
