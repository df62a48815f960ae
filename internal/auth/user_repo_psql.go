package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ UserRepo = (*PsqlUserRepo)(nil)

type PsqlUserRepo struct {
	db *pgxpool.Pool
}

func NewPsqlUserRepo(db *pgxpool.Pool) *PsqlUserRepo {
	return &PsqlUserRepo{
		db: db,
	}
}

func (r *PsqlUserRepo) Add(ctx context.Context, user *User) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(
		ctx,
		`INSERT INTO trifecta_user (id, username, password_hash, is_admin, created_at) VALUES ($1, $2, $3, $4, $5);`,
		int64(user.ID), user.Username, user.PasswordHash, user.IsAdmin, user.CreatedAt,
	)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return fmt.Errorf("add user %s: %w", user.Username, ErrUserExists)
		}
		return fmt.Errorf("add user %s: %w", user.Username, err)
	}

	return nil
}

func (r *PsqlUserRepo) GetByID(ctx context.Context, id uint64) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return r.getOne(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM trifecta_user
		WHERE id = $1
	`, int64(id))
}

func (r *PsqlUserRepo) GetByUsername(ctx context.Context, username string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.getbyname")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return r.getOne(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM trifecta_user
		WHERE username = $1
	`, username)
}

func (r *PsqlUserRepo) getOne(ctx context.Context, query string, arg any) (*User, error) {
	var id int64
	user := &User{}
	err := r.db.
		QueryRow(ctx, query, arg).
		Scan(&id, &user.Username, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.ID = uint64(id)
	return user, nil
}

func (r *PsqlUserRepo) SetPasswordHash(ctx context.Context, id uint64, passwordHash string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.setpassword")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE trifecta_user SET password_hash = $1 WHERE id = $2;`,
		passwordHash, int64(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PsqlUserRepo) List(ctx context.Context) (_ []*User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM trifecta_user
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var id int64
		user := &User{}
		if err := rows.Scan(&id, &user.Username, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		user.ID = uint64(id)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}
