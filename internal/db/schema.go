package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Schema creates the users, posts and images tables. It is idempotent.
//
//go:embed schema.sql
var Schema string

func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	tag, err := db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Debugf("db schema applied: %s", tag.String())
	return nil
}
