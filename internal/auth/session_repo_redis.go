package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	sessionKeyPrefix     = "trifecta-session||"
	userSessionKeyPrefix = "trifecta-user-sessions||"
	tokensSetKey         = "trifecta-sessions"
)

var _ SessionRepo = (*RedisSessionRepo)(nil)

// RedisSessionRepo stores every session as a JSON value which expires together with the session.
// Tokens are also kept in a global set and a per-user set, and are pruned from
// those sets when their session key is gone.
type RedisSessionRepo struct {
	redisClient *redis.Client
}

func NewRedisSessionRepo(redisClient *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{
		redisClient: redisClient,
	}
}

func userSessionsKey(userID uint64) string {
	return userSessionKeyPrefix + strconv.FormatUint(userID, 10)
}

func (r *RedisSessionRepo) Add(ctx context.Context, session *Session) error {
	sessionJson, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	sessionKey := sessionKeyPrefix + session.Token
	if err := r.redisClient.Set(ctx, sessionKey, string(sessionJson), session.TTL()).Err(); err != nil {
		return err
	}

	if err := r.redisClient.SAdd(ctx, tokensSetKey, session.Token).Err(); err != nil {
		return err
	}

	if err := r.redisClient.SAdd(ctx, userSessionsKey(session.UserID), session.Token).Err(); err != nil {
		return err
	}

	return nil
}

func (r *RedisSessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	cmd := r.redisClient.Get(ctx, sessionKeyPrefix+token)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session := &Session{}
	if err := json.Unmarshal([]byte(cmd.Val()), session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (r *RedisSessionRepo) Delete(ctx context.Context, token string) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		return err
	}

	if err := r.redisClient.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return err
	}

	if err := r.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
		return err
	}

	if err := r.redisClient.SRem(ctx, userSessionsKey(session.UserID), token).Err(); err != nil {
		return err
	}

	return nil
}

func (r *RedisSessionRepo) ListByUser(ctx context.Context, userID uint64) ([]*Session, error) {
	return r.listSet(ctx, userSessionsKey(userID))
}

func (r *RedisSessionRepo) ListAll(ctx context.Context) ([]*Session, error) {
	return r.listSet(ctx, tokensSetKey)
}

func (r *RedisSessionRepo) listSet(ctx context.Context, setKey string) ([]*Session, error) {
	cmd := r.redisClient.SMembers(ctx, setKey)
	if err := cmd.Err(); err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, token := range cmd.Val() {
		session, err := r.Get(ctx, token)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				return nil, err
			}
			// the session key expired, drop the token from the set
			if err := r.redisClient.SRem(ctx, setKey, token).Err(); err != nil {
				log.Errorf("redis sessions, prune token from %s: %s", setKey, err)
			}
			continue
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}
