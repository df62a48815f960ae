package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/internal/telemetry/metrics"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultTTL = 24 * 7 * time.Hour

// compared against when the username is unknown, so both login failures cost the same;
// bcrypt hash of "trifecta-dummy-password" with the cost used for user passwords
const dummyPasswordHash = "$2a$12$bpfpKtaV9S0mlpmKimQsseht2/Escbe/8PlZa8/zVpNmaKR4zC/RS"

type Service struct {
	users    UserRepo
	sessions SessionRepo
	ttl      time.Duration
	metrics  *metrics.Manager

	// injectable for tests
	Now             func() time.Time
	NewSessionToken func() (string, error)
}

type NewServiceParams struct {
	Users    UserRepo
	Sessions SessionRepo
	TTL      time.Duration
	Metrics  *metrics.Manager
}

func NewService(params NewServiceParams) *Service {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	metricsManager := params.Metrics
	if metricsManager == nil {
		metricsManager = metrics.NewTestManager()
	}

	return &Service{
		users:           params.Users,
		sessions:        params.Sessions,
		ttl:             ttl,
		metrics:         metricsManager,
		Now:             time.Now,
		NewSessionToken: newSessionToken,
	}
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

func newSessionToken() (string, error) {
	b, err := pkg.GenerateRandomBytes(8)
	if err != nil {
		return "", err
	}
	return pkg.MakeShortID(binary.LittleEndian.Uint64(b)), nil
}

func (s *Service) Login(ctx context.Context, username, password string) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.login")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("username", username))

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.metrics.CounterLogins.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("get user: %w", err)
		}
		pkg.CheckPasswordHash(password, dummyPasswordHash)
		s.metrics.CounterLogins.WithLabelValues("failed").Inc()
		return nil, ErrInvalidCredentials
	}

	if !pkg.CheckPasswordHash(password, user.PasswordHash) {
		s.metrics.CounterLogins.WithLabelValues("failed").Inc()
		return nil, ErrInvalidCredentials
	}

	token, err := s.NewSessionToken()
	if err != nil {
		s.metrics.CounterLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate token: %w", err)
	}
	sessionID, err := pkg.NewRandomID()
	if err != nil {
		s.metrics.CounterLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := s.Now()
	session := &Session{
		ID:        sessionID,
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Add(ctx, session); err != nil {
		s.metrics.CounterLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.metrics.CounterLogins.WithLabelValues("ok").Inc()
	log.Debugf("auth service, user %s logged in", user.Username)

	return session, nil
}

// ResolveSession never fails: unknown, expired or broken sessions resolve to the anonymous subject.
func (s *Service) ResolveSession(ctx context.Context, token string) access.Subject {
	if token == "" {
		return access.Anonymous()
	}

	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.resolve")
	defer span.End()

	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Errorf("auth service, resolve session: %s", err)
		}
		return access.Anonymous()
	}

	if session.ExpiredAt(s.Now()) {
		if err := s.sessions.Delete(ctx, token); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Errorf("auth service, delete expired session: %s", err)
		}
		return access.Anonymous()
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.Errorf("auth service, resolve session user: %s", err)
		} else {
			log.Warnf("auth service, session of unknown user %d", session.UserID)
		}
		return access.Anonymous()
	}

	return access.Authenticated(user.ID, user.Username, user.IsAdmin)
}

// Logout is idempotent, logging out an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.logout")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func validateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidUserInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("%w: username contains whitespace", ErrInvalidUserInput)
	}
	if password == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidUserInput)
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, requestor access.Subject, username, password string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.createuser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !requestor.IsAdmin() {
		return nil, access.ErrForbidden
	}
	return s.addUser(ctx, username, password, false)
}

func (s *Service) addUser(ctx context.Context, username, password string, isAdmin bool) (*User, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	passwordHash, err := pkg.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := pkg.NewRandomID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	user := &User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.Now(),
	}
	if err := s.users.Add(ctx, user); err != nil {
		return nil, err
	}

	log.Infof("auth service, user %s created [admin: %t]", username, isAdmin)
	return user, nil
}

// EnsureAdmin creates the admin user on startup, unless it is already there.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (*User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		if !user.IsAdmin {
			return nil, fmt.Errorf("user %s exists, but is not an admin", username)
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get admin user: %w", err)
	}

	if password == "" {
		return nil, errors.New("admin user missing and admin password not set")
	}

	return s.addUser(ctx, username, password, true)
}

func (s *Service) ChangePassword(ctx context.Context, subject access.Subject, oldPassword, newPassword string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.changepassword")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	userID, ok := subject.UserID()
	if !ok {
		return access.ErrForbidden
	}
	if newPassword == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidUserInput)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if !pkg.CheckPasswordHash(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	passwordHash, err := pkg.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.SetPasswordHash(ctx, userID, passwordHash)
}

func (s *Service) ListUsers(ctx context.Context, subject access.Subject) ([]*User, error) {
	if !subject.IsAdmin() {
		return nil, access.ErrForbidden
	}
	return s.users.List(ctx)
}

// ListSessions returns the live sessions of the subject, oldest first.
func (s *Service) ListSessions(ctx context.Context, subject access.Subject) ([]*Session, error) {
	userID, ok := subject.UserID()
	if !ok {
		return nil, access.ErrForbidden
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	live := make([]*Session, 0, len(sessions))
	for _, session := range sessions {
		if !session.ExpiredAt(now) {
			live = append(live, session)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live, nil
}

// KillSession deletes one session by its id. Users can only see their own sessions,
// so the sessions of others are reported as not found. Admins can kill any session.
func (s *Service) KillSession(ctx context.Context, subject access.Subject, sessionID uint64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.killsession")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	userID, ok := subject.UserID()
	if !ok {
		return access.ErrForbidden
	}

	var sessions []*Session
	if subject.IsAdmin() {
		sessions, err = s.sessions.ListAll(ctx)
	} else {
		sessions, err = s.sessions.ListByUser(ctx, userID)
	}
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if session.ID == sessionID {
			return s.sessions.Delete(ctx, session.Token)
		}
	}

	return ErrSessionNotFound
}

// ScanAndClean will run through all sessions, check the expiry, and remove the expired ones.
func (s *Service) ScanAndClean(ctx context.Context) {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		log.Errorf("!!! auth service, scan and clean, get sessions: %s", err)
		return
	}

	if len(sessions) == 0 {
		log.Debugln("=> auth service, scan and clean abort, no sessions")
		return
	}

	log.Debugf("=> auth service, scan and clean [%d sessions] start ...", len(sessions))
	now := s.Now()
	cleaned := 0
	for _, session := range sessions {
		if !session.ExpiredAt(now) {
			continue
		}
		if err := s.sessions.Delete(ctx, session.Token); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Errorf("=> auth service, clean session %d: %s", session.ID, err)
			continue
		}
		cleaned++
	}

	s.metrics.CounterSessionsCleaned.Add(float64(cleaned))
	log.Debugf("=> auth service, scan and clean done, %d sessions removed", cleaned)
}

// RunScanAndClean sweeps the expired sessions every interval, until ctx is done.
func (s *Service) RunScanAndClean(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanAndClean(ctx)
		}
	}
}
