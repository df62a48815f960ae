package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/internal/middleware"
	"github.com/2beens/trifecta/internal/telemetry/metrics"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// form bodies of the auth endpoints are tiny
const maxFormMemory = 1 << 16

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

type okResponse struct {
	Ok      int    `json:"ok"`
	Message string `json:"message,omitempty"`
}

type createUserResponse struct {
	Ok int    `json:"ok"`
	ID string `json:"id"`
}

type statusResponse struct {
	Login bool   `json:"login"`
	User  string `json:"user,omitempty"`
	Admin *bool  `json:"admin,omitempty"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

// SetupRoutes registers the auth endpoints. The login route is rate limited only when a limiter is given.
func (h *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	loginRateLimitPerMin int,
	metricsManager *metrics.Manager,
) {
	var loginHandler http.Handler = http.HandlerFunc(h.handleLogin)
	if rateLimiter != nil {
		loginHandler = middleware.RateLimit(rateLimiter, "login", loginRateLimitPerMin, metricsManager)(loginHandler)
	}
	mainRouter.Handle("/login", loginHandler).Methods("POST").Name("login")

	mainRouter.HandleFunc("/logout", h.handleLogout).Methods("POST", "GET").Name("logout")
	mainRouter.HandleFunc("/status", h.handleStatus).Methods("GET").Name("status")
	mainRouter.HandleFunc("/create-user", h.handleCreateUser).Methods("POST").Name("create-user")
	mainRouter.HandleFunc("/change-my-password", h.handleChangePassword).Methods("POST").Name("change-my-password")
	mainRouter.HandleFunc("/all-users", h.handleAllUsers).Methods("GET").Name("all-users")
	mainRouter.HandleFunc("/my-sessions", h.handleMySessions).Methods("GET").Name("my-sessions")
	mainRouter.HandleFunc("/kill-session/{sessionId}", h.handleKillSession).Methods("POST").Name("kill-session")
}

func sessionCookie(token string, maxAge time.Duration) string {
	return fmt.Sprintf(
		"%s=%s; SameSite=Strict; Path=/; Max-Age=%d",
		middleware.SessionCookieName, token, int64(maxAge.Seconds()),
	)
}

func sessionToken(r *http.Request) string {
	return pkg.ParseCookies(r.Header.Get("Cookie"))[middleware.SessionCookieName]
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, access.ErrForbidden), errors.Is(err, ErrInvalidCredentials):
		pkg.WriteJSONResponse(w, http.StatusForbidden, okResponse{Ok: 0, Message: "forbidden"})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUserNotFound):
		pkg.WriteJSONResponse(w, http.StatusNotFound, okResponse{Ok: 0, Message: "not found"})
	case errors.Is(err, ErrUserExists):
		pkg.WriteJSONResponse(w, http.StatusConflict, okResponse{Ok: 0, Message: "user already exists"})
	case errors.Is(err, ErrInvalidUserInput), errors.Is(err, pkg.ErrMalformedRequest):
		pkg.WriteJSONResponse(w, http.StatusBadRequest, okResponse{Ok: 0, Message: err.Error()})
	default:
		log.Errorf("%s: %s", op, err)
		pkg.WriteJSONResponse(w, http.StatusInternalServerError, okResponse{Ok: 0, Message: "internal error"})
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	fields, err := pkg.ReadFormFields(r, maxFormMemory)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}

	session, err := h.service.Login(ctx, fields["user"], fields["password"])
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Tracef("failed login attempt for user: %s", fields["user"])
			pkg.WriteJSONResponseOK(w, okResponse{Ok: 0, Message: "invalid credentials"})
			return
		}
		h.writeError(w, "login", err)
		return
	}

	w.Header().Add("Set-Cookie", sessionCookie(session.Token, h.service.TTL()))
	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.logout")
	defer span.End()

	if err := h.service.Logout(ctx, sessionToken(r)); err != nil {
		h.writeError(w, "logout", err)
		return
	}

	w.Header().Add("Set-Cookie", sessionCookie("", 0))
	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	subject := access.SubjectFromContext(r.Context())
	if subject.IsAnonymous() {
		pkg.WriteJSONResponseOK(w, statusResponse{Login: false})
		return
	}

	isAdmin := subject.IsAdmin()
	pkg.WriteJSONResponseOK(w, statusResponse{
		Login: true,
		User:  subject.Username(),
		Admin: &isAdmin,
	})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.createUser")
	defer span.End()

	subject := access.SubjectFromContext(ctx)
	if !subject.IsAdmin() {
		h.writeError(w, "create user", access.ErrForbidden)
		return
	}

	fields, err := pkg.ReadFormFields(r, maxFormMemory)
	if err != nil {
		h.writeError(w, "create user", err)
		return
	}

	user, err := h.service.CreateUser(ctx, subject, fields["user"], fields["password1"])
	if err != nil {
		h.writeError(w, "create user", err)
		return
	}

	pkg.WriteJSONResponseOK(w, createUserResponse{Ok: 1, ID: pkg.MakeShortID(user.ID)})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.changePassword")
	defer span.End()

	subject := access.SubjectFromContext(ctx)
	if subject.IsAnonymous() {
		h.writeError(w, "change password", access.ErrForbidden)
		return
	}

	fields, err := pkg.ReadFormFields(r, maxFormMemory)
	if err != nil {
		h.writeError(w, "change password", err)
		return
	}

	if err := h.service.ChangePassword(ctx, subject, fields["password0"], fields["password1"]); err != nil {
		h.writeError(w, "change password", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleAllUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.allUsers")
	defer span.End()

	users, err := h.service.ListUsers(ctx, access.SubjectFromContext(ctx))
	if err != nil {
		h.writeError(w, "list users", err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			ID:        pkg.MakeShortID(u.ID),
			Username:  u.Username,
			Admin:     u.IsAdmin,
			CreatedAt: u.CreatedAt,
		})
	}
	pkg.WriteJSONResponseOK(w, resp)
}

func (h *Handler) handleMySessions(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.mySessions")
	defer span.End()

	sessions, err := h.service.ListSessions(ctx, access.SubjectFromContext(ctx))
	if err != nil {
		h.writeError(w, "list sessions", err)
		return
	}

	currentToken := sessionToken(r)
	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse{
			ID:        pkg.MakeShortID(s.ID),
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.Token == currentToken,
		})
	}
	pkg.WriteJSONResponseOK(w, resp)
}

func (h *Handler) handleKillSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.killSession")
	defer span.End()

	sessionID, err := pkg.ParseShortID(mux.Vars(r)["sessionId"])
	if err != nil {
		h.writeError(w, "kill session", ErrSessionNotFound)
		return
	}

	if err := h.service.KillSession(ctx, access.SubjectFromContext(ctx), sessionID); err != nil {
		h.writeError(w, "kill session", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}
