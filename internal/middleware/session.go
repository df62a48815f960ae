package middleware

import (
	"context"
	"net/http"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"go.opentelemetry.io/otel/attribute"
)

const SessionCookieName = "session"

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=middleware_test

type sessionResolver interface {
	ResolveSession(ctx context.Context, token string) access.Subject
}

// Session resolves the session cookie of every request into a subject and stores it in the
// request context. Requests without a (valid) session carry the anonymous subject.
func Session(resolver sessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.session")

			subject := access.Anonymous()
			if cookieHeader := r.Header.Get("Cookie"); cookieHeader != "" {
				token := pkg.ParseCookies(cookieHeader)[SessionCookieName]
				subject = resolver.ResolveSession(ctx, token)
			}
			span.SetAttributes(attribute.String("subject", subject.String()))
			span.End()

			next.ServeHTTP(w, r.WithContext(access.WithSubject(r.Context(), subject)))
		})
	}
}
