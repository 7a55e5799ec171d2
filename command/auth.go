package command

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/config"
	"github.com/serbia-gov/eventflow/ferrors"
)

// Claims mirrors the teacher's JWT claims shape
// (internal/shared/auth/middleware.go), trimmed to the fields a command
// bus actually needs to stamp into the ExecutionContext: who issued the
// command, for audit/authorization purposes downstream in domain
// command handlers.
type Claims struct {
	jwt.RegisteredClaims
	ActorID string `json:"actor_id"`
}

// actorClaimsKey is the type IdentityMiddleware uses to carry the
// parsed Claims beyond just ActorID, for handlers that need more than
// the bare actor id string already on ExecutionContext.ActorID.
type actorClaimsKey struct{}

// ClaimsFrom returns the Claims IdentityMiddleware attached to ctx, if
// any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(actorClaimsKey{}).(*Claims)
	return c, ok
}

// BearerTokenFunc extracts the raw bearer token a caller attached to a
// command dispatch. The framework has no HTTP layer of its own (command
// dispatch isn't an HTTP concern here), so the token's origin is left to
// the embedding application — typically read off a context value the
// application's own transport layer set before calling Bus.Dispatch.
type BearerTokenFunc func(ctx context.Context) (token string, ok bool)

// IdentityMiddleware parses a bearer token (via tokenFunc) using
// cfg.JWTSecret, and on success stamps the resulting actor id into the
// ExecutionContext on ctx before calling next. A missing token is not an
// error — commands dispatched without an authenticated actor (internal
// system commands, tests) proceed with an empty ActorID. An invalid
// token is a Validation error.
func IdentityMiddleware(cfg config.AuthConfig, tokenFunc BearerTokenFunc) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd eventflow.Command) (any, error) {
			raw, ok := tokenFunc(ctx)
			if !ok || strings.TrimSpace(raw) == "" {
				return next(ctx, cmd)
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithIssuer(cfg.Issuer))
			if err != nil {
				return nil, ferrors.Wrap(ferrors.Validation, err, "invalid bearer token")
			}

			ec, _ := eventflow.ExecutionContextFrom(ctx)
			ec.ActorID = claims.ActorID
			ctx = eventflow.WithExecutionContext(ctx, ec)
			ctx = context.WithValue(ctx, actorClaimsKey{}, claims)
			return next(ctx, cmd)
		}
	}
}
