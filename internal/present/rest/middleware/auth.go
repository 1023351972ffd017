package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tentsuite/tent/internal/domain"
	"github.com/tentsuite/tent/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth   *service.AuthService
	config domain.Config
}

func NewAuthMiddleware(
	auth *service.AuthService,
	config domain.Config,
) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   auth,
		config: config,
	}
}

// IdentifyIdentity identifies the requester from a Hawk authorization
// header or a bewit query parameter. Identification failures never reject
// the request here; handlers decide what an anonymous caller may do.
func (s *AuthMiddleware) IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyIdentity")
		defer span.End()

		req := c.Request()
		authHeader := req.Header.Get("Authorization")

		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Hawk ") {
				span.RecordError(errors.New("only Hawk is acceptable"))
				goto skipCheckAuthorization
			}

			principal, err := s.auth.ValidateHeader(ctx, req.Method, req.URL, authHeader)
			if err != nil {
				span.RecordError(errors.Wrap(err, "hawk header validation failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, principal.UserID)
			ctx = context.WithValue(ctx, domain.RequesterTypeCtxKey, principal.Type)
			if principal.App != "" {
				ctx = context.WithValue(ctx, domain.RequesterAppCtxKey, principal.App)
			}
			span.SetAttributes(attribute.String("RequesterId", principal.UserID))
		} else if req.URL.Query().Get("bewit") != "" {
			principal, err := s.auth.ValidateBewit(ctx, req.Method, req.URL)
			if err != nil {
				span.RecordError(errors.Wrap(err, "bewit validation failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.RequesterTypeCtxKey, principal.Type)
			span.SetAttributes(attribute.String("RequesterType", domain.RequesterTypeString(principal.Type)))
		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
