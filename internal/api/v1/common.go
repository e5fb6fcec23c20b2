package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/server/middleware"
)

// Role sets used by operations.
var (
	anyRole     = middleware.AllRoles()                                //nolint:gochecknoglobals // role table
	editorRoles = []string{middleware.RoleAdmin, middleware.RoleEditor}  //nolint:gochecknoglobals // role table
	auditRoles  = []string{middleware.RoleAdmin, middleware.RoleAuditor} //nolint:gochecknoglobals // role table
	adminRoles  = []string{middleware.RoleAdmin}                         //nolint:gochecknoglobals // role table
)

// requireRoles is an operation middleware rejecting callers outside roles.
func requireRoles(api huma.API, roles []string) huma.Middlewares {
	return huma.Middlewares{func(ctx huma.Context, next func(huma.Context)) {
		if _, ok := middleware.RoleFromContext(ctx.Context()); !ok {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}
		if !middleware.HasRole(ctx.Context(), roles...) {
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "insufficient permissions")
			return
		}
		next(ctx)
	}}
}

func tenantFrom(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok || tenantID == uuid.Nil {
		return uuid.Nil, huma.Error403Forbidden("missing tenant context")
	}
	return tenantID, nil
}

// callerFrom returns the tenant and the audit actor of the request.
func callerFrom(ctx context.Context) (uuid.UUID, domain.Actor, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return uuid.Nil, domain.Actor{}, err
	}
	actor, ok := middleware.ActorFromContext(ctx)
	if !ok {
		return uuid.Nil, domain.Actor{}, huma.Error401Unauthorized("missing user context")
	}
	return tenantID, actor, nil
}

// apiError maps domain errors onto HTTP problems. what names the resource
// for not-found messages and the action for internal errors.
func apiError(err error, what string) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return huma.Error400BadRequest(verr.Error())
	case errors.Is(err, domain.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(what + " not found")
	case errors.Is(err, domain.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden(err.Error())
	default:
		log.Error().Err(err).Str("resource", what).Msg("v1: request failed")
		return huma.Error500InternalServerError("failed to process " + what)
	}
}
