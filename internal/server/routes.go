package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/costtrail/internal/api/v1"
	"github.com/gosuda/costtrail/internal/api/ws"
	"github.com/gosuda/costtrail/internal/config"
)

func registerAuthRoutes(api huma.API, cfg *config.Config) {
	v1.RegisterAuthRoutes(api, cfg.JWT.Secret, cfg.JWT.AccessTTL)
}

func registerAPIRoutes(api huma.API, svc Services) {
	v1.RegisterBreakdownRoutes(api, svc.Breakdowns)
	v1.RegisterVarianceRoutes(api, svc.Variance)
	v1.RegisterImportRoutes(api, svc.Imports)
	v1.RegisterAuditRoutes(api, svc.Audit, svc.IntegrityAlert)
	v1.RegisterReportRoutes(api, svc.Reports, svc.Verifier)
	v1.RegisterComplianceRoutes(api, svc.Compliance)
	v1.RegisterChangeRequestRoutes(api, svc.ChangeRequests)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/projects/{projectID}", hub.ServeProject)
	r.Get("/tenant", hub.ServeTenant)
}
