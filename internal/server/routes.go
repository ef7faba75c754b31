package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/clinicore/caretrace/internal/api/v1"
	"github.com/clinicore/caretrace/internal/api/ws"
	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/compliance"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/session"
)

func registerPublicRoutes(api huma.API, credentials *auth.Verifier, sessions *session.Manager, audit *ledger.Service) {
	v1.RegisterSessionRoutes(api, credentials, sessions, audit)
}

func registerClinicalRoutes(api huma.API, audit *ledger.Service) {
	v1.RegisterAuditRecordRoutes(api, audit)
}

func registerOperatorRoutes(api huma.API, sessions *session.Manager, audit *ledger.Service, chain *ledger.Verifier, aggregator *compliance.Aggregator) {
	v1.RegisterAuditQueryRoutes(api, audit, chain)
	v1.RegisterComplianceRoutes(api, aggregator)
	v1.RegisterSessionAdminRoutes(api, sessions)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/alerts", hub.ServeAlerts)
}
