package http

import (
	"github.com/gofiber/fiber/v2"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Verifactu *appverifactu.Service
	JWTSecret string
	JWTIssuer string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	vf := api.Group("/verifactu", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer), RequireRole())
	h := NewVerifactuHandler(deps.Verifactu)

	writers := RequireRole(RoleAdmin, RoleOperador)
	adminOnly := RequireRole(RoleAdmin)

	invoices := vf.Group("/invoices")
	invoices.Post("/:id/issue", writers, h.Issue)
	invoices.Post("/:id/cancel", writers, h.Cancel)
	invoices.Post("/:id/retry", writers, h.Retry)
	invoices.Get("/:id/meta", h.GetMeta)
	invoices.Get("/:id/events", h.GetEvents)

	vf.Get("/config", h.GetConfig)
	vf.Get("/health", h.GetHealth)
	vf.Post("/dispatch", adminOnly, h.Dispatch)

	vf.Get("/dlq", h.ListDLQ)
	vf.Post("/dlq/:id/replay", adminOnly, h.ReplayDLQ)

	vf.Get("/chain/audit", h.AuditChain)
}
