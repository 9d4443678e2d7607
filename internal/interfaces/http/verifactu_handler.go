package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-dispatcher/internal/application/dto"
	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
)

// VerifactuHandler maneja las peticiones HTTP de registro VeriFactu (protegido).
type VerifactuHandler struct {
	svc *appverifactu.Service
}

// NewVerifactuHandler construye el handler.
func NewVerifactuHandler(svc *appverifactu.Service) *VerifactuHandler {
	return &VerifactuHandler{svc: svc}
}

// Issue encola el alta de una factura emitida.
// POST /api/verifactu/invoices/:id/issue
func (h *VerifactuHandler) Issue(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	ev, created, err := h.svc.OnInvoiceIssued(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.EnqueueResponse{Created: created, Event: dto.ToEventResponse(ev)})
}

// Cancel encola la anulación de una factura aceptada.
// POST /api/verifactu/invoices/:id/cancel
func (h *VerifactuHandler) Cancel(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CancelInvoiceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
		}
	}
	ev, created, err := h.svc.RequestCancellation(c.Context(), companyID, c.Params("id"), in.Reason)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.EnqueueResponse{Created: created, Event: dto.ToEventResponse(ev)})
}

// Retry devuelve a la cola el último evento rechazado de la factura.
// POST /api/verifactu/invoices/:id/retry
func (h *VerifactuHandler) Retry(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	ev, err := h.svc.Retry(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToEventResponse(ev))
}

// GetMeta devuelve el estado VeriFactu de la factura.
// GET /api/verifactu/invoices/:id/meta
func (h *VerifactuHandler) GetMeta(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	view, err := h.svc.GetMeta(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToInvoiceMetaResponse(view.Meta, view.QRURL))
}

// GetEvents lista los eventos más recientes de la factura.
// GET /api/verifactu/invoices/:id/events?limit=
func (h *VerifactuHandler) GetEvents(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	limit := c.QueryInt("limit")
	events, err := h.svc.GetEvents(c.Context(), companyID, c.Params("id"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToEventList(events))
}

// GetConfig devuelve la política de reintentos.
// GET /api/verifactu/config
func (h *VerifactuHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(dto.ToRetryConfigResponse(h.svc.GetConfig()))
}

// GetHealth devuelve el resumen de la cola de la empresa del token.
// GET /api/verifactu/health
func (h *VerifactuHandler) GetHealth(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	health, err := h.svc.GetHealth(c.Context(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToHealthResponse(health))
}

// Dispatch fuerza una pasada del planificador.
// POST /api/verifactu/dispatch
func (h *VerifactuHandler) Dispatch(c *fiber.Ctx) error {
	res, err := h.svc.DispatchNow(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.DispatchResponse{
		Swept:        res.Swept,
		Reopened:     res.Reopened,
		Polled:       res.Polled,
		Accepted:     res.Accepted,
		Rejected:     res.Rejected,
		DeadLettered: res.DeadLettered,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
	})
}

// ListDLQ lista las entradas de la DLQ de la empresa.
// GET /api/verifactu/dlq?invoice_id=&limit=
func (h *VerifactuHandler) ListDLQ(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	limit := appverifactu.ClampLimit(c.QueryInt("limit"), appverifactu.DefaultDLQLimit)
	entries, err := h.svc.ListDLQ(c.Context(), companyID, c.Query("invoice_id"), limit)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]dto.DLQEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.ToDLQEntryResponse(e))
	}
	return c.JSON(dto.DLQListResponse{
		Items: items,
		Limit: limit,
		Count: len(items),
	})
}

// ReplayDLQ reinyecta una entrada de la DLQ como evento nuevo.
// POST /api/verifactu/dlq/:id/replay
func (h *VerifactuHandler) ReplayDLQ(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	ev, err := h.svc.ReplayDLQ(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToEventResponse(ev))
}

// AuditChain verifica la cadena de huellas de la empresa del token.
// GET /api/verifactu/chain/audit
func (h *VerifactuHandler) AuditChain(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	report, err := h.svc.AuditChain(c.Context(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToChainAuditResponse(report))
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
}

// writeError traduce los errores de dominio a respuestas HTTP.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	case errors.Is(err, domain.ErrNotRetryable):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NOT_RETRYABLE", Message: "el último evento no está rechazado"})
	case errors.Is(err, domain.ErrNotCancellable):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NOT_CANCELLABLE", Message: "solo se pueden anular facturas aceptadas por la AEAT"})
	case errors.Is(err, domain.ErrInvoiceVoided):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVOICE_VOIDED", Message: "la factura ya está anulada"})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
