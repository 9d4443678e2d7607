package dto

import (
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CancelInvoiceRequest cuerpo de POST /api/verifactu/invoices/:id/cancel.
type CancelInvoiceRequest struct {
	Reason string `json:"reason"`
}

// EventResponse evento de envío expuesto por la API.
type EventResponse struct {
	ID            string     `json:"id"`
	InvoiceID     string     `json:"invoice_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	PreviousHash  string     `json:"previous_hash,omitempty"`
	Hash          string     `json:"hash,omitempty"`
	AuthorityRef  string     `json:"authority_ref,omitempty"`
	DeadLettered  bool       `json:"dead_lettered"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EnqueueResponse resultado de encolar un alta o una anulación.
type EnqueueResponse struct {
	Created bool          `json:"created"`
	Event   EventResponse `json:"event"`
}

// InvoiceMetaResponse estado VeriFactu de una factura.
type InvoiceMetaResponse struct {
	InvoiceID     string     `json:"invoice_id"`
	Status        string     `json:"status"`
	ChainedHash   string     `json:"chained_hash,omitempty"`
	PreviousHash  string     `json:"previous_hash,omitempty"`
	ChainPosition int64      `json:"chain_position,omitempty"`
	AuthorityRef  string     `json:"authority_ref,omitempty"`
	QRURL         string     `json:"qr_url,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RetryConfigResponse política de reintentos vigente.
type RetryConfigResponse struct {
	MaxAttempts    int   `json:"max_attempts"`
	BackoffMinutes []int `json:"backoff_minutes"`
}

// HealthResponse resumen de la cola de la empresa.
type HealthResponse struct {
	PendingCount   int        `json:"pending_count"`
	StuckCount     int        `json:"stuck_count"`
	LastEventAt    *time.Time `json:"last_event_at"`
	LastAcceptedAt *time.Time `json:"last_accepted_at"`
	LastRejectedAt *time.Time `json:"last_rejected_at"`
}

// DLQEntryResponse entrada de la cola de mensajes muertos.
type DLQEntryResponse struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	InvoiceID     string     `json:"invoice_id"`
	EventType     string     `json:"event_type"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error"`
	Status        string     `json:"status"`
	FailedAt      time.Time  `json:"failed_at"`
	ReplayedAt    *time.Time `json:"replayed_at,omitempty"`
	ReplayEventID string     `json:"replay_event_id,omitempty"`
}

// DLQListResponse listado de la DLQ.
type DLQListResponse struct {
	Items []DLQEntryResponse `json:"items"`
	Limit int                `json:"limit"`
	Count int                `json:"count"`
}

// DispatchResponse resumen de una pasada del planificador.
type DispatchResponse struct {
	Swept        int `json:"swept"`
	Reopened     int `json:"reopened"`
	Polled       int `json:"polled"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	DeadLettered int `json:"dead_lettered"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// ChainAuditResponse resultado de auditar la cadena de huellas.
type ChainAuditResponse struct {
	CompanyID   string  `json:"company_id"`
	Total       int     `json:"total"`
	ValidChain  bool    `json:"valid_chain"`
	BrokenLinks []int64 `json:"broken_links"`
	FirstHash   string  `json:"first_hash,omitempty"`
	LastHash    string  `json:"last_hash,omitempty"`
}

// ToEventResponse convierte un evento de dominio.
func ToEventResponse(ev *entity.Event) EventResponse {
	return EventResponse{
		ID:            ev.ID,
		InvoiceID:     ev.InvoiceID,
		Type:          string(ev.Type),
		Status:        string(ev.Status),
		Attempts:      ev.Attempts,
		LastError:     ev.LastError,
		Reason:        ev.Reason,
		PreviousHash:  ev.PreviousHash,
		Hash:          ev.Hash,
		AuthorityRef:  ev.AuthorityRef,
		DeadLettered:  ev.DeadLettered,
		CreatedAt:     ev.CreatedAt,
		SentAt:        ev.SentAt,
		NextAttemptAt: ev.NextAttemptAt,
		UpdatedAt:     ev.UpdatedAt,
	}
}

// ToEventList convierte una lista de eventos; nunca devuelve nil.
func ToEventList(events []*entity.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, ToEventResponse(ev))
	}
	return out
}

// ToInvoiceMetaResponse combina el meta con la URL del QR de cotejo.
func ToInvoiceMetaResponse(m *entity.InvoiceMeta, qrURL string) InvoiceMetaResponse {
	return InvoiceMetaResponse{
		InvoiceID:     m.InvoiceID,
		Status:        string(m.Status),
		ChainedHash:   m.ChainedHash,
		PreviousHash:  m.PreviousHash,
		ChainPosition: m.ChainPosition,
		AuthorityRef:  m.AuthorityRef,
		QRURL:         qrURL,
		AcceptedAt:    m.AcceptedAt,
		VoidedAt:      m.VoidedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ToRetryConfigResponse expone la política de reintentos.
func ToRetryConfigResponse(cfg domverifactu.RetryConfig) RetryConfigResponse {
	backoff := make([]int, len(cfg.BackoffMinutes))
	copy(backoff, cfg.BackoffMinutes)
	return RetryConfigResponse{MaxAttempts: cfg.MaxAttempts, BackoffMinutes: backoff}
}

// ToHealthResponse convierte el resumen de salud.
func ToHealthResponse(h *entity.Health) HealthResponse {
	return HealthResponse{
		PendingCount:   h.PendingCount,
		StuckCount:     h.StuckCount,
		LastEventAt:    h.LastEventAt,
		LastAcceptedAt: h.LastAcceptedAt,
		LastRejectedAt: h.LastRejectedAt,
	}
}

// ToDLQEntryResponse convierte una entrada de la DLQ.
func ToDLQEntryResponse(e *entity.DLQEntry) DLQEntryResponse {
	return DLQEntryResponse{
		ID:            e.ID,
		EventID:       e.EventID,
		InvoiceID:     e.InvoiceID,
		EventType:     string(e.EventType),
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		Status:        string(e.Status),
		FailedAt:      e.FailedAt,
		ReplayedAt:    e.ReplayedAt,
		ReplayEventID: e.ReplayEventID,
	}
}

// ToChainAuditResponse convierte el informe de auditoría.
func ToChainAuditResponse(r *domverifactu.ChainReport) ChainAuditResponse {
	broken := r.BrokenLinks
	if broken == nil {
		broken = []int64{}
	}
	return ChainAuditResponse{
		CompanyID:   r.CompanyID,
		Total:       r.Total,
		ValidChain:  r.ValidChain,
		BrokenLinks: broken,
		FirstHash:   r.FirstHash,
		LastHash:    r.LastHash,
	}
}
