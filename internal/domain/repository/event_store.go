package repository

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
)

// AppendRequest datos para registrar un nuevo evento.
type AppendRequest struct {
	Invoice      *entity.Invoice
	Type         entity.EventType
	PreviousHash string // anulación: huella del alta que se anula
	Reason       string
	At           time.Time
}

// RetryFilter selección de eventos rejected listos para reabrirse.
type RetryFilter struct {
	DueAt       time.Time // backoff vencido en o antes de este instante
	MaxAttempts int       // excluye los que ya agotaron intentos (0 = sin tope)
	Limit       int
}

// DLQFilter filtro para listar la DLQ de una empresa.
type DLQFilter struct {
	CompanyID string
	InvoiceID string // opcional
	Limit     int
}

// EventStore define el puerto de persistencia append-only de eventos VeriFactu,
// la proyección por factura (meta), la cabeza de la cadena por empresa y la DLQ.
// Todas las transiciones de estado son compare-and-swap: si el estado actual no es el esperado
// la operación falla con un error de dominio y no modifica nada.
type EventStore interface {
	// Append crea un evento pending. Si la factura ya tiene un evento sin resolver del mismo tipo
	// (o el alta ya fue aceptada) devuelve ese evento con created=false.
	// Alta sobre factura anulada: domain.ErrInvoiceVoided. Anulación sobre factura no aceptada: domain.ErrNotCancellable.
	Append(ctx context.Context, req AppendRequest) (ev *entity.Event, created bool, err error)
	// Claim pasa pending -> sending con el token dado. domain.ErrAlreadyClaimed si ya no está pending.
	Claim(ctx context.Context, eventID, token string, at time.Time) (*entity.Event, error)
	// Complete cierra un evento sending. domain.ErrStaleClaim si el token no coincide;
	// domain.ErrChainMismatch si la cabeza de la cadena ya no es c.PreviousHash.
	Complete(ctx context.Context, c entity.Completion) (*entity.Event, error)
	// Reopen pasa rejected -> pending. manual limpia last_error y saca el evento de la DLQ.
	Reopen(ctx context.Context, eventID string, at time.Time, manual bool) (*entity.Event, error)

	GetEvent(ctx context.Context, id string) (*entity.Event, error)
	LatestEvent(ctx context.Context, invoiceID string) (*entity.Event, error)
	ListEvents(ctx context.Context, invoiceID string, limit int) ([]*entity.Event, error)
	GetMeta(ctx context.Context, invoiceID string) (*entity.InvoiceMeta, error)
	// ChainHead devuelve la cabeza actual; si la empresa no tiene registros, LastHash es GENESIS y Position 0.
	ChainHead(ctx context.Context, companyID string) (*entity.ChainHead, error)
	// ListChain devuelve las metas aceptadas (o anuladas) de la empresa ordenadas por posición en la cadena.
	ListChain(ctx context.Context, companyID string) ([]*entity.InvoiceMeta, error)

	// ListPending devuelve eventos pending en orden de creación.
	ListPending(ctx context.Context, limit int) ([]*entity.Event, error)
	// ListRetryable devuelve eventos rejected fuera de la DLQ cuyo backoff venció,
	// del que venció antes al más reciente.
	ListRetryable(ctx context.Context, f RetryFilter) ([]*entity.Event, error)
	// ListStale devuelve eventos sending cuyo envío empezó antes de sentBefore.
	ListStale(ctx context.Context, sentBefore time.Time, limit int) ([]*entity.Event, error)

	Health(ctx context.Context, companyID string) (*entity.Health, error)

	ListDLQ(ctx context.Context, f DLQFilter) ([]*entity.DLQEntry, error)
	GetDLQ(ctx context.Context, id string) (*entity.DLQEntry, error)
	// ReplayDLQ crea un evento pending nuevo (attempts=0) a partir de la entrada y la marca replayed.
	// domain.ErrConflict si la factura ya tiene un evento del mismo tipo sin resolver o aceptado.
	ReplayDLQ(ctx context.Context, id string, at time.Time) (*entity.Event, error)
}
