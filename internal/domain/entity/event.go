package entity

import "time"

// EventType tipo de registro enviado a la AEAT.
type EventType string

const (
	EventTypeAlta      EventType = "alta"      // Registro de alta (emisión)
	EventTypeAnulacion EventType = "anulacion" // Registro de anulación
)

// Valid indica si el tipo es conocido.
func (t EventType) Valid() bool {
	return t == EventTypeAlta || t == EventTypeAnulacion
}

// EventStatus estado de un evento de envío.
type EventStatus string

const (
	EventStatusPending  EventStatus = "pending"
	EventStatusSending  EventStatus = "sending"
	EventStatusAccepted EventStatus = "accepted"
	EventStatusRejected EventStatus = "rejected"
)

// Event es un intento de registrar (alta) o anular (anulación) una factura ante la AEAT.
// Los eventos nunca se borran; solo cambian de estado mediante CAS en el store.
type Event struct {
	ID           string
	CompanyID    string
	InvoiceID    string
	Type         EventType
	Status       EventStatus
	Attempts     int
	LastError    *string
	Reason       string // motivo de la anulación
	PreviousHash string // huella anterior usada en el último envío
	Hash         string // huella calculada en el último envío
	AuthorityRef string // CSV devuelto por la AEAT al aceptar
	ClaimToken   string
	DeadLettered bool // agotó reintentos y tiene entrada en la DLQ
	CreatedAt    time.Time
	SentAt       *time.Time
	UpdatedAt    time.Time

	NextAttemptAt *time.Time // rejected: vence el backoff y puede reabrirse
}

// IsOpen indica si el evento sigue en curso (pending o sending).
func (e *Event) IsOpen() bool {
	return e.Status == EventStatusPending || e.Status == EventStatusSending
}

// IsUnsettled indica si el evento todavía puede terminar aceptado sin intervención manual:
// abierto, o rechazado sin haber agotado reintentos.
func (e *Event) IsUnsettled() bool {
	return e.IsOpen() || (e.Status == EventStatusRejected && !e.DeadLettered)
}

// LastAttemptAt devuelve el instante del último envío, o la creación si nunca se envió.
func (e *Event) LastAttemptAt() time.Time {
	if e.SentAt != nil {
		return *e.SentAt
	}
	return e.CreatedAt
}

// ErrorText devuelve LastError o cadena vacía.
func (e *Event) ErrorText() string {
	if e.LastError == nil {
		return ""
	}
	return *e.LastError
}
