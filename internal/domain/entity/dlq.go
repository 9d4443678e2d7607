package entity

import "time"

// DLQStatus estado de una entrada en la cola de mensajes muertos.
type DLQStatus string

const (
	DLQStatusParked   DLQStatus = "parked"
	DLQStatusReplayed DLQStatus = "replayed"
)

// DLQEntry registra un evento que agotó los reintentos automáticos.
type DLQEntry struct {
	ID            string
	EventID       string
	CompanyID     string
	InvoiceID     string
	EventType     EventType
	Attempts      int
	LastError     string
	Status        DLQStatus
	FailedAt      time.Time
	ReplayedAt    *time.Time
	ReplayEventID string
}
