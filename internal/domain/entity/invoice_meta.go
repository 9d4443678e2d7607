package entity

import "time"

// MetaStatus estado VeriFactu resumido de una factura.
type MetaStatus string

const (
	MetaStatusPending  MetaStatus = "pending"
	MetaStatusSending  MetaStatus = "sending"
	MetaStatusAccepted MetaStatus = "accepted"
	MetaStatusRejected MetaStatus = "rejected"
	MetaStatusVoid     MetaStatus = "void"
)

// InvoiceMeta es la proyección por factura del estado de registro y su posición en la cadena.
// ChainedHash solo se informa cuando el alta fue aceptada; en una factura anulada conserva la huella del alta.
type InvoiceMeta struct {
	InvoiceID     string
	CompanyID     string
	Status        MetaStatus
	ChainedHash   string
	PreviousHash  string
	ChainPosition int64
	AuthorityRef  string
	AcceptedAt    *time.Time
	VoidedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
