package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice es la vista de solo lectura de una factura emitida que necesita el registro VeriFactu.
// La factura la gestiona el módulo de facturación; aquí nunca se modifica.
type Invoice struct {
	ID         string
	CompanyID  string
	IssuerNIF  string // NIF del obligado a expedir (para XML y QR)
	IssuerName string // razón social del obligado a expedir
	Series     string
	Number     string
	IssueDate  time.Time
	Total      decimal.Decimal
	Currency   string // ISO 4217, por defecto EUR
	CreatedAt  time.Time
}

// FullNumber devuelve serie y número tal como los conoce la AEAT (NumSerieFactura).
func (i *Invoice) FullNumber() string {
	if i.Series == "" {
		return i.Number
	}
	return i.Series + i.Number
}
