package entity

import "time"

// ChainHead último eslabón aceptado de la cadena de huellas de una empresa.
type ChainHead struct {
	CompanyID     string
	LastHash      string
	Position      int64
	LastInvoiceID string
	UpdatedAt     time.Time
}

// ChainLink eslabón de la cadena tal como quedó registrado: factura, posición y huellas.
type ChainLink struct {
	Invoice      *Invoice
	Position     int64
	PreviousHash string
	Hash         string
}
