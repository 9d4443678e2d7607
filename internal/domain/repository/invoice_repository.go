package repository

import (
	"context"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
)

// InvoiceReader define el puerto de solo lectura sobre las facturas emitidas.
type InvoiceReader interface {
	// GetByID devuelve domain.ErrNotFound si la factura no existe.
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
}
