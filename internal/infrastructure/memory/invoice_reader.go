package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
)

var _ repository.InvoiceReader = (*InvoiceReader)(nil)

// InvoiceReader facturas en memoria (modo STORE=memory y tests).
type InvoiceReader struct {
	mu       sync.RWMutex
	invoices map[string]entity.Invoice
}

// NewInvoiceReader construye el lector vacío.
func NewInvoiceReader() *InvoiceReader {
	return &InvoiceReader{invoices: make(map[string]entity.Invoice)}
}

// Put guarda o reemplaza una factura.
func (r *InvoiceReader) Put(inv *entity.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = *inv
}

// GetByID devuelve una copia de la factura.
func (r *InvoiceReader) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}
