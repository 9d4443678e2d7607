package verifactu

import (
	"context"
	"fmt"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

// ChainAuditor recalcula la cadena de huellas de una empresa a partir de las facturas.
type ChainAuditor struct {
	store    repository.EventStore
	invoices repository.InvoiceReader
}

// NewChainAuditor construye el auditor.
func NewChainAuditor(store repository.EventStore, invoices repository.InvoiceReader) *ChainAuditor {
	return &ChainAuditor{store: store, invoices: invoices}
}

// Audit devuelve el informe de integridad de la cadena de la empresa.
func (a *ChainAuditor) Audit(ctx context.Context, companyID string) (*domverifactu.ChainReport, error) {
	metas, err := a.store.ListChain(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listar cadena: %w", err)
	}
	links := make([]entity.ChainLink, 0, len(metas))
	for _, m := range metas {
		inv, err := a.invoices.GetByID(ctx, m.InvoiceID)
		if err != nil {
			return nil, fmt.Errorf("leer factura %s: %w", m.InvoiceID, err)
		}
		links = append(links, entity.ChainLink{
			Invoice:      inv,
			Position:     m.ChainPosition,
			PreviousHash: m.PreviousHash,
			Hash:         m.ChainedHash,
		})
	}
	report := domverifactu.VerifyChain(companyID, links)
	return &report, nil
}
