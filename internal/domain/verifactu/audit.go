package verifactu

import "github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"

// ChainReport resultado de auditar la cadena de una empresa.
type ChainReport struct {
	CompanyID   string
	Total       int
	ValidChain  bool
	BrokenLinks []int64
	FirstHash   string
	LastHash    string
}

// VerifyChain recalcula cada huella a partir de los datos de la factura y del eslabón anterior.
// Un eslabón está roto si su huella anterior no coincide con la del eslabón previo
// o si la huella registrada no coincide con la recalculada. links debe venir ordenado por posición.
func VerifyChain(companyID string, links []entity.ChainLink) ChainReport {
	report := ChainReport{CompanyID: companyID, Total: len(links), ValidChain: true, BrokenLinks: []int64{}}
	if len(links) == 0 {
		return report
	}
	report.FirstHash = links[0].Hash
	report.LastHash = links[len(links)-1].Hash

	expectedPrev := GenesisHash
	for _, l := range links {
		ok := l.Invoice != nil && l.PreviousHash == expectedPrev
		if ok {
			h, err := ComputeHash(companyID, FieldsFromInvoice(l.Invoice, entity.EventTypeAlta), expectedPrev)
			ok = err == nil && h == l.Hash
		}
		if !ok {
			report.ValidChain = false
			report.BrokenLinks = append(report.BrokenLinks, l.Position)
		}
		expectedPrev = l.Hash
	}
	return report
}
