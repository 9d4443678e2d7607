package verifactu

import (
	"context"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

// Submission registro listo para enviar a la AEAT.
type Submission struct {
	EventID      string
	CompanyID    string
	Invoice      *entity.Invoice
	Type         entity.EventType
	Fields       domverifactu.RecordFields
	PreviousHash string
	Hash         string
	Reason       string
}

// FirstInChain indica si el registro es el primero de la cadena de la empresa.
func (s Submission) FirstInChain() bool {
	return s.PreviousHash == "" || s.PreviousHash == domverifactu.GenesisHash
}

// SubmitResult respuesta de la AEAT a un envío.
type SubmitResult struct {
	Accepted           bool
	AuthorityReference string // CSV
	ErrorDetail        string
	Permanent          bool // rechazo que no se resolverá reintentando
}

// TransportError fallo al hablar con la AEAT: red, TLS, SOAP Fault o respuesta ilegible.
// Es el único error que el circuit breaker cuenta como fallo del servicio.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Gateway define el puerto de salida hacia el servicio VeriFactu de la AEAT.
// Un error devuelto se trata como rechazo transitorio; la implementación debe respetar ctx.
// Los datos de la factura que no permiten construir el registro no son un error sino un rechazo permanente.
type Gateway interface {
	Submit(ctx context.Context, s Submission) (*SubmitResult, error)
}
