package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// Ciclo de vida de los eventos VeriFactu.
	ErrAlreadyClaimed = errors.New("el evento ya fue reclamado por otro dispatcher")
	ErrStaleClaim     = errors.New("el reclamo del evento ya no es válido")
	ErrNotRetryable   = errors.New("el último evento de la factura no está rechazado")
	ErrNotCancellable = errors.New("la factura no está aceptada por la AEAT")
	ErrInvoiceVoided  = errors.New("la factura está anulada")
	ErrChainMismatch  = errors.New("la huella anterior de la cadena cambió")
)
