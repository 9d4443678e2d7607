package verifactu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
	pkgverifactu "github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

// Límites de listados.
const (
	DefaultEventsLimit = 5
	DefaultDLQLimit    = 20
	MaxListLimit       = 100
)

// MetaView estado VeriFactu de una factura tal como se muestra al usuario.
type MetaView struct {
	Meta  *entity.InvoiceMeta
	QRURL string // solo si el alta fue aceptada
}

// Service casos de uso VeriFactu: encolar altas y anulaciones, reintentos manuales, DLQ y consultas.
// Todas las operaciones reciben el companyID del llamador; una factura de otra empresa se trata como inexistente.
type Service struct {
	store      repository.EventStore
	invoices   repository.InvoiceReader
	dispatcher *Dispatcher
	auditor    *ChainAuditor
	env        string
	log        *logger.Logger
	now        func() time.Time
}

// NewService construye el servicio. env es el entorno AEAT (dev, test, prod) y se usa para la URL del QR.
func NewService(
	store repository.EventStore,
	invoices repository.InvoiceReader,
	dispatcher *Dispatcher,
	env string,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:      store,
		invoices:   invoices,
		dispatcher: dispatcher,
		auditor:    NewChainAuditor(store, invoices),
		env:        env,
		log:        log.Component("verifactu-service"),
		now:        time.Now,
	}
}

// SetClock reemplaza el reloj (tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) ownedInvoice(ctx context.Context, companyID, invoiceID string) (*entity.Invoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, domain.ErrInvalidInput
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

// OnInvoiceIssued encola el alta de una factura recién emitida. Idempotente: si ya hay un alta en curso
// o aceptada devuelve ese evento con created=false.
func (s *Service) OnInvoiceIssued(ctx context.Context, companyID, invoiceID string) (*entity.Event, bool, error) {
	inv, err := s.ownedInvoice(ctx, companyID, invoiceID)
	if err != nil {
		return nil, false, err
	}
	if err := pkgverifactu.ValidateNIF(inv.IssuerNIF); err != nil {
		return nil, false, fmt.Errorf("%w: NIF emisor: %v", domain.ErrInvalidInput, err)
	}
	if _, err := domverifactu.Canonical(inv.CompanyID, domverifactu.FieldsFromInvoice(inv, entity.EventTypeAlta), ""); err != nil {
		return nil, false, err
	}
	ev, created, err := s.store.Append(ctx, repository.AppendRequest{
		Invoice: inv,
		Type:    entity.EventTypeAlta,
		At:      s.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info().Str("event_id", ev.ID).Str("invoice_id", inv.ID).Str("company_id", companyID).Msg("alta encolada")
	}
	return ev, created, nil
}

// RequestCancellation encola la anulación de una factura aceptada por la AEAT.
func (s *Service) RequestCancellation(ctx context.Context, companyID, invoiceID, reason string) (*entity.Event, bool, error) {
	inv, err := s.ownedInvoice(ctx, companyID, invoiceID)
	if err != nil {
		return nil, false, err
	}
	meta, err := s.store.GetMeta(ctx, inv.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, domain.ErrNotCancellable
		}
		return nil, false, err
	}
	if meta.Status != entity.MetaStatusAccepted {
		return nil, false, domain.ErrNotCancellable
	}
	ev, created, err := s.store.Append(ctx, repository.AppendRequest{
		Invoice:      inv,
		Type:         entity.EventTypeAnulacion,
		PreviousHash: meta.ChainedHash,
		Reason:       strings.TrimSpace(reason),
		At:           s.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info().Str("event_id", ev.ID).Str("invoice_id", inv.ID).Str("company_id", companyID).Msg("anulación encolada")
	}
	return ev, created, nil
}

// Retry devuelve a pending el último evento de la factura si está rechazado, conservando los intentos.
// Funciona también sobre eventos que agotaron los reintentos.
func (s *Service) Retry(ctx context.Context, companyID, invoiceID string) (*entity.Event, error) {
	if _, err := s.ownedInvoice(ctx, companyID, invoiceID); err != nil {
		return nil, err
	}
	last, err := s.store.LatestEvent(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotRetryable
		}
		return nil, err
	}
	if last.Status != entity.EventStatusRejected {
		return nil, domain.ErrNotRetryable
	}
	ev, err := s.store.Reopen(ctx, last.ID, s.now(), true)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("event_id", ev.ID).Str("invoice_id", invoiceID).Int("attempts", ev.Attempts).Msg("reintento manual")
	return ev, nil
}

// GetMeta devuelve el estado VeriFactu de la factura.
func (s *Service) GetMeta(ctx context.Context, companyID, invoiceID string) (*MetaView, error) {
	inv, err := s.ownedInvoice(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.GetMeta(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	view := &MetaView{Meta: meta}
	if meta.ChainedHash != "" && inv.IssuerNIF != "" {
		view.QRURL = pkgverifactu.QRURL(s.env, inv.IssuerNIF, inv.FullNumber(), inv.IssueDate, inv.Total)
	}
	return view, nil
}

// GetEvents devuelve los eventos más recientes de la factura (por defecto 5, máximo 100).
func (s *Service) GetEvents(ctx context.Context, companyID, invoiceID string, limit int) ([]*entity.Event, error) {
	if _, err := s.ownedInvoice(ctx, companyID, invoiceID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, invoiceID, ClampLimit(limit, DefaultEventsLimit))
}

// ClampLimit aplica def a límites no positivos y recorta a MaxListLimit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// GetConfig devuelve una copia de la política de reintentos vigente.
func (s *Service) GetConfig() domverifactu.RetryConfig {
	return s.dispatcher.Config().Retry
}

// GetHealth devuelve el resumen de la cola de la empresa.
func (s *Service) GetHealth(ctx context.Context, companyID string) (*entity.Health, error) {
	return s.store.Health(ctx, companyID)
}

// ListDLQ lista las entradas de la DLQ de la empresa (por defecto 20), opcionalmente de una factura.
func (s *Service) ListDLQ(ctx context.Context, companyID, invoiceID string, limit int) ([]*entity.DLQEntry, error) {
	return s.store.ListDLQ(ctx, repository.DLQFilter{
		CompanyID: companyID,
		InvoiceID: invoiceID,
		Limit:     ClampLimit(limit, DefaultDLQLimit),
	})
}

// ReplayDLQ reinyecta una entrada de la DLQ como evento nuevo con attempts=0.
func (s *Service) ReplayDLQ(ctx context.Context, companyID, entryID string) (*entity.Event, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	ev, err := s.store.ReplayDLQ(ctx, entryID, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("dlq_id", entryID).Str("event_id", ev.ID).Str("invoice_id", ev.InvoiceID).Msg("entrada de la DLQ reinyectada")
	return ev, nil
}

// AuditChain verifica la cadena de huellas de la empresa.
func (s *Service) AuditChain(ctx context.Context, companyID string) (*domverifactu.ChainReport, error) {
	return s.auditor.Audit(ctx, companyID)
}

// DispatchNow ejecuta una pasada del dispatcher por el mismo camino que el ciclo periódico.
func (s *Service) DispatchNow(ctx context.Context) (DispatchResult, error) {
	if s.dispatcher == nil {
		return DispatchResult{}, fmt.Errorf("dispatcher no configurado")
	}
	return s.dispatcher.RunOnce(ctx)
}
