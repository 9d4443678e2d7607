package verifactu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
)

// completeTimeout tiempo máximo para registrar el resultado de un envío, incluso durante el apagado.
const completeTimeout = 10 * time.Second

// DispatcherConfig parámetros del planificador.
type DispatcherConfig struct {
	Retry                 domverifactu.RetryConfig
	PollInterval          time.Duration
	SubmitTimeout         time.Duration
	StaleAfter            time.Duration
	BatchSize             int
	Workers               int  // empresas procesadas en paralelo
	ShortCircuitPermanent bool // un rechazo permanente agota los reintentos de inmediato
}

// DefaultDispatcherConfig valores por defecto (30 s de sondeo, 30 s por envío, 10 min para sending colgados).
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Retry:         domverifactu.DefaultRetryConfig(),
		PollInterval:  30 * time.Second,
		SubmitTimeout: 30 * time.Second,
		StaleAfter:    10 * time.Minute,
		BatchSize:     100,
		Workers:       4,
	}
}

// DispatchResult resumen de una pasada del planificador.
type DispatchResult struct {
	Swept        int
	Reopened     int
	Polled       int
	Accepted     int
	Rejected     int
	DeadLettered int
	Skipped      int
	Failed       int
}

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeRejected
	outcomeDeadLettered
	outcomeSkipped
	outcomeFailed
)

type tally struct {
	mu  sync.Mutex
	res *DispatchResult
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeAccepted:
		t.res.Accepted++
	case outcomeRejected:
		t.res.Rejected++
	case outcomeDeadLettered:
		t.res.Rejected++
		t.res.DeadLettered++
	case outcomeSkipped:
		t.res.Skipped++
	default:
		t.res.Failed++
	}
}

// Dispatcher envía a la AEAT los eventos pendientes: un envío a la vez por empresa, en orden de creación.
type Dispatcher struct {
	store    repository.EventStore
	invoices repository.InvoiceReader
	gateway  Gateway
	cfg      DispatcherConfig
	log      *logger.Logger
	now      func() time.Time

	passMu sync.Mutex
}

// NewDispatcher construye el planificador. Valores no positivos en cfg se sustituyen por los de DefaultDispatcherConfig.
func NewDispatcher(
	store repository.EventStore,
	invoices repository.InvoiceReader,
	gateway Gateway,
	cfg DispatcherConfig,
	log *logger.Logger,
) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Retry.Validate() != nil {
		cfg.Retry = def.Retry
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		store:    store,
		invoices: invoices,
		gateway:  gateway,
		cfg:      cfg,
		log:      log.Component("verifactu-dispatcher"),
		now:      time.Now,
	}
}

// SetClock reemplaza el reloj (tests).
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Config devuelve una copia de la configuración efectiva.
func (d *Dispatcher) Config() DispatcherConfig {
	cfg := d.cfg
	cfg.Retry = d.cfg.Retry.Clone()
	return cfg
}

// Run ejecuta una pasada inmediatamente y luego una por cada PollInterval hasta que ctx se cancele.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("workers", d.cfg.Workers).
		Int("max_attempts", d.cfg.Retry.MaxAttempts).
		Msg("dispatcher iniciado")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if res, err := d.RunOnce(ctx); err != nil {
			if ctx.Err() == nil {
				d.log.Error().Err(err).Msg("pasada del dispatcher")
			}
		} else if res.Polled > 0 || res.Swept > 0 || res.Reopened > 0 {
			d.log.Info().
				Int("polled", res.Polled).
				Int("accepted", res.Accepted).
				Int("rejected", res.Rejected).
				Int("dead_lettered", res.DeadLettered).
				Int("reopened", res.Reopened).
				Int("swept", res.Swept).
				Msg("pasada del dispatcher completada")
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher detenido")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce ejecuta una pasada completa: barrido de sending colgados, reapertura de rechazados cuyo
// backoff venció y envío de los pending. Las pasadas nunca se solapan dentro del proceso.
// Solo devuelve error si no se pudieron listar los eventos; los fallos por evento se registran en el log.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchResult, error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	var res DispatchResult
	now := d.now()

	if err := d.sweepStale(ctx, now, &res); err != nil {
		return res, err
	}
	if err := d.reopenDue(ctx, now, &res); err != nil {
		return res, err
	}

	pending, err := d.store.ListPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("listar pendientes: %w", err)
	}
	res.Polled = len(pending)

	t := &tally{res: &res}
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, events := range groupByCompany(pending) {
		g.Go(func() error {
			d.processCompany(ctx, events, t)
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// groupByCompany agrupa preservando el orden de creación dentro de cada empresa.
func groupByCompany(events []*entity.Event) [][]*entity.Event {
	idx := make(map[string]int)
	var groups [][]*entity.Event
	for _, ev := range events {
		i, ok := idx[ev.CompanyID]
		if !ok {
			i = len(groups)
			idx[ev.CompanyID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}
	return groups
}

func (d *Dispatcher) sweepStale(ctx context.Context, now time.Time, res *DispatchResult) error {
	stale, err := d.store.ListStale(ctx, now.Add(-d.cfg.StaleAfter), d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listar sending colgados: %w", err)
	}
	for _, ev := range stale {
		msg := "stale: envío sin respuesta"
		if ev.SentAt != nil {
			msg = fmt.Sprintf("stale: envío sin respuesta desde %s", ev.SentAt.UTC().Format(time.RFC3339))
		}
		done, err := d.store.Complete(ctx, entity.Completion{
			EventID:       ev.ID,
			ClaimToken:    ev.ClaimToken,
			Outcome:       entity.OutcomeRejected,
			Error:         msg,
			MaxAttempts:   d.cfg.Retry.MaxAttempts,
			At:            now,
			NextAttemptAt: d.nextAttempt(ev),
		})
		if err != nil {
			if !errors.Is(err, domain.ErrStaleClaim) {
				d.log.Error().Err(err).Str("event_id", ev.ID).Msg("barrido de sending colgado")
			}
			continue
		}
		res.Swept++
		if done.DeadLettered {
			res.DeadLettered++
		}
		d.log.Warn().Str("event_id", ev.ID).Str("invoice_id", ev.InvoiceID).Msg("evento sending colgado devuelto a rejected")
	}
	return nil
}

// nextAttempt instante en que vence el backoff del rechazo que está a punto de registrarse.
func (d *Dispatcher) nextAttempt(ev *entity.Event) time.Time {
	return domverifactu.NextEligibleTime(ev.Attempts+1, ev.LastAttemptAt(), d.cfg.Retry)
}

func (d *Dispatcher) reopenDue(ctx context.Context, now time.Time, res *DispatchResult) error {
	due, err := d.store.ListRetryable(ctx, repository.RetryFilter{
		DueAt:       now,
		MaxAttempts: d.cfg.Retry.MaxAttempts,
		Limit:       d.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("listar rechazados: %w", err)
	}
	for _, ev := range due {
		if _, err := d.store.Reopen(ctx, ev.ID, now, false); err != nil {
			d.log.Debug().Err(err).Str("event_id", ev.ID).Msg("reapertura omitida")
			continue
		}
		res.Reopened++
	}
	return nil
}

func (d *Dispatcher) processCompany(ctx context.Context, events []*entity.Event, t *tally) {
	if len(events) > 0 {
		d.log.Company(events[0].CompanyID).Debug().Int("events", len(events)).Msg("procesando empresa")
	}
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		t.add(d.processEventSafe(ctx, ev))
	}
}

func (d *Dispatcher) processEventSafe(ctx context.Context, ev *entity.Event) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("event_id", ev.ID).Msg("pánico procesando evento")
			o = outcomeFailed
		}
	}()
	return d.processEvent(ctx, ev)
}

func (d *Dispatcher) processEvent(ctx context.Context, ev *entity.Event) outcome {
	claimed, err := d.store.Claim(ctx, ev.ID, uuid.New().String(), d.now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) || errors.Is(err, domain.ErrNotFound) {
			d.log.Debug().Str("event_id", ev.ID).Msg("evento ya reclamado")
			return outcomeSkipped
		}
		d.log.Error().Err(err).Str("event_id", ev.ID).Msg("reclamar evento")
		return outcomeFailed
	}

	sub, err := d.buildSubmission(ctx, claimed)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed
		}
		return d.reject(ctx, claimed, nil, "preparar registro: "+err.Error(), errors.Is(err, domain.ErrInvalidInput))
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	result, err := d.gateway.Submit(submitCtx, *sub)
	timedOut := errors.Is(submitCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err != nil && ctx.Err() != nil:
		// Apagado en curso: el evento queda en sending y lo recupera el barrido.
		d.log.Warn().Str("event_id", claimed.ID).Msg("envío interrumpido por apagado")
		return outcomeFailed
	case err != nil && timedOut:
		return d.reject(ctx, claimed, sub, fmt.Sprintf("timeout: sin respuesta de la AEAT en %s", d.cfg.SubmitTimeout), false)
	case err != nil:
		return d.reject(ctx, claimed, sub, "gateway: "+err.Error(), false)
	case result == nil:
		return d.reject(ctx, claimed, sub, "gateway: respuesta vacía", false)
	case !result.Accepted:
		detail := result.ErrorDetail
		if detail == "" {
			detail = "rechazado sin detalle"
		}
		return d.reject(ctx, claimed, sub, detail, result.Permanent)
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancelWrite()
	_, err = d.store.Complete(writeCtx, entity.Completion{
		EventID:      claimed.ID,
		ClaimToken:   claimed.ClaimToken,
		Outcome:      entity.OutcomeAccepted,
		PreviousHash: sub.PreviousHash,
		Hash:         sub.Hash,
		AuthorityRef: result.AuthorityReference,
		At:           d.now(),
	})
	switch {
	case errors.Is(err, domain.ErrChainMismatch):
		return d.reject(ctx, claimed, sub, "cadena: la huella anterior cambió durante el envío", false)
	case errors.Is(err, domain.ErrStaleClaim):
		d.log.Warn().Str("event_id", claimed.ID).Msg("aceptado tras perder el reclamo; se ignora")
		return outcomeSkipped
	case err != nil:
		d.log.Error().Err(err).Str("event_id", claimed.ID).Msg("registrar aceptación")
		return outcomeFailed
	}

	d.log.Info().
		Str("event_id", claimed.ID).
		Str("invoice_id", claimed.InvoiceID).
		Str("company_id", claimed.CompanyID).
		Str("type", string(claimed.Type)).
		Str("csv", result.AuthorityReference).
		Msg("registro aceptado por la AEAT")
	return outcomeAccepted
}

func (d *Dispatcher) buildSubmission(ctx context.Context, ev *entity.Event) (*Submission, error) {
	inv, err := d.invoices.GetByID(ctx, ev.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("leer factura: %w", err)
	}
	if inv.CompanyID != ev.CompanyID {
		return nil, fmt.Errorf("%w: la factura no pertenece a la empresa del evento", domain.ErrInvalidInput)
	}

	prev := ev.PreviousHash
	if ev.Type == entity.EventTypeAlta {
		head, err := d.store.ChainHead(ctx, ev.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("leer cabeza de la cadena: %w", err)
		}
		prev = head.LastHash
	}

	fields := domverifactu.FieldsFromInvoice(inv, ev.Type)
	hash, err := domverifactu.ComputeHash(ev.CompanyID, fields, prev)
	if err != nil {
		return nil, err
	}
	return &Submission{
		EventID:      ev.ID,
		CompanyID:    ev.CompanyID,
		Invoice:      inv,
		Type:         ev.Type,
		Fields:       fields,
		PreviousHash: prev,
		Hash:         hash,
		Reason:       ev.Reason,
	}, nil
}

func (d *Dispatcher) reject(ctx context.Context, ev *entity.Event, sub *Submission, msg string, permanent bool) outcome {
	c := entity.Completion{
		EventID:       ev.ID,
		ClaimToken:    ev.ClaimToken,
		Outcome:       entity.OutcomeRejected,
		Error:         msg,
		MaxAttempts:   d.cfg.Retry.MaxAttempts,
		Exhaust:       permanent && d.cfg.ShortCircuitPermanent,
		At:            d.now(),
		NextAttemptAt: d.nextAttempt(ev),
	}
	if sub != nil {
		c.PreviousHash = sub.PreviousHash
		c.Hash = sub.Hash
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	done, err := d.store.Complete(writeCtx, c)
	if err != nil {
		if errors.Is(err, domain.ErrStaleClaim) {
			return outcomeSkipped
		}
		d.log.Error().Err(err).Str("event_id", ev.ID).Msg("registrar rechazo")
		return outcomeFailed
	}

	if done.DeadLettered {
		d.log.Warn().
			Str("event_id", done.ID).
			Str("invoice_id", done.InvoiceID).
			Int("attempts", done.Attempts).
			Str("error", msg).
			Msg("reintentos agotados; evento enviado a la DLQ")
		return outcomeDeadLettered
	}
	d.log.Warn().
		Str("event_id", done.ID).
		Str("invoice_id", done.InvoiceID).
		Int("attempts", done.Attempts).
		Str("error", msg).
		Msg("registro rechazado; se reintentará")
	return outcomeRejected
}
