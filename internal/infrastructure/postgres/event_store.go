package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

var _ repository.EventStore = (*EventStore)(nil)

const eventColumns = `id, company_id, invoice_id, event_type, status, attempts, last_error, reason,
	previous_hash, hash, authority_ref, claim_token, dead_lettered, created_at, sent_at, updated_at, next_attempt_at`

const metaColumns = `invoice_id, company_id, status, chained_hash, previous_hash, chain_position,
	authority_ref, accepted_at, voided_at, created_at, updated_at`

const dlqColumns = `id, event_id, company_id, invoice_id, event_type, attempts, last_error, status,
	failed_at, replayed_at, replay_event_id`

// unsettledFilter misma condición que el índice uq_verifactu_events_unsettled.
const unsettledFilter = `(status IN ('pending', 'sending') OR (status = 'rejected' AND NOT dead_lettered))`

// EventStore implementación PostgreSQL del EventStore. Cada transición se ejecuta en una
// transacción con SELECT ... FOR UPDATE o un UPDATE condicional.
type EventStore struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewEventStore construye el adaptador sobre el pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool, tx: NewTxRunner(pool)}
}

func scanEvent(row pgx.Row) (*entity.Event, error) {
	var (
		e         entity.Event
		typ, st   string
		lastError *string
		sentAt    *time.Time
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.InvoiceID, &typ, &st, &e.Attempts, &lastError, &e.Reason,
		&e.PreviousHash, &e.Hash, &e.AuthorityRef, &e.ClaimToken, &e.DeadLettered, &e.CreatedAt, &sentAt, &e.UpdatedAt,
		&e.NextAttemptAt)
	if err != nil {
		return nil, err
	}
	e.Type = entity.EventType(typ)
	e.Status = entity.EventStatus(st)
	e.LastError = lastError
	e.SentAt = sentAt
	return &e, nil
}

func scanMeta(row pgx.Row) (*entity.InvoiceMeta, error) {
	var (
		m  entity.InvoiceMeta
		st string
	)
	err := row.Scan(&m.InvoiceID, &m.CompanyID, &st, &m.ChainedHash, &m.PreviousHash, &m.ChainPosition,
		&m.AuthorityRef, &m.AcceptedAt, &m.VoidedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = entity.MetaStatus(st)
	return &m, nil
}

func scanDLQ(row pgx.Row) (*entity.DLQEntry, error) {
	var (
		d           entity.DLQEntry
		typ, st     string
		replayEvent *string
	)
	err := row.Scan(&d.ID, &d.EventID, &d.CompanyID, &d.InvoiceID, &typ, &d.Attempts, &d.LastError, &st,
		&d.FailedAt, &d.ReplayedAt, &replayEvent)
	if err != nil {
		return nil, err
	}
	d.EventType = entity.EventType(typ)
	d.Status = entity.DLQStatus(st)
	if replayEvent != nil {
		d.ReplayEventID = *replayEvent
	}
	return &d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// limitArg nil equivale a LIMIT NULL (sin límite).
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func getEvent(ctx context.Context, q Querier, id string, forUpdate bool) (*entity.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM verifactu_events WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	ev, err := scanEvent(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ev, nil
}

func getMeta(ctx context.Context, q Querier, invoiceID string, forUpdate bool) (*entity.InvoiceMeta, error) {
	query := `SELECT ` + metaColumns + ` FROM verifactu_invoice_meta WHERE invoice_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMeta(q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// unsettledEvent evento sin resolver de la factura distinto de exceptID, o nil.
func unsettledEvent(ctx context.Context, q Querier, invoiceID, exceptID string) (*entity.Event, error) {
	ev, err := scanEvent(q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM verifactu_events
		 WHERE invoice_id = $1 AND id <> $2 AND `+unsettledFilter+`
		 ORDER BY seq DESC LIMIT 1`, invoiceID, exceptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

func setMetaStatus(ctx context.Context, q Querier, invoiceID string, st entity.MetaStatus, at time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE verifactu_invoice_meta SET status = $2, updated_at = $3
		WHERE invoice_id = $1 AND status NOT IN ('accepted', 'void')`,
		invoiceID, string(st), at)
	if err != nil {
		return fmt.Errorf("actualizar meta: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, q Querier, ev *entity.Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO verifactu_events (id, company_id, invoice_id, event_type, status, attempts, reason, previous_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.CompanyID, ev.InvoiceID, string(ev.Type), string(ev.Status), ev.Attempts,
		ev.Reason, ev.PreviousHash, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: la factura ya tiene un evento en curso", domain.ErrConflict)
		}
		return fmt.Errorf("insert verifactu event: %w", err)
	}
	return nil
}

// Append registra un evento pending, o devuelve el existente si no hay nada nuevo que enviar.
func (s *EventStore) Append(ctx context.Context, req repository.AppendRequest) (*entity.Event, bool, error) {
	if req.Invoice == nil || !req.Type.Valid() {
		return nil, false, domain.ErrInvalidInput
	}
	inv := req.Invoice
	var (
		result  *entity.Event
		created bool
	)
	err := s.tx.Run(ctx, func(q Querier) error {
		if err := lockInvoice(ctx, q, inv.ID); err != nil {
			return fmt.Errorf("lock factura: %w", err)
		}
		open, err := unsettledEvent(ctx, q, inv.ID, "")
		if err != nil {
			return fmt.Errorf("buscar evento abierto: %w", err)
		}
		if open != nil && open.Type == req.Type {
			result = open
			return nil
		}

		meta, err := getMeta(ctx, q, inv.ID, true)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("leer meta: %w", err)
		}
		switch req.Type {
		case entity.EventTypeAlta:
			if meta != nil && meta.Status == entity.MetaStatusVoid {
				return domain.ErrInvoiceVoided
			}
			if meta != nil && meta.Status == entity.MetaStatusAccepted {
				accepted, err := scanEvent(q.QueryRow(ctx,
					`SELECT `+eventColumns+` FROM verifactu_events
					 WHERE invoice_id = $1 AND event_type = 'alta' AND status = 'accepted'
					 ORDER BY seq DESC LIMIT 1`, inv.ID))
				if err == nil {
					result = accepted
					return nil
				}
				if !errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("buscar alta aceptada: %w", err)
				}
			}
		case entity.EventTypeAnulacion:
			if meta == nil || meta.Status != entity.MetaStatusAccepted {
				return domain.ErrNotCancellable
			}
		}
		if open != nil {
			return fmt.Errorf("%w: la factura tiene un %s en curso", domain.ErrConflict, open.Type)
		}

		ev := &entity.Event{
			ID:           uuid.New().String(),
			CompanyID:    inv.CompanyID,
			InvoiceID:    inv.ID,
			Type:         req.Type,
			Status:       entity.EventStatusPending,
			Reason:       req.Reason,
			PreviousHash: req.PreviousHash,
			CreatedAt:    req.At,
			UpdatedAt:    req.At,
		}
		if err := insertEvent(ctx, q, ev); err != nil {
			return err
		}
		if req.Type == entity.EventTypeAlta {
			_, err = q.Exec(ctx, `
				INSERT INTO verifactu_invoice_meta (invoice_id, company_id, status, created_at, updated_at)
				VALUES ($1, $2, 'pending', $3, $3)
				ON CONFLICT (invoice_id) DO UPDATE SET status = 'pending', updated_at = EXCLUDED.updated_at
				WHERE verifactu_invoice_meta.status NOT IN ('accepted', 'void')`,
				inv.ID, inv.CompanyID, req.At)
			if err != nil {
				return fmt.Errorf("upsert meta: %w", err)
			}
		}
		result, created = ev, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Claim pending -> sending.
func (s *EventStore) Claim(ctx context.Context, eventID, token string, at time.Time) (*entity.Event, error) {
	var result *entity.Event
	err := s.tx.Run(ctx, func(q Querier) error {
		ev, err := scanEvent(q.QueryRow(ctx, `
			UPDATE verifactu_events
			SET status = 'sending', claim_token = $2, sent_at = $3, updated_at = $3
			WHERE id = $1 AND status = 'pending'
			RETURNING `+eventColumns, eventID, token, at))
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := getEvent(ctx, q, eventID, false); err != nil {
				return err
			}
			return domain.ErrAlreadyClaimed
		}
		if err != nil {
			return fmt.Errorf("claim evento: %w", err)
		}
		if ev.Type == entity.EventTypeAlta {
			if err := setMetaStatus(ctx, q, ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), at); err != nil {
				return err
			}
		}
		result = ev
		return nil
	})
	return result, err
}

// Complete cierra un evento sending como aceptado o rechazado.
func (s *EventStore) Complete(ctx context.Context, c entity.Completion) (*entity.Event, error) {
	if !c.Outcome.Valid() {
		return nil, fmt.Errorf("%w: resultado %q", domain.ErrInvalidInput, c.Outcome)
	}
	var result *entity.Event
	err := s.tx.Run(ctx, func(q Querier) error {
		ev, err := getEvent(ctx, q, c.EventID, true)
		if err != nil {
			return err
		}
		if ev.ClaimToken != c.ClaimToken || !verifactu.CanTransition(ev.Status, c.Outcome.Status()) {
			return domain.ErrStaleClaim
		}
		if c.Outcome == entity.OutcomeAccepted {
			result, err = s.accept(ctx, q, ev, c)
		} else {
			result, err = s.reject(ctx, q, ev, c)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *EventStore) accept(ctx context.Context, q Querier, ev *entity.Event, c entity.Completion) (*entity.Event, error) {
	meta, err := getMeta(ctx, q, ev.InvoiceID, true)
	if err != nil {
		return nil, fmt.Errorf("meta de la factura %s: %w", ev.InvoiceID, err)
	}
	at := c.At

	switch ev.Type {
	case entity.EventTypeAlta:
		if _, err := q.Exec(ctx, `
			INSERT INTO verifactu_chain_heads (company_id, last_hash, position, updated_at)
			VALUES ($1, $2, 0, $3)
			ON CONFLICT (company_id) DO NOTHING`,
			ev.CompanyID, verifactu.GenesisHash, at); err != nil {
			return nil, fmt.Errorf("inicializar cabeza de cadena: %w", err)
		}
		var position int64
		err := q.QueryRow(ctx, `
			UPDATE verifactu_chain_heads
			SET last_hash = $3, position = position + 1, last_invoice_id = $4, updated_at = $5
			WHERE company_id = $1 AND last_hash = $2
			RETURNING position`,
			ev.CompanyID, c.PreviousHash, c.Hash, ev.InvoiceID, at).Scan(&position)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChainMismatch
		}
		if err != nil {
			return nil, fmt.Errorf("avanzar cabeza de cadena: %w", err)
		}
		_, err = q.Exec(ctx, `
			UPDATE verifactu_invoice_meta
			SET status = $7, chained_hash = $2, previous_hash = $3, chain_position = $4,
			    authority_ref = $5, accepted_at = $6, updated_at = $6
			WHERE invoice_id = $1`,
			ev.InvoiceID, c.Hash, c.PreviousHash, position, c.AuthorityRef, at,
			string(verifactu.MetaStatusFor(entity.EventStatusAccepted)))
		if err != nil {
			return nil, fmt.Errorf("actualizar meta: %w", err)
		}
	case entity.EventTypeAnulacion:
		if meta.Status != entity.MetaStatusAccepted || meta.ChainedHash != c.PreviousHash {
			return nil, domain.ErrChainMismatch
		}
		_, err = q.Exec(ctx, `
			UPDATE verifactu_invoice_meta SET status = 'void', voided_at = $2, updated_at = $2
			WHERE invoice_id = $1`, ev.InvoiceID, at)
		if err != nil {
			return nil, fmt.Errorf("anular meta: %w", err)
		}
	}

	updated, err := scanEvent(q.QueryRow(ctx, `
		UPDATE verifactu_events
		SET status = 'accepted', previous_hash = $2, hash = $3, authority_ref = $4, last_error = NULL,
		    next_attempt_at = NULL, updated_at = $5
		WHERE id = $1
		RETURNING `+eventColumns,
		ev.ID, c.PreviousHash, c.Hash, c.AuthorityRef, at))
	if err != nil {
		return nil, fmt.Errorf("aceptar evento: %w", err)
	}
	return updated, nil
}

func (s *EventStore) reject(ctx context.Context, q Querier, ev *entity.Event, c entity.Completion) (*entity.Event, error) {
	attempts := ev.Attempts + 1
	if c.Exhaust && attempts < c.MaxAttempts {
		attempts = c.MaxAttempts
	}
	dead := c.MaxAttempts > 0 && attempts >= c.MaxAttempts
	prev, hash := ev.PreviousHash, ev.Hash
	if c.Hash != "" {
		prev, hash = c.PreviousHash, c.Hash
	}
	next := c.NextAttemptAt
	if next.IsZero() {
		next = c.At
	}

	updated, err := scanEvent(q.QueryRow(ctx, `
		UPDATE verifactu_events
		SET status = 'rejected', attempts = $2, last_error = $3, previous_hash = $4, hash = $5,
		    dead_lettered = $6, updated_at = $7, next_attempt_at = $8
		WHERE id = $1
		RETURNING `+eventColumns,
		ev.ID, attempts, c.Error, prev, hash, dead, c.At, next))
	if err != nil {
		return nil, fmt.Errorf("rechazar evento: %w", err)
	}
	if ev.Type == entity.EventTypeAlta {
		if err := setMetaStatus(ctx, q, ev.InvoiceID, verifactu.MetaStatusFor(updated.Status), c.At); err != nil {
			return nil, err
		}
	}
	if dead {
		_, err = q.Exec(ctx, `
			INSERT INTO verifactu_dlq (id, event_id, company_id, invoice_id, event_type, attempts, last_error, status, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'parked', $8)`,
			uuid.New().String(), ev.ID, ev.CompanyID, ev.InvoiceID, string(ev.Type), attempts, c.Error, c.At)
		if err != nil {
			return nil, fmt.Errorf("insert dlq: %w", err)
		}
	}
	return updated, nil
}

// Reopen rejected -> pending.
func (s *EventStore) Reopen(ctx context.Context, eventID string, at time.Time, manual bool) (*entity.Event, error) {
	var result *entity.Event
	err := s.tx.Run(ctx, func(q Querier) error {
		ev, err := getEvent(ctx, q, eventID, true)
		if err != nil {
			return err
		}
		if err := lockInvoice(ctx, q, ev.InvoiceID); err != nil {
			return fmt.Errorf("lock factura: %w", err)
		}
		if !verifactu.CanTransition(ev.Status, entity.EventStatusPending) || (ev.DeadLettered && !manual) {
			return domain.ErrNotRetryable
		}
		other, err := unsettledEvent(ctx, q, ev.InvoiceID, ev.ID)
		if err != nil {
			return fmt.Errorf("buscar evento abierto: %w", err)
		}
		if other != nil {
			return fmt.Errorf("%w: la factura ya tiene el evento %s en curso", domain.ErrConflict, other.ID)
		}
		if ev.Type == entity.EventTypeAlta {
			meta, err := getMeta(ctx, q, ev.InvoiceID, false)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("leer meta: %w", err)
			}
			if meta != nil && meta.Status == entity.MetaStatusVoid {
				return domain.ErrInvoiceVoided
			}
		}

		result, err = scanEvent(q.QueryRow(ctx, `
			UPDATE verifactu_events
			SET status = 'pending', claim_token = '', next_attempt_at = NULL, updated_at = $2,
			    last_error = CASE WHEN $3::boolean THEN NULL ELSE last_error END,
			    dead_lettered = CASE WHEN $3::boolean THEN FALSE ELSE dead_lettered END
			WHERE id = $1
			RETURNING `+eventColumns, ev.ID, at, manual))
		if err != nil {
			return fmt.Errorf("reabrir evento: %w", err)
		}
		if manual && ev.DeadLettered {
			_, err = q.Exec(ctx, `
				UPDATE verifactu_dlq SET status = 'replayed', replayed_at = $2, replay_event_id = $1
				WHERE event_id = $1 AND status = 'parked'`, ev.ID, at)
			if err != nil {
				return fmt.Errorf("cerrar dlq: %w", err)
			}
		}
		if ev.Type == entity.EventTypeAlta {
			return setMetaStatus(ctx, q, ev.InvoiceID, verifactu.MetaStatusFor(result.Status), at)
		}
		return nil
	})
	return result, err
}

// GetEvent devuelve el evento por id.
func (s *EventStore) GetEvent(ctx context.Context, id string) (*entity.Event, error) {
	return getEvent(ctx, s.pool, id, false)
}

// LatestEvent último evento creado para la factura.
func (s *EventStore) LatestEvent(ctx context.Context, invoiceID string) (*entity.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM verifactu_events WHERE invoice_id = $1 ORDER BY seq DESC LIMIT 1`, invoiceID))
	if err != nil {
		return nil, notFound(err)
	}
	return ev, nil
}

// ListEvents eventos de la factura, más reciente primero.
func (s *EventStore) ListEvents(ctx context.Context, invoiceID string, limit int) ([]*entity.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM verifactu_events WHERE invoice_id = $1 ORDER BY seq DESC LIMIT $2`,
		invoiceID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collect(rows, scanEvent)
}

// GetMeta proyección de la factura.
func (s *EventStore) GetMeta(ctx context.Context, invoiceID string) (*entity.InvoiceMeta, error) {
	return getMeta(ctx, s.pool, invoiceID, false)
}

// ChainHead cabeza de la cadena de la empresa.
func (s *EventStore) ChainHead(ctx context.Context, companyID string) (*entity.ChainHead, error) {
	h := entity.ChainHead{CompanyID: companyID}
	err := s.pool.QueryRow(ctx, `
		SELECT last_hash, position, last_invoice_id, updated_at
		FROM verifactu_chain_heads WHERE company_id = $1`, companyID).
		Scan(&h.LastHash, &h.Position, &h.LastInvoiceID, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &entity.ChainHead{CompanyID: companyID, LastHash: verifactu.GenesisHash}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain head: %w", err)
	}
	return &h, nil
}

// ListChain metas encadenadas de la empresa por posición.
func (s *EventStore) ListChain(ctx context.Context, companyID string) ([]*entity.InvoiceMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metaColumns+` FROM verifactu_invoice_meta
		WHERE company_id = $1 AND chain_position > 0
		ORDER BY chain_position`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	return collect(rows, scanMeta)
}

func (s *EventStore) listEvents(ctx context.Context, where string, args ...any) ([]*entity.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM verifactu_events WHERE `+where+` ORDER BY seq LIMIT $1`, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collect(rows, scanEvent)
}

// ListPending eventos pending por orden de creación.
func (s *EventStore) ListPending(ctx context.Context, limit int) ([]*entity.Event, error) {
	return s.listEvents(ctx, `status = 'pending'`, limitArg(limit))
}

// ListRetryable eventos rejected fuera de la DLQ con el backoff vencido, por vencimiento.
func (s *EventStore) ListRetryable(ctx context.Context, f repository.RetryFilter) ([]*entity.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM verifactu_events
		WHERE status = 'rejected' AND NOT dead_lettered
		  AND ($2::int <= 0 OR attempts < $2)
		  AND COALESCE(next_attempt_at, updated_at) <= $3
		ORDER BY COALESCE(next_attempt_at, updated_at), seq
		LIMIT $1`, limitArg(f.Limit), f.MaxAttempts, f.DueAt)
	if err != nil {
		return nil, fmt.Errorf("list retryable: %w", err)
	}
	return collect(rows, scanEvent)
}

// ListStale eventos sending iniciados antes de sentBefore.
func (s *EventStore) ListStale(ctx context.Context, sentBefore time.Time, limit int) ([]*entity.Event, error) {
	return s.listEvents(ctx, `status = 'sending' AND sent_at < $2`, limitArg(limit), sentBefore)
}

// Health resumen de la cola de la empresa.
func (s *EventStore) Health(ctx context.Context, companyID string) (*entity.Health, error) {
	var h entity.Health
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE `+unsettledFilter+`),
			count(*) FILTER (WHERE status = 'rejected' AND dead_lettered),
			max(created_at),
			max(updated_at) FILTER (WHERE status = 'accepted'),
			max(updated_at) FILTER (WHERE status = 'rejected')
		FROM verifactu_events
		WHERE company_id = $1`, companyID).
		Scan(&h.PendingCount, &h.StuckCount, &h.LastEventAt, &h.LastAcceptedAt, &h.LastRejectedAt)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &h, nil
}

// ListDLQ entradas de la empresa, más reciente primero.
func (s *EventStore) ListDLQ(ctx context.Context, f repository.DLQFilter) ([]*entity.DLQEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+` FROM verifactu_dlq
		WHERE company_id = $1 AND ($2::text = '' OR invoice_id = $2)
		ORDER BY failed_at DESC, id DESC
		LIMIT $3`, f.CompanyID, f.InvoiceID, limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	return collect(rows, scanDLQ)
}

// GetDLQ entrada por id.
func (s *EventStore) GetDLQ(ctx context.Context, id string) (*entity.DLQEntry, error) {
	d, err := scanDLQ(s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM verifactu_dlq WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// ReplayDLQ reinyecta una entrada como evento nuevo.
func (s *EventStore) ReplayDLQ(ctx context.Context, id string, at time.Time) (*entity.Event, error) {
	var result *entity.Event
	err := s.tx.Run(ctx, func(q Querier) error {
		d, err := scanDLQ(q.QueryRow(ctx, `SELECT `+dlqColumns+` FROM verifactu_dlq WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		if d.Status != entity.DLQStatusParked {
			return fmt.Errorf("%w: la entrada ya fue reinyectada", domain.ErrConflict)
		}
		if err := lockInvoice(ctx, q, d.InvoiceID); err != nil {
			return fmt.Errorf("lock factura: %w", err)
		}

		var existing, existingStatus string
		err = q.QueryRow(ctx, `
			SELECT event_type, status FROM verifactu_events
			WHERE invoice_id = $1 AND event_type = $2 AND (status = 'accepted' OR `+unsettledFilter+`)
			LIMIT 1`, d.InvoiceID, string(d.EventType)).Scan(&existing, &existingStatus)
		if err == nil {
			return fmt.Errorf("%w: ya existe un %s %s para la factura", domain.ErrConflict, existing, existingStatus)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("buscar eventos de la factura: %w", err)
		}

		meta, err := getMeta(ctx, q, d.InvoiceID, true)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("leer meta: %w", err)
		}
		if d.EventType == entity.EventTypeAlta && meta != nil && meta.Status == entity.MetaStatusVoid {
			return domain.ErrInvoiceVoided
		}
		if d.EventType == entity.EventTypeAnulacion && (meta == nil || meta.Status != entity.MetaStatusAccepted) {
			return domain.ErrNotCancellable
		}

		ev := &entity.Event{
			ID:        uuid.New().String(),
			CompanyID: d.CompanyID,
			InvoiceID: d.InvoiceID,
			Type:      d.EventType,
			Status:    entity.EventStatusPending,
			CreatedAt: at,
			UpdatedAt: at,
		}
		if orig, err := getEvent(ctx, q, d.EventID, false); err == nil {
			ev.Reason = orig.Reason
		}
		if ev.Type == entity.EventTypeAnulacion {
			ev.PreviousHash = meta.ChainedHash
		}
		if err := insertEvent(ctx, q, ev); err != nil {
			return err
		}
		if ev.Type == entity.EventTypeAlta {
			if err := setMetaStatus(ctx, q, ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), at); err != nil {
				return err
			}
		}
		_, err = q.Exec(ctx, `
			UPDATE verifactu_dlq SET status = 'replayed', replayed_at = $2, replay_event_id = $3
			WHERE id = $1`, d.ID, at, ev.ID)
		if err != nil {
			return fmt.Errorf("marcar dlq: %w", err)
		}
		result = ev
		return nil
	})
	return result, err
}
