package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

var _ repository.EventStore = (*EventStore)(nil)

// EventStore implementación en memoria del EventStore. Un único mutex serializa todas las
// operaciones, lo que da las mismas garantías de CAS que las transacciones en PostgreSQL.
type EventStore struct {
	mu       sync.Mutex
	events   map[string]*entity.Event
	order    []string // ids en orden de creación
	metas    map[string]*entity.InvoiceMeta
	heads    map[string]*entity.ChainHead
	dlq      map[string]*entity.DLQEntry
	dlqOrder []string
}

// NewEventStore construye el store vacío.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]*entity.Event),
		metas:  make(map[string]*entity.InvoiceMeta),
		heads:  make(map[string]*entity.ChainHead),
		dlq:    make(map[string]*entity.DLQEntry),
	}
}

func cloneEvent(e *entity.Event) *entity.Event {
	c := *e
	if e.LastError != nil {
		s := *e.LastError
		c.LastError = &s
	}
	if e.SentAt != nil {
		t := *e.SentAt
		c.SentAt = &t
	}
	if e.NextAttemptAt != nil {
		t := *e.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return &c
}

func cloneMeta(m *entity.InvoiceMeta) *entity.InvoiceMeta {
	c := *m
	return &c
}

func cloneDLQ(d *entity.DLQEntry) *entity.DLQEntry {
	c := *d
	return &c
}

// invoiceEvents eventos de la factura, del más reciente al más antiguo.
func (s *EventStore) invoiceEvents(invoiceID string) []*entity.Event {
	var out []*entity.Event
	for i := len(s.order) - 1; i >= 0; i-- {
		if e := s.events[s.order[i]]; e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out
}

func (s *EventStore) unsettled(invoiceID string, exceptID string) *entity.Event {
	for _, e := range s.invoiceEvents(invoiceID) {
		if e.ID != exceptID && e.IsUnsettled() {
			return e
		}
	}
	return nil
}

func (s *EventStore) insert(e *entity.Event) {
	s.events[e.ID] = e
	s.order = append(s.order, e.ID)
}

// Append registra un evento pending, o devuelve el existente si no hay nada nuevo que enviar.
func (s *EventStore) Append(_ context.Context, req repository.AppendRequest) (*entity.Event, bool, error) {
	if req.Invoice == nil || !req.Type.Valid() {
		return nil, false, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := req.Invoice
	open := s.unsettled(inv.ID, "")
	if open != nil && open.Type == req.Type {
		return cloneEvent(open), false, nil
	}

	meta := s.metas[inv.ID]
	switch req.Type {
	case entity.EventTypeAlta:
		if meta != nil && meta.Status == entity.MetaStatusVoid {
			return nil, false, domain.ErrInvoiceVoided
		}
		if meta != nil && meta.Status == entity.MetaStatusAccepted {
			for _, e := range s.invoiceEvents(inv.ID) {
				if e.Type == entity.EventTypeAlta && e.Status == entity.EventStatusAccepted {
					return cloneEvent(e), false, nil
				}
			}
		}
	case entity.EventTypeAnulacion:
		if meta == nil || meta.Status != entity.MetaStatusAccepted {
			return nil, false, domain.ErrNotCancellable
		}
	}
	if open != nil {
		return nil, false, fmt.Errorf("%w: la factura tiene un %s en curso", domain.ErrConflict, open.Type)
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
	s.insert(ev)

	if meta == nil {
		s.metas[inv.ID] = &entity.InvoiceMeta{
			InvoiceID: inv.ID,
			CompanyID: inv.CompanyID,
			Status:    entity.MetaStatusPending,
			CreatedAt: req.At,
			UpdatedAt: req.At,
		}
	} else if req.Type == entity.EventTypeAlta {
		meta.Status = entity.MetaStatusPending
		meta.UpdatedAt = req.At
	}
	return cloneEvent(ev), true, nil
}

// Claim pending -> sending.
func (s *EventStore) Claim(_ context.Context, eventID, token string, at time.Time) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !verifactu.CanTransition(ev.Status, entity.EventStatusSending) {
		return nil, domain.ErrAlreadyClaimed
	}
	ev.Status = entity.EventStatusSending
	ev.ClaimToken = token
	sent := at
	ev.SentAt = &sent
	ev.UpdatedAt = at
	if ev.Type == entity.EventTypeAlta {
		s.setMetaStatus(ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), at)
	}
	return cloneEvent(ev), nil
}

func (s *EventStore) setMetaStatus(invoiceID string, st entity.MetaStatus, at time.Time) {
	m, ok := s.metas[invoiceID]
	if !ok || m.Status == entity.MetaStatusAccepted || m.Status == entity.MetaStatusVoid {
		return
	}
	m.Status = st
	m.UpdatedAt = at
}

// Complete cierra un evento sending como aceptado o rechazado.
func (s *EventStore) Complete(_ context.Context, c entity.Completion) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.Outcome.Valid() {
		return nil, fmt.Errorf("%w: resultado %q", domain.ErrInvalidInput, c.Outcome)
	}
	ev, ok := s.events[c.EventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if ev.ClaimToken != c.ClaimToken || !verifactu.CanTransition(ev.Status, c.Outcome.Status()) {
		return nil, domain.ErrStaleClaim
	}

	if c.Outcome == entity.OutcomeAccepted {
		if err := s.accept(ev, c); err != nil {
			return nil, err
		}
	} else {
		s.reject(ev, c)
	}
	return cloneEvent(ev), nil
}

func (s *EventStore) accept(ev *entity.Event, c entity.Completion) error {
	meta, ok := s.metas[ev.InvoiceID]
	if !ok {
		return fmt.Errorf("meta de la factura %s: %w", ev.InvoiceID, domain.ErrNotFound)
	}
	at := c.At

	switch ev.Type {
	case entity.EventTypeAlta:
		head := s.headFor(ev.CompanyID)
		if head.LastHash != c.PreviousHash {
			return domain.ErrChainMismatch
		}
		head.LastHash = c.Hash
		head.Position++
		head.LastInvoiceID = ev.InvoiceID
		head.UpdatedAt = at
		s.heads[ev.CompanyID] = head

		meta.Status = verifactu.MetaStatusFor(entity.EventStatusAccepted)
		meta.ChainedHash = c.Hash
		meta.PreviousHash = c.PreviousHash
		meta.ChainPosition = head.Position
		meta.AuthorityRef = c.AuthorityRef
		meta.AcceptedAt = &at
	case entity.EventTypeAnulacion:
		if meta.Status != entity.MetaStatusAccepted || meta.ChainedHash != c.PreviousHash {
			return domain.ErrChainMismatch
		}
		meta.Status = entity.MetaStatusVoid
		meta.VoidedAt = &at
	}
	meta.UpdatedAt = at

	ev.Status = entity.EventStatusAccepted
	ev.PreviousHash = c.PreviousHash
	ev.Hash = c.Hash
	ev.AuthorityRef = c.AuthorityRef
	ev.LastError = nil
	ev.UpdatedAt = at
	return nil
}

func (s *EventStore) headFor(companyID string) *entity.ChainHead {
	if h, ok := s.heads[companyID]; ok {
		c := *h
		return &c
	}
	return &entity.ChainHead{CompanyID: companyID, LastHash: verifactu.GenesisHash}
}

func (s *EventStore) reject(ev *entity.Event, c entity.Completion) {
	ev.Attempts++
	if c.Exhaust && ev.Attempts < c.MaxAttempts {
		ev.Attempts = c.MaxAttempts
	}
	msg := c.Error
	ev.LastError = &msg
	ev.Status = entity.EventStatusRejected
	if c.Hash != "" {
		ev.PreviousHash = c.PreviousHash
		ev.Hash = c.Hash
	}
	ev.UpdatedAt = c.At
	next := c.NextAttemptAt
	if next.IsZero() {
		next = c.At
	}
	ev.NextAttemptAt = &next
	if ev.Type == entity.EventTypeAlta {
		s.setMetaStatus(ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), c.At)
	}

	if c.MaxAttempts > 0 && ev.Attempts >= c.MaxAttempts {
		ev.DeadLettered = true
		entry := &entity.DLQEntry{
			ID:        uuid.New().String(),
			EventID:   ev.ID,
			CompanyID: ev.CompanyID,
			InvoiceID: ev.InvoiceID,
			EventType: ev.Type,
			Attempts:  ev.Attempts,
			LastError: msg,
			Status:    entity.DLQStatusParked,
			FailedAt:  c.At,
		}
		s.dlq[entry.ID] = entry
		s.dlqOrder = append(s.dlqOrder, entry.ID)
	}
}

// Reopen rejected -> pending.
func (s *EventStore) Reopen(_ context.Context, eventID string, at time.Time, manual bool) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !verifactu.CanTransition(ev.Status, entity.EventStatusPending) {
		return nil, domain.ErrNotRetryable
	}
	if ev.DeadLettered && !manual {
		return nil, domain.ErrNotRetryable
	}
	if other := s.unsettled(ev.InvoiceID, ev.ID); other != nil {
		return nil, fmt.Errorf("%w: la factura ya tiene el evento %s en curso", domain.ErrConflict, other.ID)
	}
	if meta := s.metas[ev.InvoiceID]; ev.Type == entity.EventTypeAlta && meta != nil && meta.Status == entity.MetaStatusVoid {
		return nil, domain.ErrInvoiceVoided
	}

	ev.Status = entity.EventStatusPending
	ev.ClaimToken = ""
	ev.NextAttemptAt = nil
	ev.UpdatedAt = at
	if manual {
		ev.LastError = nil
		if ev.DeadLettered {
			ev.DeadLettered = false
			for _, id := range s.dlqOrder {
				if d := s.dlq[id]; d.EventID == ev.ID && d.Status == entity.DLQStatusParked {
					d.Status = entity.DLQStatusReplayed
					replayed := at
					d.ReplayedAt = &replayed
					d.ReplayEventID = ev.ID
				}
			}
		}
	}
	if ev.Type == entity.EventTypeAlta {
		s.setMetaStatus(ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), at)
	}
	return cloneEvent(ev), nil
}

// GetEvent devuelve el evento por id.
func (s *EventStore) GetEvent(_ context.Context, id string) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEvent(ev), nil
}

// LatestEvent último evento creado para la factura.
func (s *EventStore) LatestEvent(_ context.Context, invoiceID string) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.invoiceEvents(invoiceID)
	if len(evs) == 0 {
		return nil, domain.ErrNotFound
	}
	return cloneEvent(evs[0]), nil
}

// ListEvents eventos de la factura, más reciente primero.
func (s *EventStore) ListEvents(_ context.Context, invoiceID string, limit int) ([]*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entity.Event{}
	for _, e := range s.invoiceEvents(invoiceID) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneEvent(e))
	}
	return out, nil
}

// GetMeta proyección de la factura.
func (s *EventStore) GetMeta(_ context.Context, invoiceID string) (*entity.InvoiceMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[invoiceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMeta(m), nil
}

// ChainHead cabeza de la cadena de la empresa.
func (s *EventStore) ChainHead(_ context.Context, companyID string) (*entity.ChainHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headFor(companyID), nil
}

// ListChain metas encadenadas de la empresa por posición.
func (s *EventStore) ListChain(_ context.Context, companyID string) ([]*entity.InvoiceMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entity.InvoiceMeta{}
	for _, m := range s.metas {
		if m.CompanyID == companyID && m.ChainPosition > 0 {
			out = append(out, cloneMeta(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainPosition < out[j].ChainPosition })
	return out, nil
}

func (s *EventStore) filter(limit int, keep func(e *entity.Event) bool) []*entity.Event {
	out := []*entity.Event{}
	for _, id := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e := s.events[id]; keep(e) {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// ListPending eventos pending por orden de creación.
func (s *EventStore) ListPending(_ context.Context, limit int) ([]*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(limit, func(e *entity.Event) bool {
		return e.Status == entity.EventStatusPending
	}), nil
}

// ListRetryable eventos rejected fuera de la DLQ con el backoff vencido, por vencimiento.
func (s *EventStore) ListRetryable(_ context.Context, f repository.RetryFilter) ([]*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.filter(0, func(e *entity.Event) bool {
		return e.Status == entity.EventStatusRejected && !e.DeadLettered &&
			(f.MaxAttempts <= 0 || e.Attempts < f.MaxAttempts) &&
			!retryAt(e).After(f.DueAt)
	})
	sort.SliceStable(due, func(i, j int) bool { return retryAt(due[i]).Before(retryAt(due[j])) })
	if f.Limit > 0 && len(due) > f.Limit {
		due = due[:f.Limit]
	}
	return due, nil
}

func retryAt(e *entity.Event) time.Time {
	if e.NextAttemptAt != nil {
		return *e.NextAttemptAt
	}
	return e.UpdatedAt
}

// ListStale eventos sending iniciados antes de sentBefore.
func (s *EventStore) ListStale(_ context.Context, sentBefore time.Time, limit int) ([]*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(limit, func(e *entity.Event) bool {
		return e.Status == entity.EventStatusSending && e.SentAt != nil && e.SentAt.Before(sentBefore)
	}), nil
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		c := t
		return &c
	}
	return cur
}

// Health resumen de la cola de la empresa.
func (s *EventStore) Health(_ context.Context, companyID string) (*entity.Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &entity.Health{}
	for _, e := range s.events {
		if e.CompanyID != companyID {
			continue
		}
		h.LastEventAt = latest(h.LastEventAt, e.CreatedAt)
		switch {
		case e.IsUnsettled():
			h.PendingCount++
		case e.Status == entity.EventStatusRejected:
			h.StuckCount++
		}
		switch e.Status {
		case entity.EventStatusAccepted:
			h.LastAcceptedAt = latest(h.LastAcceptedAt, e.UpdatedAt)
		case entity.EventStatusRejected:
			h.LastRejectedAt = latest(h.LastRejectedAt, e.UpdatedAt)
		}
	}
	return h, nil
}

// ListDLQ entradas de la empresa, más reciente primero.
func (s *EventStore) ListDLQ(_ context.Context, f repository.DLQFilter) ([]*entity.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entity.DLQEntry{}
	for i := len(s.dlqOrder) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		d := s.dlq[s.dlqOrder[i]]
		if d.CompanyID != f.CompanyID || (f.InvoiceID != "" && d.InvoiceID != f.InvoiceID) {
			continue
		}
		out = append(out, cloneDLQ(d))
	}
	return out, nil
}

// GetDLQ entrada por id.
func (s *EventStore) GetDLQ(_ context.Context, id string) (*entity.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dlq[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDLQ(d), nil
}

// ReplayDLQ reinyecta una entrada como evento nuevo.
func (s *EventStore) ReplayDLQ(_ context.Context, id string, at time.Time) (*entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dlq[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if d.Status != entity.DLQStatusParked {
		return nil, fmt.Errorf("%w: la entrada ya fue reinyectada", domain.ErrConflict)
	}
	for _, e := range s.invoiceEvents(d.InvoiceID) {
		if e.Type == d.EventType && (e.IsUnsettled() || e.Status == entity.EventStatusAccepted) {
			return nil, fmt.Errorf("%w: ya existe un %s %s para la factura", domain.ErrConflict, e.Type, e.Status)
		}
	}
	meta := s.metas[d.InvoiceID]
	if d.EventType == entity.EventTypeAlta && meta != nil && meta.Status == entity.MetaStatusVoid {
		return nil, domain.ErrInvoiceVoided
	}
	if d.EventType == entity.EventTypeAnulacion && (meta == nil || meta.Status != entity.MetaStatusAccepted) {
		return nil, domain.ErrNotCancellable
	}

	orig := s.events[d.EventID]
	ev := &entity.Event{
		ID:        uuid.New().String(),
		CompanyID: d.CompanyID,
		InvoiceID: d.InvoiceID,
		Type:      d.EventType,
		Status:    entity.EventStatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if orig != nil {
		ev.Reason = orig.Reason
	}
	if ev.Type == entity.EventTypeAnulacion {
		ev.PreviousHash = meta.ChainedHash
	}
	s.insert(ev)
	if ev.Type == entity.EventTypeAlta {
		s.setMetaStatus(ev.InvoiceID, verifactu.MetaStatusFor(ev.Status), at)
	}

	d.Status = entity.DLQStatusReplayed
	replayed := at
	d.ReplayedAt = &replayed
	d.ReplayEventID = ev.ID
	return cloneEvent(ev), nil
}
