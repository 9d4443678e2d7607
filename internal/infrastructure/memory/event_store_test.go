package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/memory"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func alta(t *testing.T, store *memory.EventStore, number string) *entity.Event {
	t.Helper()
	inv := &entity.Invoice{
		ID: "inv-" + number, CompanyID: "B12345674", IssuerNIF: "B12345674",
		Series: "A", Number: number, IssueDate: t0,
		Total: decimal.RequireFromString("121.00"), Currency: "EUR", CreatedAt: t0,
	}
	ev, created, err := store.Append(context.Background(), repository.AppendRequest{Invoice: inv, Type: entity.EventTypeAlta, At: t0})
	require.NoError(t, err)
	require.True(t, created)
	return ev
}

func rechazar(t *testing.T, store *memory.EventStore, ev *entity.Event, next time.Time) *entity.Event {
	t.Helper()
	ctx := context.Background()
	_, err := store.Claim(ctx, ev.ID, "tok-"+ev.ID, t0)
	require.NoError(t, err)
	done, err := store.Complete(ctx, entity.Completion{
		EventID: ev.ID, ClaimToken: "tok-" + ev.ID, Outcome: entity.OutcomeRejected,
		Error: "4102", MaxAttempts: 3, At: t0, NextAttemptAt: next,
	})
	require.NoError(t, err)
	return done
}

// ──────────────────────────────────────────────────────────────────────────────
// Transiciones
// ──────────────────────────────────────────────────────────────────────────────

func TestEventStore_CompleteSinReclamarEsClaimCaducado(t *testing.T) {
	store := memory.NewEventStore()
	ev := alta(t, store, "0001")

	_, err := store.Complete(context.Background(), entity.Completion{
		EventID: ev.ID, Outcome: entity.OutcomeRejected, Error: "x", MaxAttempts: 3, At: t0,
	})
	assert.ErrorIs(t, err, domain.ErrStaleClaim, "un evento pending no se puede completar aunque el token coincida vacío")

	got, err := store.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EventStatusPending, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestEventStore_CompleteConResultadoDesconocido(t *testing.T) {
	store := memory.NewEventStore()
	ev := alta(t, store, "0001")
	_, err := store.Claim(context.Background(), ev.ID, "tok", t0)
	require.NoError(t, err)

	_, err = store.Complete(context.Background(), entity.Completion{EventID: ev.ID, ClaimToken: "tok", Outcome: "quizas", At: t0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEventStore_ReabrirSoloDesdeRejected(t *testing.T) {
	store := memory.NewEventStore()
	ev := alta(t, store, "0001")

	_, err := store.Reopen(context.Background(), ev.ID, t0, false)
	assert.ErrorIs(t, err, domain.ErrNotRetryable, "pending no se reabre")

	rechazar(t, store, ev, t0.Add(time.Minute))
	got, err := store.Reopen(context.Background(), ev.ID, t0.Add(time.Minute), false)
	require.NoError(t, err)
	assert.Equal(t, entity.EventStatusPending, got.Status)
	assert.Nil(t, got.NextAttemptAt)

	meta, err := store.GetMeta(context.Background(), ev.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, entity.MetaStatusPending, meta.Status)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reintentos por vencimiento
// ──────────────────────────────────────────────────────────────────────────────

func TestEventStore_ListRetryableOrdenaPorVencimiento(t *testing.T) {
	store := memory.NewEventStore()
	ctx := context.Background()
	lento := rechazar(t, store, alta(t, store, "0001"), t0.Add(time.Hour))
	rapido := rechazar(t, store, alta(t, store, "0002"), t0.Add(time.Minute))
	require.NotNil(t, lento.NextAttemptAt)
	assert.Equal(t, t0.Add(time.Hour), *lento.NextAttemptAt)

	due, err := store.ListRetryable(ctx, repository.RetryFilter{DueAt: t0, MaxAttempts: 3})
	require.NoError(t, err)
	assert.Empty(t, due, "ningún backoff ha vencido todavía")

	due, err = store.ListRetryable(ctx, repository.RetryFilter{DueAt: t0.Add(2 * time.Minute), MaxAttempts: 3, Limit: 1})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, rapido.ID, due[0].ID, "el lote no se llena con eventos que aún esperan")

	due, err = store.ListRetryable(ctx, repository.RetryFilter{DueAt: t0.Add(2 * time.Hour), MaxAttempts: 3})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, rapido.ID, due[0].ID)
	assert.Equal(t, lento.ID, due[1].ID)
}

func TestEventStore_ListRetryableExcluyeAgotados(t *testing.T) {
	store := memory.NewEventStore()
	rechazar(t, store, alta(t, store, "0001"), t0)

	due, err := store.ListRetryable(context.Background(), repository.RetryFilter{DueAt: t0, MaxAttempts: 1})
	require.NoError(t, err)
	assert.Empty(t, due, "con un máximo más bajo el evento ya no es reintentable")
}
