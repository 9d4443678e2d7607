package verifactu_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/memory"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	companyA = "B12345674"
	companyB = "A58818501"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type submitFunc func(ctx context.Context, s appverifactu.Submission) (*appverifactu.SubmitResult, error)

// fakeGateway registra los envíos y delega la respuesta en fn.
type fakeGateway struct {
	mu    sync.Mutex
	calls []appverifactu.Submission
	fn    submitFunc
}

func (g *fakeGateway) Submit(ctx context.Context, s appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, s)
	fn := g.fn
	g.mu.Unlock()
	return fn(ctx, s)
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) set(fn submitFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fn = fn
}

func acceptAll(_ context.Context, s appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	return &appverifactu.SubmitResult{Accepted: true, AuthorityReference: "CSV-" + s.EventID[:8]}, nil
}

func rejectAll(_ context.Context, _ appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	return &appverifactu.SubmitResult{Accepted: false, ErrorDetail: "4102: el NIF no está identificado"}, nil
}

type fixture struct {
	store    *memory.EventStore
	invoices *memory.InvoiceReader
	gw       *fakeGateway
	disp     *appverifactu.Dispatcher
	svc      *appverifactu.Service

	clockMu sync.Mutex
	now     time.Time
	seq     int
}

func testDispatcherConfig() appverifactu.DispatcherConfig {
	cfg := appverifactu.DefaultDispatcherConfig()
	cfg.SubmitTimeout = time.Second
	return cfg
}

func newFixture(t *testing.T, cfg appverifactu.DispatcherConfig, fn submitFunc) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewEventStore(),
		invoices: memory.NewInvoiceReader(),
		gw:       &fakeGateway{fn: fn},
		now:      t0,
	}
	f.disp = appverifactu.NewDispatcher(f.store, f.invoices, f.gw, cfg, logger.NewNop())
	f.disp.SetClock(f.clock)
	f.svc = appverifactu.NewService(f.store, f.invoices, f.disp, "test", logger.NewNop())
	f.svc.SetClock(f.clock)
	return f
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) addInvoice(company string) *entity.Invoice {
	f.seq++
	inv := &entity.Invoice{
		ID:        fmt.Sprintf("inv-%s-%03d", company, f.seq),
		CompanyID: company,
		IssuerNIF: company,
		Series:    "A",
		Number:    fmt.Sprintf("%04d", f.seq),
		IssueDate: t0,
		Total:     decimal.NewFromInt(int64(100 * f.seq)),
		Currency:  "EUR",
	}
	f.invoices.Put(inv)
	return inv
}

func (f *fixture) issue(t *testing.T, inv *entity.Invoice) *entity.Event {
	t.Helper()
	ev, created, err := f.svc.OnInvoiceIssued(context.Background(), inv.CompanyID, inv.ID)
	require.NoError(t, err)
	require.True(t, created, "el alta debe crearse")
	return ev
}

func (f *fixture) pass(t *testing.T) appverifactu.DispatchResult {
	t.Helper()
	res, err := f.disp.RunOnce(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) event(t *testing.T, id string) *entity.Event {
	t.Helper()
	ev, err := f.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func (f *fixture) meta(t *testing.T, invoiceID string) *entity.InvoiceMeta {
	t.Helper()
	m, err := f.store.GetMeta(context.Background(), invoiceID)
	require.NoError(t, err)
	return m
}
