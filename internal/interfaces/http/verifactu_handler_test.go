package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-dispatcher/internal/application/dto"
	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/memory"
	apphttp "github.com/jhoicas/verifactu-dispatcher/internal/interfaces/http"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const otherCompanyID = "00000000-0000-0000-0000-000000000099"

type acceptingGateway struct{}

func (acceptingGateway) Submit(_ context.Context, s appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	return &appverifactu.SubmitResult{Accepted: true, AuthorityReference: "CSV-" + s.EventID[:8]}, nil
}

type verifactuTestEnv struct {
	app      *fiber.App
	invoices *memory.InvoiceReader
}

func newVerifactuTestEnv(t *testing.T) *verifactuTestEnv {
	t.Helper()
	store := memory.NewEventStore()
	invoices := memory.NewInvoiceReader()
	cfg := appverifactu.DefaultDispatcherConfig()
	cfg.SubmitTimeout = time.Second
	disp := appverifactu.NewDispatcher(store, invoices, acceptingGateway{}, cfg, logger.NewNop())
	svc := appverifactu.NewService(store, invoices, disp, "test", logger.NewNop())

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{Verifactu: svc, JWTSecret: testJWTSecret})
	return &verifactuTestEnv{app: app, invoices: invoices}
}

func (e *verifactuTestEnv) addInvoice(id, companyID string) {
	e.invoices.Put(&entity.Invoice{
		ID:         id,
		CompanyID:  companyID,
		IssuerNIF:  "B12345674",
		IssuerName: "Talleres Ejemplo SL",
		Series:     "A",
		Number:     "0001",
		IssueDate:  time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Total:      decimal.RequireFromString("1210.00"),
		Currency:   "EUR",
	})
}

func (e *verifactuTestEnv) call(t *testing.T, method, path, role, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "el cuerpo debe ser JSON válido")
}

// ──────────────────────────────────────────────────────────────────────────────
// Alta y ciclo completo
// ──────────────────────────────────────────────────────────────────────────────

func TestVerifactuHandler_IssueIdempotente(t *testing.T) {
	env := newVerifactuTestEnv(t)
	env.addInvoice("inv-1", testCompanyID)

	resp := env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/issue", "operador", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "la primera alta debe crearse")
	var first dto.EnqueueResponse
	decodeBody(t, resp, &first)
	assert.True(t, first.Created)
	assert.Equal(t, "alta", first.Event.Type)
	assert.Equal(t, "pending", first.Event.Status)

	resp = env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/issue", "admin", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "la segunda alta no crea evento")
	var second dto.EnqueueResponse
	decodeBody(t, resp, &second)
	assert.False(t, second.Created)
	assert.Equal(t, first.Event.ID, second.Event.ID, "debe devolver el mismo evento")
}

func TestVerifactuHandler_CicloAltaDespachoAnulacion(t *testing.T) {
	env := newVerifactuTestEnv(t)
	env.addInvoice("inv-1", testCompanyID)

	resp := env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/cancel", "operador", `{"reason":"error en importe"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no se anula una factura sin alta aceptada")
	resp.Body.Close()

	resp = env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/issue", "operador", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var health dto.HealthResponse
	resp = env.call(t, http.MethodGet, "/api/verifactu/health", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &health)
	assert.Equal(t, 1, health.PendingCount)

	resp = env.call(t, http.MethodPost, "/api/verifactu/dispatch", "admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pass dto.DispatchResponse
	decodeBody(t, resp, &pass)
	assert.Equal(t, 1, pass.Accepted, "la pasada debe aceptar el alta")

	resp = env.call(t, http.MethodGet, "/api/verifactu/invoices/inv-1/meta", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta dto.InvoiceMetaResponse
	decodeBody(t, resp, &meta)
	assert.Equal(t, "accepted", meta.Status)
	assert.Len(t, meta.ChainedHash, 64)
	assert.EqualValues(t, 1, meta.ChainPosition)
	assert.NotEmpty(t, meta.QRURL, "una factura aceptada debe tener URL de cotejo")

	resp = env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/cancel", "operador", `{"reason":"error en importe"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var cancel dto.EnqueueResponse
	decodeBody(t, resp, &cancel)
	assert.Equal(t, "anulacion", cancel.Event.Type)
	assert.Equal(t, "error en importe", cancel.Event.Reason)

	resp = env.call(t, http.MethodGet, "/api/verifactu/invoices/inv-1/events?limit=1", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []dto.EventResponse
	decodeBody(t, resp, &events)
	require.Len(t, events, 1, "limit=1 devuelve un solo evento")
	assert.Equal(t, cancel.Event.ID, events[0].ID, "el más reciente va primero")

	resp = env.call(t, http.MethodGet, "/api/verifactu/chain/audit", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var audit dto.ChainAuditResponse
	decodeBody(t, resp, &audit)
	assert.True(t, audit.ValidChain)
	assert.Equal(t, 1, audit.Total)
	assert.Equal(t, meta.ChainedHash, audit.LastHash)
}

// ──────────────────────────────────────────────────────────────────────────────
// Errores y permisos
// ──────────────────────────────────────────────────────────────────────────────

func TestVerifactuHandler_FacturaDeOtraEmpresa_404(t *testing.T) {
	env := newVerifactuTestEnv(t)
	env.addInvoice("inv-ajena", otherCompanyID)

	resp := env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-ajena/issue", "admin", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no se revela la existencia de facturas ajenas")
	resp.Body.Close()

	resp = env.call(t, http.MethodGet, "/api/verifactu/invoices/inv-ajena/meta", "admin", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVerifactuHandler_RetrySinRechazo_409(t *testing.T) {
	env := newVerifactuTestEnv(t)
	env.addInvoice("inv-1", testCompanyID)

	resp := env.call(t, http.MethodPost, "/api/verifactu/invoices/inv-1/retry", "operador", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body dto.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "NOT_RETRYABLE", body.Code)
}

func TestVerifactuHandler_Permisos(t *testing.T) {
	env := newVerifactuTestEnv(t)
	env.addInvoice("inv-1", testCompanyID)

	cases := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"consulta no registra", http.MethodPost, "/api/verifactu/invoices/inv-1/issue", "consulta", http.StatusForbidden},
		{"operador no despacha", http.MethodPost, "/api/verifactu/dispatch", "operador", http.StatusForbidden},
		{"operador no reinyecta", http.MethodPost, "/api/verifactu/dlq/x/replay", "operador", http.StatusForbidden},
		{"sin token", http.MethodGet, "/api/verifactu/config", "", http.StatusUnauthorized},
		{"consulta lee config", http.MethodGet, "/api/verifactu/config", "consulta", http.StatusOK},
		{"admin reinyecta entrada inexistente", http.MethodPost, "/api/verifactu/dlq/no-existe/replay", "admin", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.call(t, tc.method, tc.path, tc.role, "")
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Consultas
// ──────────────────────────────────────────────────────────────────────────────

func TestVerifactuHandler_Config(t *testing.T) {
	env := newVerifactuTestEnv(t)

	resp := env.call(t, http.MethodGet, "/api/verifactu/config", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg dto.RetryConfigResponse
	decodeBody(t, resp, &cfg)

	def := domverifactu.DefaultRetryConfig()
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.BackoffMinutes, cfg.BackoffMinutes)
}

func TestVerifactuHandler_DLQVacia(t *testing.T) {
	env := newVerifactuTestEnv(t)

	resp := env.call(t, http.MethodGet, "/api/verifactu/dlq?limit=500", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list dto.DLQListResponse
	decodeBody(t, resp, &list)
	assert.NotNil(t, list.Items, "items nunca es null")
	assert.Empty(t, list.Items)
	assert.Equal(t, appverifactu.MaxListLimit, list.Limit, "el límite se recorta al máximo")
}
