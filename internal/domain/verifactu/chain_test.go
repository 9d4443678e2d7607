package verifactu_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
)

// ──────────────────────────────────────────────────────────────────────────────
// Vector de prueba calculado con sha256sum sobre la cadena canónica:
//
//	IDEmisorFactura=B12345678&Serie=A&Numero=0001&FechaExpedicionFactura=10-05-2024&
//	TipoRegistro=alta&ImporteTotal=1210.00&Moneda=EUR&Huella=GENESIS
//
// Si cambia el orden de campos, el formato del importe o la fecha, este test falla.
// ──────────────────────────────────────────────────────────────────────────────

const (
	testCompany      = "B12345678"
	testHashExpected = "CE83F0EB76B0D10CBB1838BD9FCDD92F85582172E8A1CB36B586F43E752E42E0"
)

func buildTestFields() verifactu.RecordFields {
	return verifactu.RecordFields{
		Type:      entity.EventTypeAlta,
		Series:    "A",
		Number:    "0001",
		IssueDate: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Total:     decimal.NewFromInt(1210),
		Currency:  "EUR",
	}
}

func TestComputeHash_VectorExacto(t *testing.T) {
	h, err := verifactu.ComputeHash(testCompany, buildTestFields(), verifactu.GenesisHash)
	require.NoError(t, err)
	assert.Equal(t, testHashExpected, h, "la huella debe coincidir con el vector conocido")
	assert.Len(t, h, 64, "SHA-256 en hex debe tener 64 caracteres")
}

func TestComputeHash_PreviousVacioEquivaleAGenesis(t *testing.T) {
	h, err := verifactu.ComputeHash(testCompany, buildTestFields(), "")
	require.NoError(t, err)
	assert.Equal(t, testHashExpected, h)
}

func TestComputeHash_Determinista(t *testing.T) {
	a, err := verifactu.ComputeHash(testCompany, buildTestFields(), "PREV")
	require.NoError(t, err)
	b, err := verifactu.ComputeHash(testCompany, buildTestFields(), "PREV")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeHash_CambiaConCadaEntrada(t *testing.T) {
	base, err := verifactu.ComputeHash(testCompany, buildTestFields(), "PREV")
	require.NoError(t, err)

	otherPrev, _ := verifactu.ComputeHash(testCompany, buildTestFields(), "OTRO")
	assert.NotEqual(t, base, otherPrev, "la huella anterior debe influir")

	otherCompany, _ := verifactu.ComputeHash("B87654321", buildTestFields(), "PREV")
	assert.NotEqual(t, base, otherCompany, "la empresa debe influir")

	f := buildTestFields()
	f.Total = decimal.RequireFromString("1210.01")
	otherTotal, _ := verifactu.ComputeHash(testCompany, f, "PREV")
	assert.NotEqual(t, base, otherTotal, "el importe debe influir")

	f = buildTestFields()
	f.Type = entity.EventTypeAnulacion
	annul, _ := verifactu.ComputeHash(testCompany, f, "PREV")
	assert.NotEqual(t, base, annul, "alta y anulación no pueden compartir huella")
}

func TestComputeHash_SerieYNumeroNoAmbiguos(t *testing.T) {
	f1 := buildTestFields()
	f1.Series, f1.Number = "A1", "2"
	f2 := buildTestFields()
	f2.Series, f2.Number = "A", "12"
	h1, err := verifactu.ComputeHash(testCompany, f1, "")
	require.NoError(t, err)
	h2, err := verifactu.ComputeHash(testCompany, f2, "")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestComputeHash_NormalizaUnicodeYFormatoImporte(t *testing.T) {
	composed := buildTestFields()
	composed.Series = "SE\u00d1"
	decomposed := buildTestFields()
	decomposed.Series = "SEN\u0303"
	h1, err := verifactu.ComputeHash(testCompany, composed, "")
	require.NoError(t, err)
	h2, err := verifactu.ComputeHash(testCompany, decomposed, "")
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "NFC: misma serie con distinta composición debe dar la misma huella")

	withScale := buildTestFields()
	withScale.Total = decimal.RequireFromString("1210.000")
	h3, err := verifactu.ComputeHash(testCompany, withScale, verifactu.GenesisHash)
	require.NoError(t, err)
	assert.Equal(t, testHashExpected, h3, "1210.000 y 1210 se serializan como 1210.00")
}

func TestCanonical_EscapaSeparadores(t *testing.T) {
	f := buildTestFields()
	f.Series = "A&B=C"
	s, err := verifactu.Canonical(testCompany, f, "")
	require.NoError(t, err)
	assert.Contains(t, s, "Serie=A%26B%3DC&")
}

func TestComputeHash_EntradasInvalidas(t *testing.T) {
	cases := map[string]func(f *verifactu.RecordFields) string{
		"empresa vacía": func(f *verifactu.RecordFields) string { return "" },
		"número vacío":  func(f *verifactu.RecordFields) string { f.Number = " "; return testCompany },
		"fecha vacía":   func(f *verifactu.RecordFields) string { f.IssueDate = time.Time{}; return testCompany },
		"tipo inválido": func(f *verifactu.RecordFields) string { f.Type = "modificacion"; return testCompany },
		"moneda rara":   func(f *verifactu.RecordFields) string { f.Currency = "EURO"; return testCompany },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := buildTestFields()
			company := mutate(&f)
			_, err := verifactu.ComputeHash(company, f, "")
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Auditoría de la cadena
// ──────────────────────────────────────────────────────────────────────────────

func buildChain(t *testing.T, n int) []entity.ChainLink {
	t.Helper()
	prev := verifactu.GenesisHash
	links := make([]entity.ChainLink, 0, n)
	for i := 1; i <= n; i++ {
		inv := &entity.Invoice{
			ID:        fmt.Sprintf("inv-%d", i),
			CompanyID: testCompany,
			Series:    "A",
			Number:    fmt.Sprintf("%04d", i),
			IssueDate: time.Date(2024, 5, i, 0, 0, 0, 0, time.UTC),
			Total:     decimal.NewFromInt(int64(100 * i)),
			Currency:  "EUR",
		}
		h, err := verifactu.ComputeHash(testCompany, verifactu.FieldsFromInvoice(inv, entity.EventTypeAlta), prev)
		require.NoError(t, err)
		links = append(links, entity.ChainLink{Invoice: inv, Position: int64(i), PreviousHash: prev, Hash: h})
		prev = h
	}
	return links
}

func TestVerifyChain_CadenaIntegra(t *testing.T) {
	links := buildChain(t, 4)
	report := verifactu.VerifyChain(testCompany, links)
	assert.True(t, report.ValidChain)
	assert.Equal(t, 4, report.Total)
	assert.Empty(t, report.BrokenLinks)
	assert.Equal(t, links[0].Hash, report.FirstHash)
	assert.Equal(t, links[3].Hash, report.LastHash)
}

func TestVerifyChain_DetectaManipulacion(t *testing.T) {
	links := buildChain(t, 4)
	links[1].Invoice.Total = decimal.NewFromInt(1)

	report := verifactu.VerifyChain(testCompany, links)
	assert.False(t, report.ValidChain)
	assert.Equal(t, []int64{2}, report.BrokenLinks, "solo el eslabón manipulado queda roto")
}

func TestVerifyChain_DetectaEnlaceRoto(t *testing.T) {
	links := buildChain(t, 3)
	links[2].PreviousHash = "OTRA"

	report := verifactu.VerifyChain(testCompany, links)
	assert.False(t, report.ValidChain)
	assert.Equal(t, []int64{3}, report.BrokenLinks)
}

func TestVerifyChain_Vacia(t *testing.T) {
	report := verifactu.VerifyChain(testCompany, nil)
	assert.True(t, report.ValidChain)
	assert.Zero(t, report.Total)
}
