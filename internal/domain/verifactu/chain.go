// Package verifactu: cadena de huellas (encadenamiento) de los registros de facturación VeriFactu.
// Algoritmo: SHA-256 sobre una serialización canónica clave=valor del registro más la huella anterior.

package verifactu

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
)

// GenesisHash huella anterior del primer registro de cada empresa.
const GenesisHash = "GENESIS"

// DefaultCurrency moneda usada cuando la factura no indica una.
const DefaultCurrency = "EUR"

// RecordFields datos de la factura que entran en la huella.
type RecordFields struct {
	Type      entity.EventType
	Series    string
	Number    string
	IssueDate time.Time
	Total     decimal.Decimal // solo alta
	Currency  string          // solo alta
}

// FieldsFromInvoice construye los campos de un registro del tipo indicado para la factura.
func FieldsFromInvoice(inv *entity.Invoice, t entity.EventType) RecordFields {
	return RecordFields{
		Type:      t,
		Series:    inv.Series,
		Number:    inv.Number,
		IssueDate: inv.IssueDate,
		Total:     inv.Total,
		Currency:  inv.Currency,
	}
}

var valueEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")

func canonicalValue(s string) string {
	return valueEscaper.Replace(norm.NFC.String(strings.TrimSpace(s)))
}

// FormatAmount importe con punto decimal y 2 decimales, sin separador de miles (ej: 1210.00).
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// FormatDate fecha de expedición en formato AEAT (dd-mm-aaaa), siempre en UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format("02-01-2006")
}

// Canonical devuelve la serialización canónica del registro encadenado a previousHash.
// Los valores se normalizan a NFC y se escapan '%', '&' y '='; el orden de los campos es fijo.
func Canonical(companyID string, f RecordFields, previousHash string) (string, error) {
	if err := f.validate(companyID); err != nil {
		return "", err
	}
	if previousHash == "" {
		previousHash = GenesisHash
	}

	var pairs [][2]string
	switch f.Type {
	case entity.EventTypeAlta:
		currency := f.Currency
		if strings.TrimSpace(currency) == "" {
			currency = DefaultCurrency
		}
		pairs = [][2]string{
			{"IDEmisorFactura", companyID},
			{"Serie", f.Series},
			{"Numero", f.Number},
			{"FechaExpedicionFactura", FormatDate(f.IssueDate)},
			{"TipoRegistro", string(f.Type)},
			{"ImporteTotal", FormatAmount(f.Total)},
			{"Moneda", strings.ToUpper(currency)},
			{"Huella", previousHash},
		}
	case entity.EventTypeAnulacion:
		pairs = [][2]string{
			{"IDEmisorFacturaAnulada", companyID},
			{"SerieAnulada", f.Series},
			{"NumeroAnulada", f.Number},
			{"FechaExpedicionFacturaAnulada", FormatDate(f.IssueDate)},
			{"TipoRegistro", string(f.Type)},
			{"Huella", previousHash},
		}
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+canonicalValue(p[1]))
	}
	return strings.Join(parts, "&"), nil
}

// ComputeHash calcula la huella SHA-256 (hex en mayúsculas, 64 caracteres) del registro.
// Es determinista: mismas entradas, misma huella. previousHash vacío equivale a GenesisHash.
func ComputeHash(companyID string, f RecordFields, previousHash string) (string, error) {
	cadena, err := Canonical(companyID, f, previousHash)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(cadena))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

func (f RecordFields) validate(companyID string) error {
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("%w: empresa emisora vacía", domain.ErrInvalidInput)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: tipo de registro desconocido %q", domain.ErrInvalidInput, f.Type)
	}
	if strings.TrimSpace(f.Number) == "" {
		return fmt.Errorf("%w: número de factura vacío", domain.ErrInvalidInput)
	}
	if f.IssueDate.IsZero() {
		return fmt.Errorf("%w: fecha de expedición vacía", domain.ErrInvalidInput)
	}
	if f.Type == entity.EventTypeAlta && f.Currency != "" && len(strings.TrimSpace(f.Currency)) != 3 {
		return fmt.Errorf("%w: moneda %q no es ISO 4217", domain.ErrInvalidInput, f.Currency)
	}
	return nil
}
