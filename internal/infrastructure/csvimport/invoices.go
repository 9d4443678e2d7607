// Package csvimport lee facturas emitidas desde el CSV que exporta el ERP.
//
// Columnas: id,company_id,issuer_nif,issuer_name,series,number,issue_date(aaaa-mm-dd),total,currency
// El CSV puede venir en UTF-8 o en ISO-8859-1 (exportaciones de Windows).
package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

// Columns cabecera obligatoria del CSV.
var Columns = []string{"id", "company_id", "issuer_nif", "issuer_name", "series", "number", "issue_date", "total", "currency"}

// LoadFile lee y parsea un CSV de facturas del disco.
func LoadFile(path string) ([]*entity.Invoice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("abrir CSV: %w", err)
	}
	return ParseInvoices(DecodeLatin1(raw))
}

// DecodeLatin1 convierte a UTF-8 si el contenido no es UTF-8 válido.
func DecodeLatin1(raw []byte) io.Reader {
	if utf8.Valid(raw) {
		return bytes.NewReader(raw)
	}
	return transform.NewReader(bytes.NewReader(raw), charmap.ISO8859_1.NewDecoder())
}

// ParseInvoices valida cada fila (NIF, fecha, importe) y normaliza NIF y moneda.
func ParseInvoices(r io.Reader) ([]*entity.Invoice, error) {
	rd := csv.NewReader(r)
	rd.TrimLeadingSpace = true
	header, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("cabecera: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("falta la columna %q", c)
		}
	}

	var out []*entity.Invoice
	for line := 2; ; line++ {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("línea %d: %w", line, err)
		}
		get := func(c string) string { return strings.TrimSpace(rec[idx[c]]) }

		nif := verifactu.NormalizeNIF(get("issuer_nif"))
		if err := verifactu.ValidateNIF(nif); err != nil {
			return nil, fmt.Errorf("línea %d: %w", line, err)
		}
		date, err := time.Parse("2006-01-02", get("issue_date"))
		if err != nil {
			return nil, fmt.Errorf("línea %d: fecha: %w", line, err)
		}
		total, err := decimal.NewFromString(get("total"))
		if err != nil {
			return nil, fmt.Errorf("línea %d: total: %w", line, err)
		}
		currency := strings.ToUpper(get("currency"))
		if currency == "" {
			currency = "EUR"
		}
		out = append(out, &entity.Invoice{
			ID:         get("id"),
			CompanyID:  get("company_id"),
			IssuerNIF:  nif,
			IssuerName: get("issuer_name"),
			Series:     get("series"),
			Number:     get("number"),
			IssueDate:  date,
			Total:      total,
			Currency:   currency,
		})
	}
	return out, nil
}
