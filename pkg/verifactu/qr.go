package verifactu

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QRURL construye la URL de cotejo que se imprime como QR en la factura.
// Los parámetros van en el orden que exige la AEAT: nif, numserie, fecha, importe.
func QRURL(env, nif, numSerie string, issueDate time.Time, total decimal.Decimal) string {
	base := QRBaseTest
	if env == EnvProd {
		base = QRBaseProd
	}
	params := []string{
		"nif=" + url.QueryEscape(NormalizeNIF(nif)),
		"numserie=" + url.QueryEscape(numSerie),
		"fecha=" + issueDate.UTC().Format("02-01-2006"),
		"importe=" + total.Round(2).StringFixed(2),
	}
	return base + "?" + strings.Join(params, "&")
}
