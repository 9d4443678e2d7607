package aeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

var _ appverifactu.Gateway = (*SOAPClient)(nil)

// SOAPClient implementa Gateway contra el servicio SOAP VeriFactu de la AEAT.
// La autenticación es TLS mutuo con el certificado del obligado o de su representante.
type SOAPClient struct {
	endpoint   string
	httpClient *http.Client
}

// SOAPOption ajusta el cliente (endpoint o http.Client propio en pruebas).
type SOAPOption func(*SOAPClient)

// WithEndpoint sustituye la URL del entorno.
func WithEndpoint(url string) SOAPOption {
	return func(c *SOAPClient) { c.endpoint = url }
}

// WithHTTPClient sustituye el cliente HTTP (y con él la configuración TLS).
func WithHTTPClient(hc *http.Client) SOAPOption {
	return func(c *SOAPClient) { c.httpClient = hc }
}

// NewSOAPClient construye el cliente para env ("test" o "prod") con el certificado cliente dado.
// El timeout por envío lo marca el contexto; el del http.Client es solo un tope de red.
func NewSOAPClient(env string, cert tls.Certificate, opts ...SOAPOption) (*SOAPClient, error) {
	c := &SOAPClient{endpoint: verifactu.Endpoint(env)}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(cert.Certificate) > 0 {
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	c.httpClient = &http.Client{
		Timeout:   2 * time.Minute,
		Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("soap: entorno sin endpoint AEAT %q (usar 'test' o 'prod')", env)
	}
	return c, nil
}

// Submit envía un registro y traduce la respuesta.
// Errores de transporte, SOAP Fault o respuestas ilegibles se devuelven como *TransportError (transitorio);
// un registro Incorrecto es un rechazo permanente, y uno imposible de construir también, sin llamar a la AEAT.
func (c *SOAPClient) Submit(ctx context.Context, sub appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	payload, err := BuildRequest(sub)
	if err != nil {
		return &appverifactu.SubmitResult{Accepted: false, ErrorDetail: err.Error(), Permanent: true}, nil
	}
	res, err := c.post(ctx, payload)
	if err != nil {
		return nil, &appverifactu.TransportError{Err: err}
	}
	return res, nil
}

func (c *SOAPClient) post(ctx context.Context, payload []byte) (*appverifactu.SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	return parseResponse(resp.StatusCode, rawBody)
}

// parseResponse interpreta RespuestaRegFactuSistemaFacturacion (un único RespuestaLinea).
func parseResponse(status int, rawBody []byte) (*appverifactu.SubmitResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return nil, fmt.Errorf("soap: HTTP %d, respuesta no XML: %s", status, truncate(string(rawBody), 200))
	}

	if fault := doc.FindElement("//Fault"); fault != nil {
		return nil, fmt.Errorf("soap: fault [%s]: %s", childText(fault, "faultcode"), childText(fault, "faultstring"))
	}

	resp := doc.FindElement("//RespuestaRegFactuSistemaFacturacion")
	if resp == nil {
		return nil, fmt.Errorf("soap: HTTP %d, respuesta vacía o inesperada", status)
	}

	estadoEnvio := childText(resp, "EstadoEnvio")
	csv := childText(resp, "CSV")
	line := resp.FindElement("RespuestaLinea")
	if line == nil {
		if estadoEnvio == verifactu.EstadoEnvioCorrecto {
			return &appverifactu.SubmitResult{Accepted: true, AuthorityReference: csv}, nil
		}
		return nil, fmt.Errorf("soap: EstadoEnvio %q sin RespuestaLinea", estadoEnvio)
	}

	estado := childText(line, "EstadoRegistro")
	detail := errorDetail(childText(line, "CodigoErrorRegistro"), childText(line, "DescripcionErrorRegistro"))
	switch estado {
	case verifactu.EstadoRegistroCorrecto, verifactu.EstadoRegistroAceptadoConErrores:
		return &appverifactu.SubmitResult{Accepted: true, AuthorityReference: csv, ErrorDetail: detail}, nil
	case verifactu.EstadoRegistroIncorrecto:
		if detail == "" {
			detail = "registro incorrecto"
		}
		return &appverifactu.SubmitResult{Accepted: false, ErrorDetail: detail, Permanent: true}, nil
	default:
		return nil, fmt.Errorf("soap: EstadoRegistro desconocido %q", estado)
	}
}

// childText busca el primer descendiente con esa etiqueta (sin importar el prefijo).
func childText(el *etree.Element, tag string) string {
	if found := el.FindElement(".//" + tag); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

func errorDetail(code, desc string) string {
	switch {
	case code != "" && desc != "":
		return code + ": " + desc
	case code != "":
		return code
	default:
		return desc
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
