package aeat

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

// Prefijos usados en el sobre; la AEAT solo valida los namespaces.
const (
	prefixSoap = "soapenv"
	prefixLR   = "sum"
	prefixInf  = "sum1"
)

// BuildRequest genera el sobre SOAP RegFactuSistemaFacturacion con un único registro
// (RegistroAlta o RegistroAnulacion) encadenado a sub.PreviousHash.
func BuildRequest(sub appverifactu.Submission) ([]byte, error) {
	inv := sub.Invoice
	if inv == nil {
		return nil, fmt.Errorf("aeat: submission sin factura")
	}
	if sub.Hash == "" {
		return nil, fmt.Errorf("aeat: submission sin huella")
	}
	nif := verifactu.NormalizeNIF(inv.IssuerNIF)
	if nif == "" {
		return nil, fmt.Errorf("aeat: factura %s sin NIF emisor", inv.ID)
	}
	name := strings.TrimSpace(inv.IssuerName)
	if name == "" {
		name = nif
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement(prefixSoap + ":Envelope")
	envelope.CreateAttr("xmlns:"+prefixSoap, verifactu.NSSoapEnv)
	envelope.CreateAttr("xmlns:"+prefixLR, verifactu.NSSuministroLR)
	envelope.CreateAttr("xmlns:"+prefixInf, verifactu.NSSuministroInf)
	envelope.CreateElement(prefixSoap + ":Header")
	body := envelope.CreateElement(prefixSoap + ":Body")

	reg := body.CreateElement(prefixLR + ":RegFactuSistemaFacturacion")
	obligado := reg.CreateElement(prefixLR + ":Cabecera").CreateElement(prefixInf + ":ObligadoEmision")
	text(obligado, "NombreRazon", name)
	text(obligado, "NIF", nif)

	registro := reg.CreateElement(prefixLR + ":RegistroFactura")
	switch sub.Type {
	case entity.EventTypeAlta:
		buildAlta(registro, sub, nif, name)
	case entity.EventTypeAnulacion:
		buildAnulacion(registro, sub, nif)
	default:
		return nil, fmt.Errorf("aeat: tipo de registro desconocido %q", sub.Type)
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("aeat: serializar XML: %w", err)
	}
	return out, nil
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(prefixInf + ":" + tag)
	el.SetText(value)
	return el
}

func buildAlta(parent *etree.Element, sub appverifactu.Submission, nif, name string) {
	inv := sub.Invoice
	alta := parent.CreateElement(prefixInf + ":RegistroAlta")
	text(alta, "IDVersion", verifactu.IDVersion)

	id := alta.CreateElement(prefixInf + ":IDFactura")
	text(id, "IDEmisorFactura", nif)
	text(id, "NumSerieFactura", inv.FullNumber())
	text(id, "FechaExpedicionFactura", domverifactu.FormatDate(inv.IssueDate))

	text(alta, "NombreRazonEmisor", name)
	text(alta, "TipoFactura", verifactu.TipoFacturaCompleta)
	text(alta, "DescripcionOperacion", "Factura "+inv.FullNumber())
	text(alta, "ImporteTotal", domverifactu.FormatAmount(inv.Total))
	chaining(alta, sub)
	text(alta, "TipoHuella", verifactu.TipoHuellaSHA256)
	text(alta, "Huella", sub.Hash)
}

func buildAnulacion(parent *etree.Element, sub appverifactu.Submission, nif string) {
	inv := sub.Invoice
	anul := parent.CreateElement(prefixInf + ":RegistroAnulacion")
	text(anul, "IDVersion", verifactu.IDVersion)

	id := anul.CreateElement(prefixInf + ":IDFactura")
	text(id, "IDEmisorFacturaAnulada", nif)
	text(id, "NumSerieFacturaAnulada", inv.FullNumber())
	text(id, "FechaExpedicionFacturaAnulada", domverifactu.FormatDate(inv.IssueDate))

	chaining(anul, sub)
	text(anul, "TipoHuella", verifactu.TipoHuellaSHA256)
	text(anul, "Huella", sub.Hash)
}

// chaining Encadenamiento: PrimerRegistro=S en el primer registro de la empresa, si no la huella anterior.
func chaining(parent *etree.Element, sub appverifactu.Submission) {
	enc := parent.CreateElement(prefixInf + ":Encadenamiento")
	if sub.FirstInChain() {
		text(enc, "PrimerRegistro", "S")
		return
	}
	prev := enc.CreateElement(prefixInf + ":RegistroAnterior")
	text(prev, "Huella", sub.PreviousHash)
}
