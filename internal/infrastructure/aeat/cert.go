// Carga del certificado cliente para TLS mutuo con la AEAT, desde .p12 (PKCS#12) o par PEM.

package aeat

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate elige el formato por extensión: .p12/.pfx usa password, el resto se trata como PEM.
// Con path vacío devuelve un certificado vacío (sin mTLS; solo válido en dev).
func LoadCertificate(path, keyPath, password string) (tls.Certificate, error) {
	if path == "" {
		return tls.Certificate{}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return LoadFromP12(path, password)
	default:
		return LoadFromPEM(path, keyPath)
	}
}

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve solo el certificado hoja; la AEAT no exige la cadena.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (por separado o combinados).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert, nil
}

// CertInfo resumen legible del certificado cargado (sujeto, emisor y vigencia).
type CertInfo struct {
	Subject   string
	Issuer    string
	Serial    string
	NotBefore time.Time
	NotAfter  time.Time
}

// Describe devuelve el resumen del certificado hoja; error si no hay certificado.
func Describe(cert tls.Certificate) (*CertInfo, error) {
	leaf := cert.Leaf
	if leaf == nil {
		if len(cert.Certificate) == 0 {
			return nil, fmt.Errorf("certificado vacío")
		}
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("parsear certificado: %w", err)
		}
	}
	return &CertInfo{
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		Serial:    leaf.SerialNumber.Text(16),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
	}, nil
}

// Expired indica si el certificado no es válido en at.
func (c *CertInfo) Expired(at time.Time) bool {
	return at.Before(c.NotBefore) || at.After(c.NotAfter)
}
