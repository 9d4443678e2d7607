// cert_check diagnostica el certificado de cliente configurado para el envío a la AEAT
// (VERIFACTU_CERT_PATH, VERIFACTU_CERT_KEY_PATH, VERIFACTU_CERT_PASSWORD).
//
// Uso: go run ./cmd/cert_check [ruta/certificado.p12]
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/aeat"
	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
	"github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuración: %v\n", err)
		os.Exit(1)
	}
	certPath := cfg.Verifactu.CertPath
	if len(os.Args) > 1 {
		certPath = os.Args[1]
	}

	fmt.Println("🔍 DIAGNÓSTICO DE CERTIFICADO AEAT")
	fmt.Println("----------------------------------")
	if certPath == "" {
		fmt.Println("\n❌ VERIFACTU_CERT_PATH vacío: no hay certificado que revisar.")
		os.Exit(1)
	}
	fmt.Printf("📂 Intentando leer: %s\n", certPath)

	info, err := os.Stat(certPath)
	if err != nil {
		fmt.Println("\n❌ ERROR DE ARCHIVO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Archivo encontrado. Tamaño: %d bytes\n", info.Size())

	fmt.Println("\n🔐 Intentando cargar el certificado...")
	cert, err := aeat.LoadCertificate(certPath, cfg.Verifactu.CertKeyPath, cfg.Verifactu.CertPassword)
	if err != nil {
		fmt.Println("\n❌ ERROR DE CONTRASEÑA O FORMATO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		os.Exit(1)
	}
	desc, err := aeat.Describe(cert)
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("   Sujeto:  %s\n", desc.Subject)
	fmt.Printf("   Emisor:  %s\n", desc.Issuer)
	fmt.Printf("   Serie:   %s\n", desc.Serial)
	fmt.Printf("   Vigente: %s → %s\n", desc.NotBefore.Format(time.DateOnly), desc.NotAfter.Format(time.DateOnly))
	if desc.Expired(time.Now()) {
		fmt.Println("\n❌ El certificado no está vigente; la AEAT rechazará la conexión.")
		os.Exit(1)
	}
	if cfg.Verifactu.Env != verifactu.EnvDev {
		fmt.Printf("\n🌐 Endpoint (%s): %s\n", cfg.Verifactu.Env, verifactu.Endpoint(cfg.Verifactu.Env))
	}
	fmt.Println("\n✨ ¡ÉXITO! El certificado se carga y está vigente.")
}
