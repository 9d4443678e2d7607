// chain_audit recalcula la cadena de huellas VeriFactu de una empresa y muestra el informe en JSON.
//
// Uso: go run ./cmd/chain_audit <company_id>
// Sale con código 2 si la cadena está rota.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/application/dto"
	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/postgres"
	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "Uso: chain_audit <company_id>")
		os.Exit(1)
	}
	companyID := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	auditor := appverifactu.NewChainAuditor(postgres.NewEventStore(pool), postgres.NewInvoiceRepository(pool))
	report, err := auditor.Audit(ctx, companyID)
	if err != nil {
		log.Fatal().Err(err).Str("company_id", companyID).Msg("auditar cadena")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dto.ToChainAuditResponse(report)); err != nil {
		log.Fatal().Err(err).Msg("escribir informe")
	}
	if !report.ValidChain {
		log.Warn().Str("company_id", companyID).Ints64("broken_links", report.BrokenLinks).Msg("cadena rota")
		pool.Close()
		os.Exit(2)
	}
}
