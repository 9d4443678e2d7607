// seed_invoices carga facturas emitidas en la tabla invoices desde un CSV exportado del ERP
// y, opcionalmente, encola su alta VeriFactu.
//
// Uso: go run ./cmd/seed_invoices [ruta/facturas.csv] [--enqueue]
// El formato del CSV está descrito en internal/infrastructure/csvimport.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/csvimport"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/postgres"
	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
)

func main() {
	csvPath := "facturas.csv"
	enqueue := false
	for _, a := range os.Args[1:] {
		if a == "--enqueue" {
			enqueue = true
			continue
		}
		csvPath = a
	}

	invoices, err := csvimport.LoadFile(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Leer CSV: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuración: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conexión a PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Esquema: %v\n", err)
		os.Exit(1)
	}

	var created, skipped int
	err = postgres.NewTxRunner(pool).Run(ctx, func(q postgres.Querier) error {
		repo := postgres.NewInvoiceRepository(q)
		for _, inv := range invoices {
			if _, err := repo.GetByID(ctx, inv.ID); err == nil {
				skipped++
				continue
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err := repo.Create(ctx, inv); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar facturas: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cargadas %d facturas (%d ya existían)\n", created, skipped)

	if !enqueue {
		return
	}
	store := postgres.NewEventStore(pool)
	var queued int
	for _, inv := range invoices {
		_, ok, err := store.Append(ctx, repository.AppendRequest{Invoice: inv, Type: entity.EventTypeAlta, At: time.Now()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encolar %s: %v\n", inv.ID, err)
			continue
		}
		if ok {
			queued++
		}
	}
	fmt.Printf("Encoladas %d altas VeriFactu\n", queued)
}
