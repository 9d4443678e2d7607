package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/domain/repository"
	domverifactu "github.com/jhoicas/verifactu-dispatcher/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/aeat"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/csvimport"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/memory"
	"github.com/jhoicas/verifactu-dispatcher/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/verifactu-dispatcher/internal/interfaces/http"
	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
	"github.com/jhoicas/verifactu-dispatcher/pkg/verifactu"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("verifactu_env", cfg.Verifactu.Env).
		Str("store", cfg.Verifactu.Store).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    repository.EventStore
		invoices repository.InvoiceReader
		pool     *pgxpool.Pool
	)
	switch cfg.Verifactu.Store {
	case "memory":
		log.Warn().Msg("store en memoria: los eventos se pierden al reiniciar")
		store = memory.NewEventStore()
		reader := memory.NewInvoiceReader()
		if path := cfg.Verifactu.SeedCSV; path != "" {
			loaded, err := csvimport.LoadFile(path)
			if err != nil {
				log.Fatal().Err(err).Str("path", path).Msg("cargar facturas")
			}
			for _, inv := range loaded {
				if inv.CreatedAt.IsZero() {
					inv.CreatedAt = time.Now().UTC()
				}
				reader.Put(inv)
			}
			log.Info().Int("invoices", len(loaded)).Str("path", path).Msg("facturas cargadas en memoria")
		} else {
			log.Warn().Msg("VERIFACTU_SEED_CSV vacío: ninguna factura se podrá encolar")
		}
		invoices = reader
	default:
		pool, err = postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if cfg.Verifactu.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				log.Fatal().Err(err).Msg("aplicar esquema")
			}
			log.Info().Msg("esquema VeriFactu aplicado")
		}
		store = postgres.NewEventStore(pool)
		invoices = postgres.NewInvoiceRepository(pool)
	}

	gateway, err := buildGateway(cfg.Verifactu, log)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway AEAT")
	}

	retry, err := retryConfig(cfg.Verifactu)
	if err != nil {
		log.Fatal().Err(err).Msg("política de reintentos inválida")
	}
	dispatcher := appverifactu.NewDispatcher(store, invoices, gateway, appverifactu.DispatcherConfig{
		Retry:                 retry,
		PollInterval:          time.Duration(cfg.Verifactu.PollIntervalSeconds) * time.Second,
		SubmitTimeout:         time.Duration(cfg.Verifactu.SubmitTimeoutSeconds) * time.Second,
		StaleAfter:            time.Duration(cfg.Verifactu.StaleAfterMinutes) * time.Minute,
		BatchSize:             cfg.Verifactu.BatchSize,
		Workers:               cfg.Verifactu.Workers,
		ShortCircuitPermanent: cfg.Verifactu.ShortCircuitPermanent,
	}, log)
	svc := appverifactu.NewService(store, invoices, dispatcher, cfg.Verifactu.Env, log)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dispatcher finalizado con error")
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 60,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "VeriFactu Dispatcher API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Verifactu: svc,
		JWTSecret: cfg.JWT.Secret,
		JWTIssuer: cfg.JWT.Issuer,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	// Los envíos en curso terminan o quedan en sending para el barrido de colgados.
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("el dispatcher no terminó a tiempo")
	}

	log.Info().Msg("aplicación detenida")
}

// buildGateway elige el gateway según VERIFACTU_ENV: simulado en dev, SOAP con mTLS en test/prod.
// Cualquiera de los dos va detrás del circuit breaker.
func buildGateway(cfg config.VerifactuConfig, log *logger.Logger) (appverifactu.Gateway, error) {
	var next appverifactu.Gateway
	if cfg.Env == verifactu.EnvDev {
		log.Info().Float64("reject_rate", cfg.RejectRate).Msg("gateway AEAT simulado")
		next = aeat.NewSimulatedGateway(cfg.RejectRate, time.Now().UnixNano())
	} else {
		cert, err := aeat.LoadCertificate(cfg.CertPath, cfg.CertKeyPath, cfg.CertPassword)
		if err != nil {
			return nil, err
		}
		if info, err := aeat.Describe(cert); err == nil {
			ev := log.Info()
			if info.Expired(time.Now()) {
				ev = log.Warn()
			}
			ev.Str("subject", info.Subject).Time("not_after", info.NotAfter).Msg("certificado de cliente cargado")
		} else {
			log.Warn().Msg("sin certificado de cliente: la AEAT rechazará la conexión TLS")
		}
		client, err := aeat.NewSOAPClient(cfg.Env, cert)
		if err != nil {
			return nil, err
		}
		next = client
	}
	return aeat.NewBreakerGateway(next, aeat.DefaultBreakerConfig(), log), nil
}

func retryConfig(cfg config.VerifactuConfig) (domverifactu.RetryConfig, error) {
	backoff, err := domverifactu.ParseBackoff(cfg.Backoff)
	if err != nil {
		return domverifactu.RetryConfig{}, err
	}
	rc := domverifactu.RetryConfig{MaxAttempts: cfg.MaxAttempts, BackoffMinutes: backoff}
	if err := rc.Validate(); err != nil {
		return domverifactu.RetryConfig{}, err
	}
	return rc, nil
}
