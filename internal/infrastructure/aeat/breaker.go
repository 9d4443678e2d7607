package aeat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
	"github.com/jhoicas/verifactu-dispatcher/pkg/logger"
)

var _ appverifactu.Gateway = (*BreakerGateway)(nil)

// BreakerConfig umbrales del circuit breaker del gateway.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // fallos de transporte seguidos que abren el circuito
	Timeout             time.Duration // tiempo abierto antes de pasar a half-open
	MaxRequests         uint32        // peticiones de prueba en half-open
}

// DefaultBreakerConfig 5 fallos seguidos abren el circuito durante 1 minuto.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, Timeout: time.Minute, MaxRequests: 1}
}

// BreakerGateway decora un Gateway con sony/gobreaker. Solo los *TransportError cuentan como fallo;
// un rechazo de la AEAT o un registro mal formado es una respuesta válida.
// Con el circuito abierto Submit falla sin llamar a la AEAT y el dispatcher lo registra como rechazo transitorio.
type BreakerGateway struct {
	next appverifactu.Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway envuelve next.
func NewBreakerGateway(next appverifactu.Gateway, cfg BreakerConfig, log *logger.Logger) *BreakerGateway {
	if cfg.ConsecutiveFailures == 0 {
		cfg = DefaultBreakerConfig()
	}
	settings := gobreaker.Settings{
		Name:        "aeat-verifactu",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			var te *appverifactu.TransportError
			if !errors.As(err, &te) {
				return true
			}
			// una cancelación del llamador no dice nada de la salud de la AEAT
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker cambia de estado")
			}
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Submit delega en el gateway interno a través del breaker.
func (g *BreakerGateway) Submit(ctx context.Context, sub appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Submit(ctx, sub)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("aeat no disponible (circuit breaker %s): %w", g.cb.State(), err)
		}
		return nil, err
	}
	res, _ := out.(*appverifactu.SubmitResult)
	if res == nil {
		return nil, fmt.Errorf("aeat: respuesta vacía")
	}
	return res, nil
}

// State estado actual del breaker (closed, half-open, open).
func (g *BreakerGateway) State() string {
	return g.cb.State().String()
}
