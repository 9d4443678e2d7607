package verifactu

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/verifactu-dispatcher/internal/domain"
)

// Valores por defecto de la política de reintentos.
const (
	DefaultMaxAttempts = 7
	DefaultBackoff     = "0,1,5,15,60,180,720"
)

// RetryConfig política de reintentos. Inmutable mientras el dispatcher está en marcha.
type RetryConfig struct {
	MaxAttempts    int
	BackoffMinutes []int
}

// DefaultRetryConfig devuelve la política por defecto (7 intentos, 0/1/5/15/60/180/720 min).
func DefaultRetryConfig() RetryConfig {
	backoff, _ := ParseBackoff(DefaultBackoff)
	return RetryConfig{MaxAttempts: DefaultMaxAttempts, BackoffMinutes: backoff}
}

// ParseBackoff interpreta una lista de minutos separada por comas ("0,1,5").
func ParseBackoff(s string) ([]int, error) {
	var out []int
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: backoff %q no es un número", domain.ErrInvalidInput, raw)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: backoff negativo %d", domain.ErrInvalidInput, n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: backoff vacío", domain.ErrInvalidInput)
	}
	return out, nil
}

// Validate comprueba que la política sea utilizable.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts debe ser >= 1", domain.ErrInvalidInput)
	}
	if len(c.BackoffMinutes) == 0 {
		return fmt.Errorf("%w: backoff vacío", domain.ErrInvalidInput)
	}
	for _, m := range c.BackoffMinutes {
		if m < 0 {
			return fmt.Errorf("%w: backoff negativo %d", domain.ErrInvalidInput, m)
		}
	}
	return nil
}

// Clone copia la política para que el llamador no pueda mutar la original.
func (c RetryConfig) Clone() RetryConfig {
	out := RetryConfig{MaxAttempts: c.MaxAttempts, BackoffMinutes: make([]int, len(c.BackoffMinutes))}
	copy(out.BackoffMinutes, c.BackoffMinutes)
	return out
}

// Wait espera antes del siguiente envío: backoff[min(attempts, len-1)].
func (c RetryConfig) Wait(attempts int) time.Duration {
	if len(c.BackoffMinutes) == 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	idx := attempts
	if idx > len(c.BackoffMinutes)-1 {
		idx = len(c.BackoffMinutes) - 1
	}
	return time.Duration(c.BackoffMinutes[idx]) * time.Minute
}

// NextEligibleTime instante a partir del cual un evento con attempts intentos puede reenviarse.
func NextEligibleTime(attempts int, lastAttemptAt time.Time, cfg RetryConfig) time.Time {
	return lastAttemptAt.Add(cfg.Wait(attempts))
}

// IsExhausted indica si el evento agotó los reintentos automáticos.
func IsExhausted(attempts int, cfg RetryConfig) bool {
	return attempts >= cfg.MaxAttempts
}
