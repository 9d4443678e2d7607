package aeat

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	appverifactu "github.com/jhoicas/verifactu-dispatcher/internal/application/verifactu"
)

var _ appverifactu.Gateway = (*SimulatedGateway)(nil)

// SimulatedGateway sustituye a la AEAT en dev: acepta salvo que el sorteo caiga bajo rejectRate.
// También construye el XML del registro, así que los datos inválidos fallan igual que en producción.
type SimulatedGateway struct {
	rejectRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedGateway rejectRate en [0,1].
func NewSimulatedGateway(rejectRate float64, seed int64) *SimulatedGateway {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedGateway{rejectRate: rejectRate, rnd: rand.New(rand.NewSource(seed))}
}

// Submit simula la respuesta de la AEAT.
func (g *SimulatedGateway) Submit(ctx context.Context, sub appverifactu.Submission) (*appverifactu.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulado: %w", err)
	}
	if _, err := BuildRequest(sub); err != nil {
		return &appverifactu.SubmitResult{Accepted: false, ErrorDetail: err.Error(), Permanent: true}, nil
	}

	g.mu.Lock()
	draw := g.rnd.Float64()
	g.mu.Unlock()

	if draw < g.rejectRate {
		return &appverifactu.SubmitResult{Accepted: false, ErrorDetail: "simulated rejection"}, nil
	}
	return &appverifactu.SubmitResult{
		Accepted:           true,
		AuthorityReference: "SIM-" + strings.ToUpper(sub.Hash[:min(12, len(sub.Hash))]),
	}, nil
}
