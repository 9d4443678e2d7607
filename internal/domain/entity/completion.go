package entity

import "time"

// Outcome resultado final de un envío.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Valid indica si el resultado es conocido.
func (o Outcome) Valid() bool {
	return o == OutcomeAccepted || o == OutcomeRejected
}

// Status estado del evento tras aplicar el resultado.
func (o Outcome) Status() EventStatus {
	if o == OutcomeAccepted {
		return EventStatusAccepted
	}
	return EventStatusRejected
}

// Completion describe cómo cerrar un evento en estado sending.
type Completion struct {
	EventID      string
	ClaimToken   string
	Outcome      Outcome
	Error        string // motivo del rechazo
	PreviousHash string
	Hash         string
	AuthorityRef string
	MaxAttempts  int  // a partir de este número de intentos el evento va a la DLQ
	Exhaust      bool // rechazo permanente: agota los intentos de inmediato
	At           time.Time

	NextAttemptAt time.Time // rechazo: instante en que vence el backoff; cero equivale a At
}
