package entity

import "time"

// Health resumen operativo de la cola VeriFactu de una empresa.
type Health struct {
	PendingCount   int
	StuckCount     int
	LastEventAt    *time.Time
	LastAcceptedAt *time.Time
	LastRejectedAt *time.Time
}
