package verifactu

import "github.com/jhoicas/verifactu-dispatcher/internal/domain/entity"

var eventTransitions = map[entity.EventStatus][]entity.EventStatus{
	entity.EventStatusPending:  {entity.EventStatusSending},
	entity.EventStatusSending:  {entity.EventStatusAccepted, entity.EventStatusRejected},
	entity.EventStatusRejected: {entity.EventStatusPending},
	entity.EventStatusAccepted: {},
}

// CanTransition indica si un evento puede pasar de from a to.
// accepted es terminal; rejected solo vuelve a pending por reintento.
func CanTransition(from, to entity.EventStatus) bool {
	for _, s := range eventTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MetaStatusFor estado resumido de la factura tras un cambio en su evento de alta.
func MetaStatusFor(s entity.EventStatus) entity.MetaStatus {
	switch s {
	case entity.EventStatusSending:
		return entity.MetaStatusSending
	case entity.EventStatusAccepted:
		return entity.MetaStatusAccepted
	case entity.EventStatusRejected:
		return entity.MetaStatusRejected
	default:
		return entity.MetaStatusPending
	}
}
