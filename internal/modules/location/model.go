// README: Location fixes reported by the two parties of a booking.
package location

import (
	"time"

	"karigar/internal/types"
)

type Party string

const (
	PartyWorker   Party = "worker"
	PartyCustomer Party = "customer"
)

func (p Party) Valid() bool {
	return p == PartyWorker || p == PartyCustomer
}

// DefaultHistoryLimit bounds the retained fixes per booking and party.
const DefaultHistoryLimit = 50

type Fix struct {
	types.Point
	Accuracy   float64   `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	Party      Party     `json:"party"`
}

// Latest holds the newest fix per party; nil when a party has not reported.
type Latest struct {
	Worker   *Fix `json:"worker"`
	Customer *Fix `json:"customer"`
}

func (l *Latest) set(f Fix) {
	cf := f
	if f.Party == PartyWorker {
		l.Worker = &cf
	} else {
		l.Customer = &cf
	}
}
