// Package audit holds the append-only record of every committed station
// transition and the sinks that observers subscribe to.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/gasstation/types"
)

// Kind names one of the four record kinds.
type Kind string

const (
	KindPriceChanged   Kind = "price_changed"
	KindAdminChanged   Kind = "admin_changed"
	KindFeePaid        Kind = "fee_paid"
	KindFundsWithdrawn Kind = "funds_withdrawn"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindPriceChanged, KindAdminChanged, KindFeePaid, KindFundsWithdrawn:
		return k, true
	}
	return "", false
}

type AdminAction string

const (
	AdminAdded   AdminAction = "add"
	AdminRemoved AdminAction = "remove"
)

type PriceChanged struct {
	Old    uint64        `json:"old"`
	New    uint64        `json:"new"`
	Caller types.Address `json:"caller"`
	At     time.Time     `json:"at"`
}

type AdminChanged struct {
	Action AdminAction   `json:"action"`
	Admin  types.Address `json:"admin"`
	Caller types.Address `json:"caller"`
	At     time.Time     `json:"at"`
}

type FeePaid struct {
	Receipt types.Receipt `json:"receipt"`
}

type FundsWithdrawn struct {
	Caller    types.Address `json:"caller"`
	Recipient types.Address `json:"recipient"`
	Amount    uint64        `json:"amount"`
	At        time.Time     `json:"at"`
}

// Event is one entry of the audit log. Exactly one payload field is set,
// matching Kind.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Seq       uint64    `json:"seq"`
	StationID string    `json:"stationId"`
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`

	PriceChanged   *PriceChanged   `json:"priceChanged,omitempty"`
	AdminChanged   *AdminChanged   `json:"adminChanged,omitempty"`
	FeePaid        *FeePaid        `json:"feePaid,omitempty"`
	FundsWithdrawn *FundsWithdrawn `json:"fundsWithdrawn,omitempty"`
}

// Payload returns whichever record the event carries.
func (e Event) Payload() interface{} {
	switch e.Kind {
	case KindPriceChanged:
		return e.PriceChanged
	case KindAdminChanged:
		return e.AdminChanged
	case KindFeePaid:
		return e.FeePaid
	case KindFundsWithdrawn:
		return e.FundsWithdrawn
	}
	return nil
}

func NewPriceChanged(r PriceChanged) Event {
	return Event{Kind: KindPriceChanged, At: r.At, PriceChanged: &r}
}

func NewAdminChanged(r AdminChanged) Event {
	return Event{Kind: KindAdminChanged, At: r.At, AdminChanged: &r}
}

func NewFeePaid(r types.Receipt) Event {
	return Event{Kind: KindFeePaid, At: r.Timestamp, FeePaid: &FeePaid{Receipt: r}}
}

func NewFundsWithdrawn(r FundsWithdrawn) Event {
	return Event{Kind: KindFundsWithdrawn, At: r.At, FundsWithdrawn: &r}
}

// Sink receives events after the transition that produced them committed.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
