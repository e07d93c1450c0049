package livefeed

import (
	"time"

	"pairs_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Message is one feed frame. Type carries the notification kind in its
// wire spelling ("target_filled", "target_swept", ...).
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type legPayload struct {
	Instrument string          `json:"instrument"`
	Target     decimal.Decimal `json:"target"`
	Filled     decimal.Decimal `json:"filled"`
}

// targetPayload is the wire form of a target snapshot. Enums go out as
// strings and quantities as decimal strings, so consumers never see the
// internal numeric codes or float rounding.
type targetPayload struct {
	Handle         string          `json:"handle"`
	OpportunityKey string          `json:"opportunity_key"`
	Direction      string          `json:"direction"`
	Status         string          `json:"status"`
	Legs           [2]legPayload   `json:"legs"`
	ExpectedSpread decimal.Decimal `json:"expected_spread"`
	RealizedSpread decimal.Decimal `json:"realized_spread"`
	FeePaid        decimal.Decimal `json:"fee_paid"`
	GroupCount     int             `json:"group_count"`
	CreatedAt      time.Time       `json:"created_at"`
	RetiredAt      time.Time       `json:"retired_at"`
}

func newTargetMessage(kind core.NotificationKind, snap core.TargetSnapshot) Message {
	payload := targetPayload{
		Handle:         snap.Handle,
		OpportunityKey: snap.OpportunityKey,
		Direction:      snap.Direction.String(),
		Status:         snap.Status.String(),
		ExpectedSpread: snap.ExpectedSpread,
		RealizedSpread: snap.RealizedSpread,
		FeePaid:        snap.FeePaid,
		GroupCount:     snap.GroupCount,
		CreatedAt:      snap.CreatedAt,
		RetiredAt:      snap.RetiredAt,
	}
	for i, leg := range snap.Legs {
		payload.Legs[i] = legPayload{
			Instrument: leg.Instrument.Key(),
			Target:     leg.Target,
			Filled:     leg.Filled,
		}
	}
	return Message{Type: kind.String(), Data: payload}
}

// Sink adapts the hub to the notification pipeline. Broadcast never blocks,
// so a wall of subscribers cannot slow execution down.
type Sink struct {
	hub *Hub
}

func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

func (s *Sink) NotifyTarget(kind core.NotificationKind, snap core.TargetSnapshot) {
	s.hub.Broadcast(newTargetMessage(kind, snap))
}
