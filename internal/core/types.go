package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument identifies one tradable instrument on a venue. It carries no
// market state; prices, depth and lot size always come from IMarketData.
type Instrument struct {
	Venue  string
	Symbol string
}

// Key returns the stable "venue:symbol" identity used for map keys and logs.
func (i Instrument) Key() string {
	return i.Venue + ":" + i.Symbol
}

func (i Instrument) String() string {
	return i.Key()
}

// IsZero reports whether the instrument is the empty value.
func (i Instrument) IsZero() bool {
	return i.Venue == "" && i.Symbol == ""
}

// PriceLevel is one order-book level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthSnapshot is an ordered view of an instrument's book: bids sorted
// descending by price, asks ascending.
type DepthSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// Side of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// SideOf maps a signed quantity to its order side. Positive quantities buy,
// negative quantities sell.
func SideOf(quantity decimal.Decimal) Side {
	if quantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// Direction of a spread trade. DirectionLong buys the first leg and sells the
// second; DirectionShort is the reverse.
type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionShort {
		return "SHORT"
	}
	return "LONG"
}

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// ParseDirection maps the configuration spelling to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "long":
		return DirectionLong, nil
	case "short":
		return DirectionShort, nil
	default:
		return DirectionLong, fmt.Errorf("unknown direction %q", s)
	}
}

// PairKey returns the stable identity for an instrument pair, used to key
// the active-target registry and per-pair metrics.
func PairKey(first, second Instrument) string {
	return first.Key() + "|" + second.Key()
}

// OrderStatus is the lifecycle state of a single leg order.
type OrderStatus int

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusInvalid
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further updates are expected for the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusInvalid
}

// IsFailure reports whether the order ended without (full) execution.
func (s OrderStatus) IsFailure() bool {
	return s == OrderStatusCanceled || s == OrderStatusInvalid
}

// GroupStatus is the derived status of one order group. It is always computed
// from the constituent leg orders, never stored.
type GroupStatus int

const (
	GroupStatusSubmitted GroupStatus = iota
	GroupStatusPartiallyFilled
	GroupStatusFilled
	GroupStatusFailed
)

func (s GroupStatus) String() string {
	switch s {
	case GroupStatusSubmitted:
		return "SUBMITTED"
	case GroupStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case GroupStatusFilled:
		return "FILLED"
	case GroupStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TargetStatus is the lifecycle state of an execution target.
type TargetStatus int

const (
	TargetStatusNew TargetStatus = iota
	TargetStatusSubmitted
	TargetStatusPartiallyFilled
	TargetStatusFilled
	TargetStatusCanceled
	TargetStatusInvalid
	TargetStatusFailed
)

func (s TargetStatus) String() string {
	switch s {
	case TargetStatusNew:
		return "NEW"
	case TargetStatusSubmitted:
		return "SUBMITTED"
	case TargetStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case TargetStatusFilled:
		return "FILLED"
	case TargetStatusCanceled:
		return "CANCELED"
	case TargetStatusInvalid:
		return "INVALID"
	case TargetStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the target has reached a final state. Terminal
// states are entered exactly once and never left.
func (s TargetStatus) IsTerminal() bool {
	switch s {
	case TargetStatusFilled, TargetStatusCanceled, TargetStatusInvalid, TargetStatusFailed:
		return true
	default:
		return false
	}
}

// Order is one leg order handle as known to the execution core. The ID is the
// brokerage ticket; Tag carries the owning target's handle verbatim.
type Order struct {
	ID            string
	ClientOrderID string
	Instrument    Instrument
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Fee           decimal.Decimal
	Status        OrderStatus
	Tag           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderEvent is one asynchronous order update delivered by the brokerage.
// FilledQuantity is signed with the same convention as Order.Quantity.
// Events may be delivered more than once; consumers must attach idempotently.
type OrderEvent struct {
	OrderID        string
	ClientOrderID  string
	Instrument     Instrument
	Status         OrderStatus
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Fee            decimal.Decimal
	Tag            string
	Timestamp      time.Time
}

// NotificationKind classifies a target status notification.
type NotificationKind int

const (
	NotifyTargetCreated NotificationKind = iota
	NotifyTargetSubmitted
	NotifyTargetPartialFill
	NotifyTargetFilled
	NotifyTargetCanceled
	NotifyTargetFailed
	NotifyTargetSwept
	NotifyFillInconsistency
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyTargetCreated:
		return "target_created"
	case NotifyTargetSubmitted:
		return "target_submitted"
	case NotifyTargetPartialFill:
		return "target_partial_fill"
	case NotifyTargetFilled:
		return "target_filled"
	case NotifyTargetCanceled:
		return "target_canceled"
	case NotifyTargetFailed:
		return "target_failed"
	case NotifyTargetSwept:
		return "target_swept"
	case NotifyFillInconsistency:
		return "fill_inconsistency"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the notification describes a final target state.
func (k NotificationKind) IsTerminal() bool {
	switch k {
	case NotifyTargetFilled, NotifyTargetCanceled, NotifyTargetFailed:
		return true
	default:
		return false
	}
}

// LegSnapshot is the per-leg portion of a TargetSnapshot.
type LegSnapshot struct {
	Instrument Instrument
	Target     decimal.Decimal
	Filled     decimal.Decimal
}

// TargetSnapshot is the by-value copy of an execution target handed to
// collaborators on every notification and at retirement. The core keeps no
// reference to it after handing it off.
type TargetSnapshot struct {
	Handle         string
	OpportunityKey string
	Direction      Direction
	Status         TargetStatus
	Legs           [2]LegSnapshot
	ExpectedSpread decimal.Decimal
	RealizedSpread decimal.Decimal
	FeePaid        decimal.Decimal
	GroupCount     int
	CreatedAt      time.Time
	AnchorTime     time.Time
	RetiredAt      time.Time
}
