package exchange

import "github.com/ethereum/go-ethereum/common"

// Order is a standing offer to swap AmountGive of TokenGive for AmountGet of
// TokenGet. Orders are immutable once created; lifecycle state lives in the
// exchange's cancelled/filled sets, not on the order itself.
type Order struct {
	ID         uint64         `json:"id"`      // assigned by the exchange, starts at 1, never reused
	Creator    common.Address `json:"creator"` // account that made the order
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  int64          `json:"amountGet"` // smallest-unit amount the creator wants
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive int64          `json:"amountGive"` // smallest-unit amount the creator offers
	Timestamp  int64          `json:"timestamp"`  // creation time, unix milliseconds
}

// OrderStatus is the derived lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)
