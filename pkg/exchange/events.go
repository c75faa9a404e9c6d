package exchange

import "github.com/ethereum/go-ethereum/common"

// EventType identifies the kind of ledger event.
type EventType string

const (
	EventDeposit  EventType = "deposit"
	EventWithdraw EventType = "withdraw"
	EventOrder    EventType = "order"
	EventCancel   EventType = "cancel"
	EventTrade    EventType = "trade"
)

// Event is one entry of the exchange's append-only feed. Seq is assigned by
// the exchange and is strictly increasing across all event types, so a client
// can rebuild every derived view (open/filled/cancelled books, balance
// history) by replaying the feed in order.
//
// Field usage per type:
//   - deposit/withdraw: Token, User, Amount, Balance (balance after the move)
//   - order:            OrderID, User (creator), TokenGet/AmountGet,
//     TokenGive/AmountGive, Timestamp (creation time)
//   - cancel:           same fields as order, Timestamp is the order's
//     original creation time, not the cancel time
//   - trade:            OrderID, User (filling account), Creator,
//     TokenGet/AmountGet, TokenGive/AmountGive, Timestamp (execution time)
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`

	Token   common.Address `json:"token,omitempty"`
	User    common.Address `json:"user,omitempty"`
	Amount  int64          `json:"amount,omitempty"`
	Balance int64          `json:"balance,omitempty"`

	OrderID    uint64         `json:"orderId,omitempty"`
	TokenGet   common.Address `json:"tokenGet,omitempty"`
	AmountGet  int64          `json:"amountGet,omitempty"`
	TokenGive  common.Address `json:"tokenGive,omitempty"`
	AmountGive int64          `json:"amountGive,omitempty"`
	Creator    common.Address `json:"creator,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
}

// Feed receives events in the exact order the exchange applied them. Publish
// is called with the exchange's mutation lock held, so implementations must
// not call back into the exchange; hand the event off and return.
type Feed interface {
	Publish(Event)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(Event)

func (f FeedFunc) Publish(e Event) { f(e) }

// NopFeed discards events.
type NopFeed struct{}

func (NopFeed) Publish(Event) {}

// MultiFeed fans one event out to several feeds in order.
func MultiFeed(feeds ...Feed) Feed {
	return FeedFunc(func(e Event) {
		for _, f := range feeds {
			f.Publish(e)
		}
	})
}
