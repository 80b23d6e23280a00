package order

// Side is the market side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the trade direction a position is held in.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Valid() bool { return d == Long || d == Short }

// Type is the order kind.
type Type string

const (
	Limit  Type = "LIMIT"
	Market Type = "MARKET"
)

// Status of an order. NEW is the only non-terminal status.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// TriggerCondition holds an order back until the price reaches a threshold.
type TriggerCondition string

const (
	TriggerNone     TriggerCondition = "NONE"
	TriggerStopLoss TriggerCondition = "STOP_LOSS"
	TriggerStopGain TriggerCondition = "STOP_GAIN"
)
