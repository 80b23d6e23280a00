// Package sim replays candles against a set of simulated accounts and feeds
// them the order requests of a scenario file.
package sim

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"settlement-core/internal/account"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is the top-level YAML structure.
type Scenario struct {
	Accounts []AccountSpec `yaml:"accounts"`
	Orders   []OrderSpec   `yaml:"orders"`
}

// AccountSpec seeds one account.
type AccountSpec struct {
	ID       string                     `yaml:"id"`
	Balances map[string]decimal.Decimal `yaml:"balances"`
	Limits   account.Limits             `yaml:"limits"`
}

// OrderSpec schedules one request. At is the index of the candle after
// which the request is submitted; it can fill from the next candle on.
type OrderSpec struct {
	Account     string          `yaml:"account"`
	At          int             `yaml:"at"`
	Assets      string          `yaml:"assets"`
	Funds       string          `yaml:"funds"`
	Side        order.Side      `yaml:"side"`
	Direction   order.Direction `yaml:"direction"`
	Type        order.Type      `yaml:"type"`
	Price       decimal.Decimal `yaml:"price"`
	Quantity    decimal.Decimal `yaml:"quantity"`
	Sized       bool            `yaml:"sized"`
	Trigger     *TriggerSpec    `yaml:"trigger"`
	Attach      []AttachSpec    `yaml:"attach"`
	CancelAfter int             `yaml:"cancel_after"`
}

type TriggerSpec struct {
	Condition order.TriggerCondition `yaml:"condition"`
	Price     *decimal.Decimal       `yaml:"price"`
}

// AttachSpec adds an exit leg ChangePct percent away from the order price.
type AttachSpec struct {
	Type      order.Type      `yaml:"type"`
	ChangePct decimal.Decimal `yaml:"change_pct"`
}

// Sizer builds requests sized from an account's allocation.
type Sizer interface {
	SizedRequest(assets, funds string, side order.Side, dir order.Direction, price decimal.Decimal, at time.Time) (*order.Request, error)
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario")
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	return sc, nil
}

// ParseScenario decodes a scenario. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	ids := make(map[string]bool, len(s.Accounts))
	for i, a := range s.Accounts {
		if a.ID == "" {
			return errors.Wrapf(ErrInvalidScenario, "account %d has no id", i)
		}
		if ids[a.ID] {
			return errors.Wrapf(ErrInvalidScenario, "duplicate account %q", a.ID)
		}
		ids[a.ID] = true
		for sym, amount := range a.Balances {
			if amount.IsNegative() {
				return errors.Wrapf(ErrInvalidScenario, "account %q: negative balance of %s", a.ID, sym)
			}
		}
	}

	for i := range s.Orders {
		o := &s.Orders[i]
		if o.Type == "" {
			o.Type = order.Limit
		}
		if err := o.validate(ids); err != nil {
			return errors.Wrapf(err, "order %d", i)
		}
	}
	return nil
}

func (o *OrderSpec) validate(accounts map[string]bool) error {
	switch {
	case !accounts[o.Account]:
		return errors.Wrapf(ErrInvalidScenario, "unknown account %q", o.Account)
	case o.At < 0:
		return errors.Wrapf(ErrInvalidScenario, "negative candle index %d", o.At)
	case o.CancelAfter < 0:
		return errors.Wrapf(ErrInvalidScenario, "negative cancel_after %d", o.CancelAfter)
	case o.Type != order.Limit && o.Type != order.Market:
		return errors.Wrapf(ErrInvalidScenario, "unknown order type %q", o.Type)
	case o.Price.IsNegative():
		return errors.Wrapf(ErrInvalidScenario, "negative price %s", o.Price)
	case !o.Sized && !o.Quantity.IsPositive():
		return errors.Wrap(ErrInvalidScenario, "quantity must be positive unless sized")
	}
	if !o.Side.Valid() {
		return errors.Wrapf(order.ErrInvalidSide, "got %q", o.Side)
	}
	if !o.Direction.Valid() {
		return errors.Wrapf(order.ErrInvalidDirection, "got %q", o.Direction)
	}
	if t := o.Trigger; t != nil {
		if t.Condition != order.TriggerStopLoss && t.Condition != order.TriggerStopGain {
			return errors.Wrapf(ErrInvalidScenario, "unknown trigger condition %q", t.Condition)
		}
	}
	for _, a := range o.Attach {
		if a.Type != "" && a.Type != order.Limit && a.Type != order.Market {
			return errors.Wrapf(ErrInvalidScenario, "unknown attachment type %q", a.Type)
		}
		if a.ChangePct.IsZero() {
			return errors.Wrap(ErrInvalidScenario, "attachment change_pct must not be zero")
		}
	}
	return nil
}

// Build turns the spec into a request stamped at. A spec without a price
// takes last. It returns nil when a sized request has nothing to trade.
func (o *OrderSpec) Build(sizer Sizer, last decimal.Decimal, at time.Time) (*order.Request, error) {
	price := o.Price
	if money.IsZero(price) {
		price = last
	}

	var (
		req *order.Request
		err error
	)
	if o.Sized {
		req, err = sizer.SizedRequest(o.Assets, o.Funds, o.Side, o.Direction, price, at)
		if err != nil || req == nil {
			return nil, err
		}
	} else {
		req, err = order.NewRequest(o.Assets, o.Funds, o.Side, o.Direction, at)
		if err != nil {
			return nil, err
		}
		req.SetPrice(price)
		req.SetQuantity(o.Quantity)
	}
	req.SetType(o.Type)

	if t := o.Trigger; t != nil {
		tp := req.Price()
		if t.Price != nil {
			tp = *t.Price
		}
		req.SetTriggerCondition(t.Condition, decimal.NewNullDecimal(tp))
	}
	for _, a := range o.Attach {
		kind := a.Type
		if kind == "" {
			kind = order.Market
		}
		req.Attach(kind, a.ChangePct)
	}
	return req, nil
}
