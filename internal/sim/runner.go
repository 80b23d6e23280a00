package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/balance"
	"settlement-core/internal/engine"
	"settlement-core/internal/market"
	"settlement-core/internal/monitor"
	"settlement-core/internal/order"
	"settlement-core/internal/reconciliation"
	"settlement-core/pkg/logger"
)

// Runner replays candles for every account of a scenario.
type Runner struct {
	registry *Registry
	scenario *Scenario
	auditor  *reconciliation.Service
	log      *logger.Logger
	metrics  *monitor.RunMetrics

	queue    *order.Queue
	byCandle map[int][]OrderSpec
	cancels  map[int][]pendingCancel
	stats    map[string]*AccountReport
}

type pendingCancel struct {
	accountID string
	orderID   int64
}

// Report summarizes a run.
type Report struct {
	Candles     int
	Unscheduled int
	Accounts    []AccountReport
}

// AccountReport is the final state of one account.
type AccountReport struct {
	ID            string
	Accepted      int
	Rejected      int
	Cancelled     int
	OpenOrders    int
	AuditDiffs    int
	Balances      []balance.Balance
	TotalHoldings decimal.Decimal
	Halted        error
}

// NewRunner creates the scenario's accounts in registry and seeds their
// balances and limits. A nil auditor skips the per-candle audit.
func NewRunner(registry *Registry, sc *Scenario, auditor *reconciliation.Service, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{
		registry: registry,
		scenario: sc,
		auditor:  auditor,
		log:      log,
		metrics:  monitor.NewRunMetrics(),
		byCandle: make(map[int][]OrderSpec),
		cancels:  make(map[int][]pendingCancel),
		stats:    make(map[string]*AccountReport),
	}

	for _, a := range sc.Accounts {
		eng, err := registry.GetOrCreate(a.ID)
		if err != nil {
			return nil, err
		}
		acc := eng.Account()
		for sym, amount := range a.Balances {
			if err := acc.Ledger().SetFree(sym, amount); err != nil {
				return nil, errors.Wrapf(err, "seed %s balance of account %q", sym, a.ID)
			}
		}
		acc.SetLimits(acc.Limits().Merge(a.Limits))
		r.stats[a.ID] = &AccountReport{ID: a.ID}
	}

	// the queue never blocks: it holds at most one candle's submissions
	size := 1
	for _, o := range sc.Orders {
		r.byCandle[o.At] = append(r.byCandle[o.At], o)
		if n := len(r.byCandle[o.At]); n > size {
			size = n
		}
	}
	r.queue = order.NewQueue(size)
	return r, nil
}

// Metrics exposes the throughput and latency of the replay so far.
func (r *Runner) Metrics() *monitor.RunMetrics { return r.metrics }

// Run replays candles in order and reports the final state of every
// account. Only context cancellation aborts it.
func (r *Runner) Run(ctx context.Context, candles []market.Candle) (*Report, error) {
	for i := range candles {
		if err := r.Step(ctx, i, candles[i]); err != nil {
			return nil, err
		}
	}
	return r.Report(len(candles)), nil
}

// Step replays candle i. The open orders of every account are advanced, due
// cancels run, and the requests scheduled at i are submitted. An account
// whose ledger faults is halted and sits out the rest of the run.
func (r *Runner) Step(ctx context.Context, i int, c market.Candle) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	defer monitor.NewTimer(r.metrics.CandleLatency).Stop()
	r.metrics.IncrementCandles()

	r.advance(ctx, &c)
	r.cancelDue(ctx, i)

	for _, spec := range r.byCandle[i] {
		r.submit(ctx, spec, c)
	}
	err := r.queue.DrainPending(ctx, func(s order.Submission) error {
		r.execute(ctx, i, s)
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	r.audit(ctx, c)
	return nil
}

func (r *Runner) active() []*engine.Engine {
	ids := r.registry.Accounts()
	out := make([]*engine.Engine, 0, len(ids))
	for _, id := range ids {
		st, ok := r.stats[id]
		if !ok || st.Halted != nil {
			continue
		}
		if eng, ok := r.registry.Get(id); ok {
			out = append(out, eng)
		}
	}
	return out
}

func (r *Runner) advance(ctx context.Context, c *market.Candle) {
	for _, eng := range r.active() {
		if _, err := eng.AdvanceOpenOrders(ctx, c.Symbol, c); err != nil {
			r.fault(ctx, eng.AccountID(), err)
		}
	}
}

func (r *Runner) cancelDue(ctx context.Context, i int) {
	due := r.cancels[i]
	delete(r.cancels, i)
	for _, pc := range due {
		st := r.stats[pc.accountID]
		if st.Halted != nil {
			continue
		}
		eng, _ := r.registry.Get(pc.accountID)
		ok, err := eng.Cancel(ctx, pc.orderID)
		if err != nil {
			r.fault(ctx, pc.accountID, err)
			continue
		}
		if ok {
			st.Cancelled++
			r.metrics.IncrementCancelled()
		}
	}
}

func (r *Runner) submit(ctx context.Context, spec OrderSpec, c market.Candle) {
	st := r.stats[spec.Account]
	if st.Halted != nil {
		return
	}
	eng, _ := r.registry.Get(spec.Account)
	req, err := spec.Build(eng, c.Close, c.OpenTime)
	if err != nil {
		r.log.WarnContext(ctx, "scenario order not built",
			logger.NewField("account", spec.Account),
			logger.NewField("error", err.Error()),
		)
		st.Rejected++
		r.metrics.IncrementRejected()
		return
	}
	if req == nil {
		r.log.DebugContext(ctx, "nothing to trade", logger.NewField("account", spec.Account))
		st.Rejected++
		r.metrics.IncrementRejected()
		return
	}
	r.queue.Enqueue(order.Submission{AccountID: spec.Account, Request: req, CancelAfter: spec.CancelAfter})
}

func (r *Runner) execute(ctx context.Context, i int, s order.Submission) {
	st := r.stats[s.AccountID]
	if st.Halted != nil {
		return
	}
	eng, _ := r.registry.Get(s.AccountID)
	timer := monitor.NewTimer(r.metrics.OrderLatency)
	o, err := eng.ExecuteOrder(ctx, s.Request)
	timer.Stop()
	if err != nil {
		r.fault(ctx, s.AccountID, err)
		return
	}
	if o == nil {
		st.Rejected++
		r.metrics.IncrementRejected()
		return
	}
	st.Accepted++
	r.metrics.IncrementAccepted()
	if s.CancelAfter > 0 {
		due := i + s.CancelAfter
		r.cancels[due] = append(r.cancels[due], pendingCancel{accountID: s.AccountID, orderID: o.ID()})
	}
}

func (r *Runner) audit(ctx context.Context, c market.Candle) {
	if r.auditor == nil {
		return
	}
	for _, eng := range r.active() {
		if rep := r.auditor.Reconcile(ctx, eng.AccountID(), eng, c.OpenTime); rep.HasDiffs {
			r.stats[eng.AccountID()].AuditDiffs += len(rep.Diffs)
		}
	}
}

// fault halts an account for the rest of the run.
func (r *Runner) fault(ctx context.Context, accountID string, err error) {
	st := r.stats[accountID]
	if st.Halted == nil {
		st.Halted = err
	}
	r.metrics.IncrementFaults()
	fields := []logger.Field{logger.NewField("account", accountID)}
	if errors.Is(err, engine.ErrSymbolHalted) {
		fields = append(fields, logger.NewField("halted", true))
	}
	r.log.ErrorContext(ctx, err, fields...)
}

// Report summarizes the accounts after the given number of candles.
func (r *Runner) Report(candles int) *Report {
	rep := &Report{Candles: candles}
	for at, specs := range r.byCandle {
		if at >= candles {
			rep.Unscheduled += len(specs)
		}
	}
	for _, id := range r.registry.Accounts() {
		st, ok := r.stats[id]
		if !ok {
			continue
		}
		eng, _ := r.registry.Get(id)
		out := *st

		bals := eng.Balances()
		syms := make([]string, 0, len(bals))
		for sym := range bals {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		for _, sym := range syms {
			out.Balances = append(out.Balances, bals[sym])
		}
		out.OpenOrders = r.openOrders(eng)
		out.TotalHoldings = eng.TotalHoldings()
		rep.Accounts = append(rep.Accounts, out)
	}
	return rep
}

func (r *Runner) openOrders(eng *engine.Engine) int {
	n := 0
	seen := make(map[string]bool)
	for _, o := range r.scenario.Orders {
		if o.Account != eng.AccountID() {
			continue
		}
		sym := o.Assets + o.Funds
		if seen[sym] {
			continue
		}
		seen[sym] = true
		n += len(eng.OpenOrders(sym))
	}
	return n
}

// String renders the report as plain text.
func (rep *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candles replayed: %d\n", rep.Candles)
	if rep.Unscheduled > 0 {
		fmt.Fprintf(&b, "orders scheduled past the last candle: %d\n", rep.Unscheduled)
	}
	for _, a := range rep.Accounts {
		fmt.Fprintf(&b, "\naccount %s\n", a.ID)
		fmt.Fprintf(&b, "  orders: accepted=%d rejected=%d cancelled=%d open=%d\n", a.Accepted, a.Rejected, a.Cancelled, a.OpenOrders)
		for _, bal := range a.Balances {
			fmt.Fprintf(&b, "  %s\n", bal)
		}
		fmt.Fprintf(&b, "  total holdings: %s\n", a.TotalHoldings)
		if a.AuditDiffs > 0 {
			fmt.Fprintf(&b, "  audit differences: %d\n", a.AuditDiffs)
		}
		if a.Halted != nil {
			fmt.Fprintf(&b, "  HALTED: %v\n", a.Halted)
		}
	}
	return b.String()
}
