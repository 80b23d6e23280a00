// Package reconciliation audits an account's ledger against the orders that
// are supposed to account for it.
package reconciliation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"settlement-core/internal/balance"
	"settlement-core/pkg/logger"
	"settlement-core/pkg/money"
)

// Source is what an audited account exposes.
type Source interface {
	Balances() map[string]balance.Balance
	Holds() map[string]decimal.Decimal
}

// Service checks that every locked balance is explained by open orders and
// that no balance went negative.
type Service struct {
	log       *logger.Logger
	tolerance decimal.Decimal
	mu        sync.Mutex
	audits    int
	failed    int
}

// ReconciliationReport contains reconciliation results
type ReconciliationReport struct {
	Timestamp time.Time
	AccountID string
	Diffs     []Diff
	HasDiffs  bool
}

// Diff is one field of one balance that disagrees with what was expected.
type Diff struct {
	Symbol     string
	Field      string
	Ledger     decimal.Decimal
	Expected   decimal.Decimal
	Difference decimal.Decimal
}

// NewService creates an auditor. A non-positive tolerance uses money.Epsilon.
func NewService(log *logger.Logger, tolerance decimal.Decimal) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if !tolerance.IsPositive() {
		tolerance = money.Epsilon
	}
	return &Service{log: log, tolerance: tolerance}
}

// Reconcile performs reconciliation check
func (s *Service) Reconcile(ctx context.Context, accountID string, src Source, at time.Time) *ReconciliationReport {
	balances := src.Balances()
	holds := src.Holds()

	report := &ReconciliationReport{Timestamp: at, AccountID: accountID}

	symbols := make([]string, 0, len(balances)+len(holds))
	for sym := range balances {
		symbols = append(symbols, sym)
	}
	for sym := range holds {
		if _, ok := balances[sym]; !ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		b := balances[sym]
		if diff := b.Locked.Sub(holds[sym]); diff.Abs().GreaterThan(s.tolerance) {
			report.add(Diff{Symbol: sym, Field: "locked", Ledger: b.Locked, Expected: holds[sym], Difference: diff})
		}
		s.checkNonNegative(report, sym, "free", b.Free)
		s.checkNonNegative(report, sym, "locked", b.Locked)
		s.checkNonNegative(report, sym, "shorted", b.Shorted)
		for asset, reserve := range b.MarginReserves {
			s.checkNonNegative(report, sym, "margin_reserve:"+asset, reserve)
		}
	}

	s.mu.Lock()
	s.audits++
	if report.HasDiffs {
		s.failed++
	}
	s.mu.Unlock()

	s.handleReport(ctx, report)
	return report
}

func (s *Service) checkNonNegative(report *ReconciliationReport, sym, field string, v decimal.Decimal) {
	if v.LessThan(s.tolerance.Neg()) {
		report.add(Diff{Symbol: sym, Field: field, Ledger: v, Expected: decimal.Zero, Difference: v})
	}
}

func (r *ReconciliationReport) add(d Diff) {
	r.Diffs = append(r.Diffs, d)
	r.HasDiffs = true
}

// Stats returns how many audits ran and how many of them found differences.
func (s *Service) Stats() (audits, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audits, s.failed
}

// handleReport processes reconciliation report
func (s *Service) handleReport(ctx context.Context, report *ReconciliationReport) {
	if !report.HasDiffs {
		s.log.DebugContext(ctx, "reconciliation ok", logger.NewField("account", report.AccountID))
		return
	}
	for _, d := range report.Diffs {
		s.log.WarnContext(ctx, "reconciliation difference",
			logger.NewField("account", report.AccountID),
			logger.NewField("symbol", d.Symbol),
			logger.NewField("field", d.Field),
			logger.NewField("ledger", d.Ledger.String()),
			logger.NewField("expected", d.Expected.String()),
			logger.NewField("difference", d.Difference.String()),
		)
	}
}
