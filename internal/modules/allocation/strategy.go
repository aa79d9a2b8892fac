package allocation

import (
	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
)

// Strategy names accepted by the planning service.
const (
	StrategyDynamic    = "dynamic"
	StrategySinglePass = "single-pass"
)

// Input is one optimization run's snapshot: accounts and pending
// deposits as of run start, plus the deduplicated product catalogue.
// Strategies never reload data mid-run.
type Input struct {
	Accounts []domain.Account
	Pending  []domain.PendingDeposit
	Products []domain.AvailableProduct
}

// Result carries everything a run produces: advised movements, alerts
// for high-rate products blocked on missing institution identifiers,
// rule events raised during evaluation, and the closing ledger state
// for the audit snapshot.
type Result struct {
	Recommendations []domain.Recommendation
	Alerts          []domain.MissingFRNAlert
	RuleEvents      []rules.Event
	Ledger          []ledger.Record
}

// Strategy is one allocation algorithm. Each call must work from a
// fresh ledger; no state survives between invocations.
type Strategy interface {
	Name() string
	Allocate(in Input) (*Result, error)
}

// LedgerFactory builds a fresh exposure ledger with per-institution
// effective ceilings already set. Strategies seed it with the opening
// portfolio themselves.
type LedgerFactory func() *ledger.Ledger

// RuleEvaluator is the slice of the rule engine strategies need.
type RuleEvaluator interface {
	Evaluate(fact *rules.Fact) ([]rules.Event, error)
}

// buildFact assembles the fact record rules evaluate against for one
// candidate movement.
func buildFact(a domain.Account, p domain.AvailableProduct, amount domain.Money, improvement domain.Percentage, benefit domain.Money) *rules.Fact {
	fact := rules.NewFact().
		SetNumber("transfer_amount", amount.Pounds()).
		SetNumber("rate_improvement", improvement.Float()).
		SetNumber("annual_benefit", benefit.Pounds()).
		SetNumber("account_balance", a.Balance.Pounds()).
		SetNumber("current_rate", a.Rate.Float()).
		SetNumber("target_rate", p.Rate.Float()).
		SetString("account_id", a.ID).
		SetString("platform", p.Platform).
		SetBool("joint_account", a.Joint)

	if frn, ok := p.Institution.FRN(); ok {
		fact.SetString("institution_frn", frn)
	}
	return fact
}

// holdsInstitution reports whether the portfolio already has an active
// account at the product's institution with the same liquidity class,
// which earns the existing-account convenience bonus.
func holdsInstitution(accounts []domain.Account, p domain.AvailableProduct) bool {
	for _, a := range accounts {
		if a.Active && a.Institution.Equal(p.Institution) && a.Liquidity == p.Liquidity {
			return true
		}
	}
	return false
}
