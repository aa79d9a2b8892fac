package allocation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
	"github.com/dfpersonal/cash-management/internal/modules/opportunities"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

// DynamicAllocator is the greedy single-best-move strategy: each
// iteration rescans every (account, product) pairing, commits the one
// with the highest effective benefit, updates remaining balances and
// ledger reservations, and repeats until no qualifying pairing is left.
// Myopic rather than globally optimal, but deterministic given
// identical inputs.
type DynamicAllocator struct {
	risk       settings.RiskConfig
	restricted map[string]bool
	platforms  []settings.PlatformPreference
	engine     RuleEvaluator
	newLedger  LedgerFactory
	ceiling    opportunities.CeilingFunc
	log        zerolog.Logger
}

// NewDynamicAllocator wires the greedy strategy.
func NewDynamicAllocator(
	risk settings.RiskConfig,
	restricted map[string]bool,
	platforms []settings.PlatformPreference,
	engine RuleEvaluator,
	newLedger LedgerFactory,
	ceiling opportunities.CeilingFunc,
	log zerolog.Logger,
) *DynamicAllocator {
	return &DynamicAllocator{
		risk:       risk,
		restricted: restricted,
		platforms:  platforms,
		engine:     engine,
		newLedger:  newLedger,
		ceiling:    ceiling,
		log:        log.With().Str("module", "allocation").Str("strategy", StrategyDynamic).Logger(),
	}
}

func (d *DynamicAllocator) Name() string { return StrategyDynamic }

// candidate is the best pairing found in one scan of the search space,
// carrying the rule events its fact evaluation fired.
type candidate struct {
	account   domain.Account
	product   domain.AvailableProduct
	amount    domain.Money
	base      domain.Percentage
	effective domain.Percentage
	benefit   domain.Money
	events    []rules.Event
}

// Allocate runs the greedy loop. The iteration count is bounded by
// accounts x products as a safety ceiling; in practice the loop ends
// earlier, when no pairing clears the filters.
func (d *DynamicAllocator) Allocate(in Input) (*Result, error) {
	l := d.newLedger()
	ledger.BuildOpening(l, in.Accounts, in.Pending, true)

	remaining := make(map[string]domain.Money, len(in.Accounts))
	counts := make(map[string]int, len(in.Accounts))
	aboveCeiling := make(map[string]bool, len(in.Accounts))
	for _, a := range in.Accounts {
		if !a.Active {
			continue
		}
		remaining[a.ID] = a.Balance
		aboveCeiling[a.ID] = a.Balance.GreaterThan(d.ceiling(a))
	}

	bestRate := bestAvailableRate(in.Products)
	result := &Result{}
	maxIterations := len(in.Accounts) * len(in.Products)

	for iter := 0; iter < maxIterations; iter++ {
		best, err := d.scan(in, l, remaining, counts, aboveCeiling, bestRate)
		if err != nil {
			return nil, fmt.Errorf("scanning pairings: %w", err)
		}
		if best == nil {
			break
		}

		rec, err := d.commit(l, best, aboveCeiling[best.account.ID])
		if err != nil {
			return nil, err
		}
		result.Recommendations = append(result.Recommendations, rec)
		result.RuleEvents = append(result.RuleEvents, best.events...)
		remaining[best.account.ID] = remaining[best.account.ID].Sub(best.amount)
		counts[best.account.ID]++
	}

	result.Ledger = l.Records()
	d.log.Info().
		Int("recommendations", len(result.Recommendations)).
		Int("rule_events", len(result.RuleEvents)).
		Msg("allocation complete")
	return result, nil
}

// scan walks the full account x product space and returns the pairing
// with the highest effective benefit, or nil when nothing qualifies.
// Ties break toward the first-seen account, then first-seen product.
func (d *DynamicAllocator) scan(in Input, l *ledger.Ledger, remaining map[string]domain.Money, counts map[string]int, aboveCeiling map[string]bool, bestRate domain.Percentage) (*candidate, error) {
	var best *candidate

	for _, a := range in.Accounts {
		rem, ok := remaining[a.ID]
		if !ok || rem.LessThan(d.risk.MinMoveAmount) {
			continue
		}
		if counts[a.ID] >= d.risk.MaxRecsPerAccount && !aboveCeiling[a.ID] {
			continue
		}

		for _, p := range in.Products {
			c, err := d.evaluate(a, p, rem, l, in.Accounts, bestRate)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}

			if best == nil || c.effective.GreaterThan(best.effective) {
				best = c
			}
		}
	}
	return best, nil
}

// evaluate applies the per-pairing filters and sizing, returning a
// candidate when the pairing qualifies. A reject_transfer rule event is
// a hard filter: the pairing is disqualified outright.
func (d *DynamicAllocator) evaluate(a domain.Account, p domain.AvailableProduct, rem domain.Money, l *ledger.Ledger, accounts []domain.Account, bestRate domain.Percentage) (*candidate, error) {
	if a.Institution.Equal(p.Institution) {
		return nil, nil
	}
	frn, identified := p.Institution.FRN()
	if !identified && !d.risk.AllowUnidentifiedProducts {
		return nil, nil
	}
	if identified && d.restricted[frn] && !d.risk.AllowShariaBanks {
		return nil, nil
	}

	base := p.Rate.Sub(a.Rate)
	if !base.IsPositive() {
		return nil, nil
	}

	amount := rem
	if identified {
		headroom := l.AvailableHeadroom(p.Institution)
		if !headroom.IsPositive() {
			return nil, nil
		}
		amount = amount.Min(headroom)
	}
	if p.MaxDeposit != nil {
		amount = amount.Cap(*p.MaxDeposit)
	}
	if p.MinDeposit != nil && amount.LessThan(*p.MinDeposit) {
		return nil, nil
	}

	benefit := base.AnnualBenefit(amount)
	if benefit.LessThan(d.risk.MinAnnualBenefit) {
		return nil, nil
	}

	var fired []rules.Event
	if d.engine != nil {
		var err error
		fired, err = d.engine.Evaluate(buildFact(a, p, amount, base, benefit))
		if err != nil {
			return nil, err
		}
		if rules.HasEvent(fired, rules.EventRejectTransfer) {
			return nil, nil
		}
	}

	return &candidate{
		account:   a,
		product:   p,
		amount:    amount,
		base:      base,
		effective: base.Add(d.convenienceBonus(accounts, p, bestRate)),
		benefit:   benefit,
		events:    fired,
	}, nil
}

// convenienceBonus prefers targets the holder already banks with, then
// targets on a preferred platform. At most one bonus applies, and the
// platform bonus only when the product's rate sits within the
// platform's configured tolerance of the best available rate.
func (d *DynamicAllocator) convenienceBonus(accounts []domain.Account, p domain.AvailableProduct, bestRate domain.Percentage) domain.Percentage {
	if holdsInstitution(accounts, p) {
		return d.risk.ExistingAccountBonus
	}
	for _, pref := range d.platforms {
		if pref.Platform == p.Platform && !bestRate.Sub(p.Rate).GreaterThan(pref.RateTolerance) {
			return d.risk.PreferredPlatformBonus
		}
	}
	return domain.Percentage{}
}

// bestAvailableRate is the highest rate in the run's catalogue, the
// reference point for platform rate tolerances.
func bestAvailableRate(products []domain.AvailableProduct) domain.Percentage {
	var best domain.Percentage
	for _, p := range products {
		if p.Rate.GreaterThan(best) {
			best = p.Rate
		}
	}
	return best
}

// commit reserves the chosen amount against the target institution and
// materializes the recommendation. An upgrade_priority rule event
// promotes the tier to HIGH regardless of benefit. Unidentified targets
// (only reachable when explicitly allowed) are never tracked in the
// ledger.
func (d *DynamicAllocator) commit(l *ledger.Ledger, c *candidate, aboveCeiling bool) (domain.Recommendation, error) {
	if _, identified := c.product.Institution.FRN(); identified {
		if _, err := l.Reserve(c.product.Institution, c.product.FirmName, c.amount); err != nil {
			return domain.Recommendation{}, fmt.Errorf("reserving %s at %s: %w", c.amount, c.product.FirmName, err)
		}
	}

	mode := domain.DisplayOr
	if aboveCeiling {
		mode = domain.DisplayAnd
	}

	priority := domain.PriorityForBenefit(c.benefit)
	if rules.HasEvent(c.events, rules.EventUpgradePriority) {
		priority = domain.PriorityHigh
	}

	_, identified := c.product.Institution.FRN()
	return domain.Recommendation{
		ID:              uuid.New().String(),
		AccountID:       c.account.ID,
		AccountName:     c.account.Name,
		Amount:          c.amount,
		CurrentRate:     c.account.Rate,
		Institution:     c.product.Institution,
		FirmName:        c.product.FirmName,
		ProductID:       c.product.ID,
		TargetRate:      c.product.Rate,
		RateImprovement: c.base,
		AnnualBenefit:   c.benefit,
		Compliance: domain.ComplianceAnnotation{
			ResultingExposure: exposureAfter(l, c.product.Institution),
			FRNMissing:        !identified,
		},
		Priority:  priority,
		Mode:      mode,
		CreatedAt: time.Now(),
	}, nil
}

// exposureAfter reads the target institution's tracked exposure from
// the ledger records after the reservation has been applied.
func exposureAfter(l *ledger.Ledger, id domain.InstitutionID) domain.Money {
	frn, ok := id.FRN()
	if !ok {
		return domain.Money{}
	}
	for _, r := range l.Records() {
		if recFRN, ok := r.Institution.FRN(); ok && recFRN == frn {
			return r.TotalExposure
		}
	}
	return domain.Money{}
}
