package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

// Discoverer is the slice of the discovery service the single-pass
// strategy consumes.
type Discoverer interface {
	Discover(accounts []domain.Account, products []domain.AvailableProduct) []domain.Opportunity
}

// SinglePassAllocator runs discovery unconstrained by headroom, then
// walks the sorted opportunity list once against a ledger seeded from
// the whole portfolio: accept, shrink to fit remaining headroom, or
// drop. Used for easy-access-only optimization where one deliberate
// pass beats the greedy rescan.
type SinglePassAllocator struct {
	risk      settings.RiskConfig
	discovery Discoverer
	engine    RuleEvaluator
	newLedger LedgerFactory
	log       zerolog.Logger
}

// NewSinglePassAllocator wires the discovery+compliance strategy.
func NewSinglePassAllocator(risk settings.RiskConfig, discovery Discoverer, engine RuleEvaluator, newLedger LedgerFactory, log zerolog.Logger) *SinglePassAllocator {
	return &SinglePassAllocator{
		risk:      risk,
		discovery: discovery,
		engine:    engine,
		newLedger: newLedger,
		log:       log.With().Str("module", "allocation").Str("strategy", StrategySinglePass).Logger(),
	}
}

func (s *SinglePassAllocator) Name() string { return StrategySinglePass }

// Allocate performs the single pass. Per-account recommendation counts
// are capped except for chunked accounts: every chunk of an
// above-ceiling plan is required for full diversification, so the cap
// never truncates one. Each accepted movement is run past the rule
// engine before it is reserved: a reject_transfer event drops it, an
// upgrade_priority event promotes it to HIGH.
func (s *SinglePassAllocator) Allocate(in Input) (*Result, error) {
	found := s.discovery.Discover(in.Accounts, in.Products)

	l := s.newLedger()
	ledger.BuildOpening(l, in.Accounts, in.Pending, true)

	accountsByID := make(map[string]domain.Account, len(in.Accounts))
	for _, a := range in.Accounts {
		accountsByID[a.ID] = a
	}

	result := &Result{}
	counts := make(map[string]int)
	chunked := make(map[string]bool)
	for _, opp := range found {
		if opp.Chunked {
			chunked[opp.AccountID] = true
		}
	}

	for _, opp := range found {
		if _, identified := opp.Product.Institution.FRN(); !identified {
			result.Alerts = append(result.Alerts, missingFRNAlert(opp))
			continue
		}
		if !chunked[opp.AccountID] && counts[opp.AccountID] >= s.risk.MaxRecsPerAccount {
			continue
		}

		amount := l.MaxSafeTransfer(opp.Product.Institution, opp.Amount)
		if amount.LessThan(s.risk.MinMoveAmount) {
			continue
		}

		rec := s.recommendation(opp, amount, chunked[opp.AccountID])
		if s.engine != nil {
			fired, err := s.engine.Evaluate(buildFact(accountsByID[opp.AccountID], opp.Product, amount, opp.RateImprovement, rec.AnnualBenefit))
			if err != nil {
				return nil, fmt.Errorf("evaluating rules for %s: %w", opp.Product.ID, err)
			}
			if rules.HasEvent(fired, rules.EventRejectTransfer) {
				continue
			}
			if rules.HasEvent(fired, rules.EventUpgradePriority) {
				rec.Priority = domain.PriorityHigh
			}
			result.RuleEvents = append(result.RuleEvents, fired...)
		}

		if _, err := l.Reserve(opp.Product.Institution, opp.Product.FirmName, amount); err != nil {
			return nil, fmt.Errorf("reserving %s at %s: %w", amount, opp.Product.FirmName, err)
		}

		result.Recommendations = append(result.Recommendations, rec)
		counts[opp.AccountID]++
	}

	sort.SliceStable(result.Alerts, func(i, j int) bool {
		return result.Alerts[i].PotentialBenefit.GreaterThan(result.Alerts[j].PotentialBenefit)
	})

	result.Recommendations = truncateGroups(result.Recommendations, s.risk.MaxRecsPerAccount)
	result.Ledger = l.Records()

	s.log.Info().
		Int("opportunities", len(found)).
		Int("recommendations", len(result.Recommendations)).
		Int("alerts", len(result.Alerts)).
		Msg("single pass complete")
	return result, nil
}

// recommendation materializes one accepted opportunity, re-deriving the
// benefit when the amount was shrunk to fit headroom.
func (s *SinglePassAllocator) recommendation(opp domain.Opportunity, amount domain.Money, chunkedAccount bool) domain.Recommendation {
	benefit := opp.AnnualBenefit
	if !amount.Equal(opp.Amount) {
		benefit = opp.RateImprovement.AnnualBenefit(amount)
	}

	mode := domain.DisplayOr
	notes := ""
	if chunkedAccount {
		mode = domain.DisplayAnd
		notes = fmt.Sprintf("chunk %d of %d in a diversification plan", opp.ChunkIndex, opp.ChunkCount)
	}

	return domain.Recommendation{
		ID:              uuid.New().String(),
		AccountID:       opp.AccountID,
		AccountName:     opp.AccountName,
		Amount:          amount,
		CurrentRate:     opp.AccountRate,
		Institution:     opp.Product.Institution,
		FirmName:        opp.Product.FirmName,
		ProductID:       opp.Product.ID,
		TargetRate:      opp.Product.Rate,
		RateImprovement: opp.RateImprovement,
		AnnualBenefit:   benefit,
		Priority:        domain.PriorityForBenefit(benefit),
		Mode:            mode,
		Notes:           notes,
		CreatedAt:       time.Now(),
	}
}

// missingFRNAlert surfaces an opportunity blocked on an unidentified
// institution, with the manual data-entry action needed to unblock it.
func missingFRNAlert(opp domain.Opportunity) domain.MissingFRNAlert {
	return domain.MissingFRNAlert{
		AccountID:        opp.AccountID,
		AccountName:      opp.AccountName,
		ProductID:        opp.Product.ID,
		FirmName:         opp.Product.FirmName,
		Platform:         opp.Product.Platform,
		Rate:             opp.Product.Rate,
		PotentialAmount:  opp.Amount,
		PotentialBenefit: opp.AnnualBenefit,
		SuggestedAction:  fmt.Sprintf("add the FRN for %q via a manual institution override", opp.Product.FirmName),
	}
}

// truncateGroups caps each OR group at the best maxPerAccount
// alternatives. AND groups pass through untouched. Recommendations
// arrive sorted by rate improvement, so keeping the first N per account
// keeps the best N.
func truncateGroups(recs []domain.Recommendation, maxPerAccount int) []domain.Recommendation {
	kept := make([]domain.Recommendation, 0, len(recs))
	perAccount := make(map[string]int)

	for _, r := range recs {
		if r.Mode == domain.DisplayOr {
			if perAccount[r.AccountID] >= maxPerAccount {
				continue
			}
			perAccount[r.AccountID]++
		}
		kept = append(kept, r)
	}
	return kept
}
