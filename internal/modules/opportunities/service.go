package opportunities

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

// transferFraction caps a direct (non-chunked) move at a share of the
// funding account's balance, so the account is never fully drained by a
// single recommendation.
const transferFraction = 0.80

// CeilingFunc returns the effective protection ceiling for a funding
// account. Callers typically close over the compliance service so
// discovery and the audit agree on the same numbers.
type CeilingFunc func(a domain.Account) domain.Money

// Service scans the portfolio against the product catalogue and emits
// candidate fund movements. It is read-only: discovery never mutates
// ledger state, and its output is unconstrained by headroom.
type Service struct {
	risk       settings.RiskConfig
	restricted map[string]bool
	ceiling    CeilingFunc
	log        zerolog.Logger
}

// NewService creates a discovery service. restricted maps institution
// FRNs excluded by the holder (e.g. faith-based exclusions) unless the
// risk configuration allows them.
func NewService(risk settings.RiskConfig, restricted map[string]bool, ceiling CeilingFunc, log zerolog.Logger) *Service {
	return &Service{
		risk:       risk,
		restricted: restricted,
		ceiling:    ceiling,
		log:        log.With().Str("module", "opportunities").Logger(),
	}
}

// Discover finds every qualifying (account, product) movement. Accounts
// within their protection ceiling get one opportunity per rate-improving
// product; accounts above it are decomposed into ceiling-sized chunks
// round-robin-assigned across distinct institutions. Output is sorted by
// rate improvement descending, then annual benefit descending, so the
// highest percentage improvements get first claim on scarce headroom.
func (s *Service) Discover(accounts []domain.Account, products []domain.AvailableProduct) []domain.Opportunity {
	var found []domain.Opportunity

	for _, a := range accounts {
		if !a.Active || a.Balance.LessThan(s.risk.MinMoveAmount) {
			continue
		}
		ceiling := s.ceiling(a)

		if a.Balance.GreaterThan(ceiling) {
			found = append(found, s.chunk(a, ceiling, products)...)
			continue
		}
		found = append(found, s.direct(a, products)...)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].RateImprovement.Equal(found[j].RateImprovement) {
			return found[i].RateImprovement.GreaterThan(found[j].RateImprovement)
		}
		return found[i].AnnualBenefit.GreaterThan(found[j].AnnualBenefit)
	})

	s.log.Debug().Int("opportunities", len(found)).Int("accounts", len(accounts)).Msg("discovery complete")
	return found
}

// direct emits one opportunity per qualifying product for an account
// within its ceiling, sized to min(80% of balance, max transfer size,
// product maximum). Moves earning less than the minimum annual benefit
// at that size are dropped.
func (s *Service) direct(a domain.Account, products []domain.AvailableProduct) []domain.Opportunity {
	var out []domain.Opportunity

	for _, p := range products {
		improvement, ok := s.qualifies(a, p)
		if !ok {
			continue
		}

		amount := a.Balance.MulFloat(transferFraction).Min(s.risk.MaxTransferSize)
		if p.MaxDeposit != nil {
			amount = amount.Cap(*p.MaxDeposit)
		}
		if p.MinDeposit != nil && amount.LessThan(*p.MinDeposit) {
			continue
		}

		benefit := improvement.AnnualBenefit(amount)
		if benefit.LessThan(s.risk.MinAnnualBenefit) {
			continue
		}

		out = append(out, domain.Opportunity{
			AccountID:       a.ID,
			AccountName:     a.Name,
			AccountRate:     a.Rate,
			Product:         p,
			Amount:          amount,
			RateImprovement: improvement,
			AnnualBenefit:   benefit,
		})
	}
	return out
}

// chunk decomposes an above-ceiling balance into ceil(balance/ceiling)
// chunks, cycling through the distinct rate-improving institutions.
// Chunks that fail the minimum-deposit or minimum-benefit check are
// skipped; the rest of the plan still stands.
func (s *Service) chunk(a domain.Account, ceiling domain.Money, products []domain.AvailableProduct) []domain.Opportunity {
	candidates := s.chunkCandidates(a, products)
	if len(candidates) == 0 {
		s.log.Warn().Str("account", a.ID).Msg("above-ceiling balance but no identified target institutions")
		return nil
	}

	count := a.Balance.DivCeil(ceiling)
	out := make([]domain.Opportunity, 0, count)

	for i := 1; i <= count; i++ {
		p := candidates[(i-1)%len(candidates)]

		size := ceiling
		if i == count {
			size = a.Balance.SubFloor(ceiling.MulInt(int64(count - 1)))
		}
		if p.MaxDeposit != nil {
			size = size.Cap(*p.MaxDeposit)
		}
		if p.MinDeposit != nil && size.LessThan(*p.MinDeposit) {
			continue
		}

		improvement := p.Rate.Sub(a.Rate)
		benefit := improvement.AnnualBenefit(size)
		if benefit.LessThan(s.risk.MinAnnualBenefit) {
			continue
		}

		out = append(out, domain.Opportunity{
			AccountID:       a.ID,
			AccountName:     a.Name,
			AccountRate:     a.Rate,
			Product:         p,
			Amount:          size,
			RateImprovement: improvement,
			AnnualBenefit:   benefit,
			Chunked:         true,
			ChunkIndex:      i,
			ChunkCount:      count,
		})
	}
	return out
}

// chunkCandidates picks the best qualifying product per distinct
// identified institution, preserving catalogue order (rate descending)
// so chunk 1 lands at the best available rate. Unidentified products
// are never chunk targets: a diversification plan only works when every
// leg carries its own protection ceiling.
func (s *Service) chunkCandidates(a domain.Account, products []domain.AvailableProduct) []domain.AvailableProduct {
	seen := make(map[string]bool)
	var out []domain.AvailableProduct

	for _, p := range products {
		frn, identified := p.Institution.FRN()
		if !identified || seen[frn] {
			continue
		}
		if _, ok := s.qualifies(a, p); !ok {
			continue
		}
		seen[frn] = true
		out = append(out, p)
	}
	return out
}

// qualifies applies the filters shared by both discovery paths: the
// product must improve on the account's rate by at least the meaningful
// threshold, sit at a different institution, and not be restricted.
func (s *Service) qualifies(a domain.Account, p domain.AvailableProduct) (domain.Percentage, bool) {
	improvement := p.Rate.Sub(a.Rate)
	if !improvement.IsPositive() || improvement.LessThan(s.risk.MeaningfulRateImprovement) {
		return domain.Percentage{}, false
	}
	if a.Institution.Equal(p.Institution) {
		return domain.Percentage{}, false
	}
	if frn, ok := p.Institution.FRN(); ok && s.restricted[frn] && !s.risk.AllowShariaBanks {
		return domain.Percentage{}, false
	}
	return improvement, true
}
