package planning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/events"
	"github.com/dfpersonal/cash-management/internal/modules/allocation"
	"github.com/dfpersonal/cash-management/internal/modules/compliance"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
	"github.com/dfpersonal/cash-management/internal/modules/opportunities"
	"github.com/dfpersonal/cash-management/internal/modules/portfolio"
	"github.com/dfpersonal/cash-management/internal/modules/products"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
	"github.com/dfpersonal/cash-management/internal/modules/snapshots"
)

// Service orchestrates one optimization run end to end: load
// configuration and rules, snapshot the portfolio and catalogue, audit
// compliance, run the chosen allocation strategy, then persist and
// announce the results. Each run builds a fresh ledger and fresh
// snapshots; nothing is shared between runs, and concurrent runs
// against the same store must be serialized by the caller.
type Service struct {
	settings  *settings.Repository
	prefs     *settings.PreferenceRepository
	rulesRepo *rules.Repository
	portfolio *portfolio.Repository
	products  *products.Repository
	recs      *RecommendationRepository
	snaps     *snapshots.Store
	bus       *events.Bus
	log       zerolog.Logger
}

// NewService wires the planning service.
func NewService(
	settingsRepo *settings.Repository,
	prefs *settings.PreferenceRepository,
	rulesRepo *rules.Repository,
	portfolioRepo *portfolio.Repository,
	productsRepo *products.Repository,
	recs *RecommendationRepository,
	snaps *snapshots.Store,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		settings:  settingsRepo,
		prefs:     prefs,
		rulesRepo: rulesRepo,
		portfolio: portfolioRepo,
		products:  productsRepo,
		recs:      recs,
		snaps:     snaps,
		bus:       bus,
		log:       log.With().Str("module", "planning").Logger(),
	}
}

// Run executes one optimization run with the named strategy. Loads are
// strictly ordered: configuration and rules first, portfolio and
// catalogue after, so every fact evaluation sees resolved placeholders.
func (s *Service) Run(mode string) (*RunResult, error) {
	started := time.Now()
	runID := uuid.New().String()

	s.publish(events.RunStarted, map[string]interface{}{"run_id": runID, "mode": mode})

	result, err := s.run(runID, mode, started)
	if err != nil {
		s.publish(events.RunFailed, map[string]interface{}{"run_id": runID, "error": err.Error()})
		return nil, err
	}

	s.publish(events.RunCompleted, map[string]interface{}{
		"run_id":          runID,
		"mode":            mode,
		"recommendations": len(result.Recommendations),
		"duration_ms":     result.Duration.Milliseconds(),
	})
	return result, nil
}

func (s *Service) run(runID, mode string, started time.Time) (*RunResult, error) {
	complianceCfg, err := settings.LoadComplianceConfig(s.settings)
	if err != nil {
		return nil, fmt.Errorf("loading compliance config: %w", err)
	}
	riskCfg, err := settings.LoadRiskConfig(s.settings)
	if err != nil {
		return nil, fmt.Errorf("loading risk config: %w", err)
	}
	prefs, err := s.prefs.GetAll()
	if err != nil {
		return nil, fmt.Errorf("loading institution preferences: %w", err)
	}
	restricted, err := s.prefs.RestrictedInstitutions()
	if err != nil {
		return nil, fmt.Errorf("loading restricted institutions: %w", err)
	}
	platforms, err := s.prefs.PreferredPlatforms()
	if err != nil {
		return nil, fmt.Errorf("loading preferred platforms: %w", err)
	}
	excluded, err := s.prefs.ProductExclusions()
	if err != nil {
		return nil, fmt.Errorf("loading product exclusions: %w", err)
	}

	engine := rules.NewEngine(s.rulesRepo, s.settings, s.log)
	if err := engine.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing rule engine: %w", err)
	}

	accounts, err := s.portfolio.GetActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	pending, err := s.portfolio.GetPendingDeposits()
	if err != nil {
		return nil, fmt.Errorf("loading pending deposits: %w", err)
	}
	catalogue, err := s.products.GetAll()
	if err != nil {
		return nil, fmt.Errorf("loading product catalogue: %w", err)
	}
	catalogue = products.Exclude(products.Dedupe(catalogue), excluded)

	compSvc := compliance.NewService(complianceCfg, prefs, s.log)
	report, err := compSvc.GenerateReport(accounts, pending, compliance.Options{IncludePending: true})
	if err != nil {
		return nil, fmt.Errorf("generating compliance report: %w", err)
	}
	for _, breach := range report.Breaches {
		s.publish(events.BreachDetected, map[string]interface{}{
			"institution": breach.Exposure.Institution.String(),
			"excess":      breach.Excess.Pounds(),
			"severity":    string(breach.Severity),
		})
	}

	groups := institutionGroups(accounts, pending)
	ceilingFor := accountCeilingFunc(compSvc, complianceCfg, groups)
	newLedger := func() *ledger.Ledger {
		l := ledger.New(complianceCfg.StandardCeiling, s.log)
		for frn, g := range groups {
			ceiling, _ := compSvc.EffectiveCeiling(frn, g.joint, g.total, g.easyAccess)
			l.SetCeiling(domain.IdentifiedInstitution(frn), ceiling)
		}
		return l
	}

	strategy, err := s.strategy(mode, riskCfg, restricted, platforms, engine, newLedger, ceilingFor)
	if err != nil {
		return nil, err
	}

	allocated, err := strategy.Allocate(allocation.Input{
		Accounts: accounts,
		Pending:  pending,
		Products: catalogue,
	})
	if err != nil {
		return nil, fmt.Errorf("running %s allocation: %w", mode, err)
	}

	annotate(allocated, compSvc)

	if err := s.recs.SaveAll(allocated.Recommendations); err != nil {
		return nil, fmt.Errorf("persisting recommendations: %w", err)
	}
	snap := snapshots.Build(runID, mode, started, len(accounts), catalogue, allocated.Ledger, allocated.Recommendations)
	if err := s.snaps.Save(snap); err != nil {
		return nil, fmt.Errorf("persisting run snapshot: %w", err)
	}

	if len(allocated.Recommendations) > 0 {
		s.publish(events.RecommendationsReady, map[string]interface{}{
			"run_id": runID,
			"count":  len(allocated.Recommendations),
		})
	}
	if len(allocated.Alerts) > 0 {
		s.publish(events.MissingFRNDetected, map[string]interface{}{
			"run_id": runID,
			"count":  len(allocated.Alerts),
		})
	}

	duration := time.Since(started)
	result := &RunResult{
		RunID:           runID,
		Mode:            mode,
		GeneratedAt:     started,
		Duration:        duration,
		DurationMS:      duration.Milliseconds(),
		Recommendations: allocated.Recommendations,
		Groups:          buildGroups(allocated.Recommendations),
		Alerts:          allocated.Alerts,
		RuleEvents:      allocated.RuleEvents,
		Summary:         summarize(accounts, allocated.Recommendations),
		Compliance:      report,
	}

	s.log.Info().
		Str("run_id", runID).
		Str("mode", mode).
		Int("accounts", len(accounts)).
		Int("products", len(catalogue)).
		Int("recommendations", len(result.Recommendations)).
		Int("alerts", len(result.Alerts)).
		Dur("duration", result.Duration).
		Msg("optimization run complete")
	return result, nil
}

// ComplianceReport runs the read-only audit on current data without
// generating recommendations.
func (s *Service) ComplianceReport(includePending bool) (*compliance.Report, error) {
	complianceCfg, err := settings.LoadComplianceConfig(s.settings)
	if err != nil {
		return nil, fmt.Errorf("loading compliance config: %w", err)
	}
	prefs, err := s.prefs.GetAll()
	if err != nil {
		return nil, fmt.Errorf("loading institution preferences: %w", err)
	}
	accounts, err := s.portfolio.GetActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	pending, err := s.portfolio.GetPendingDeposits()
	if err != nil {
		return nil, fmt.Errorf("loading pending deposits: %w", err)
	}

	return compliance.NewService(complianceCfg, prefs, s.log).
		GenerateReport(accounts, pending, compliance.Options{IncludePending: includePending})
}

func (s *Service) strategy(
	mode string,
	riskCfg settings.RiskConfig,
	restricted map[string]bool,
	platforms []settings.PlatformPreference,
	engine *rules.Engine,
	newLedger allocation.LedgerFactory,
	ceilingFor opportunities.CeilingFunc,
) (allocation.Strategy, error) {
	switch mode {
	case allocation.StrategyDynamic:
		return allocation.NewDynamicAllocator(riskCfg, restricted, platforms, engine, newLedger, ceilingFor, s.log), nil
	case allocation.StrategySinglePass:
		discovery := opportunities.NewService(riskCfg, restricted, ceilingFor, s.log)
		return allocation.NewSinglePassAllocator(riskCfg, discovery, engine, newLedger, s.log), nil
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", mode)
	}
}

func (s *Service) publish(eventType events.EventType, data map[string]interface{}) {
	if s.bus != nil {
		s.bus.Publish(eventType, "planning", data)
	}
}

// groupStats aggregates one institution's holdings, pending included,
// for effective-ceiling computation.
type groupStats struct {
	joint      bool
	total      domain.Money
	easyAccess domain.Money
}

func institutionGroups(accounts []domain.Account, pending []domain.PendingDeposit) map[string]*groupStats {
	groups := make(map[string]*groupStats)

	add := func(a domain.Account) {
		frn, ok := a.Institution.FRN()
		if !ok || !a.Active {
			return
		}
		g := groups[frn]
		if g == nil {
			g = &groupStats{}
			groups[frn] = g
		}
		g.joint = g.joint || a.Joint
		g.total = g.total.Add(a.Balance)
		if a.Liquidity == domain.LiquidityEasyAccess {
			g.easyAccess = g.easyAccess.Add(a.Balance)
		}
	}

	for _, a := range accounts {
		add(a)
	}
	for _, d := range pending {
		if d.CountsTowardExposure() {
			add(d.Account)
		}
	}
	return groups
}

// accountCeilingFunc gives each funding account the same effective
// ceiling the compliance audit computed for its institution. Accounts
// at unseen or unidentified institutions fall back to the base ceiling.
func accountCeilingFunc(compSvc *compliance.Service, cfg settings.ComplianceConfig, groups map[string]*groupStats) opportunities.CeilingFunc {
	return func(a domain.Account) domain.Money {
		if frn, ok := a.Institution.FRN(); ok {
			if g, found := groups[frn]; found {
				ceiling, _ := compSvc.EffectiveCeiling(frn, g.joint, g.total, g.easyAccess)
				return ceiling
			}
		}
		return cfg.BaseCeiling(a.Joint)
	}
}

// annotate fills each recommendation's compliance annotation from the
// run's closing ledger state.
func annotate(res *allocation.Result, compSvc *compliance.Service) {
	records := make(map[string]ledger.Record, len(res.Ledger))
	for _, r := range res.Ledger {
		if frn, ok := r.Institution.FRN(); ok {
			records[frn] = r
		}
	}

	for i := range res.Recommendations {
		rec := &res.Recommendations[i]
		frn, ok := rec.Institution.FRN()
		if !ok {
			rec.Compliance.FRNMissing = true
			continue
		}
		record, found := records[frn]
		if !found {
			continue
		}
		if rec.Compliance.ResultingExposure.IsZero() {
			rec.Compliance.ResultingExposure = record.TotalExposure
		}
		rec.Compliance.ResultingStatus = string(compSvc.StatusFor(rec.Compliance.ResultingExposure, record.Ceiling))
	}
}

// buildGroups packages recommendations per source account in
// first-seen order.
func buildGroups(recs []domain.Recommendation) []Group {
	index := make(map[string]int)
	var groups []Group

	for _, rec := range recs {
		i, ok := index[rec.AccountID]
		if !ok {
			i = len(groups)
			index[rec.AccountID] = i
			groups = append(groups, Group{
				AccountID:   rec.AccountID,
				AccountName: rec.AccountName,
				Mode:        rec.Mode,
			})
		}
		g := &groups[i]
		g.Recommendations = append(g.Recommendations, rec)
		g.TotalAmount = g.TotalAmount.Add(rec.Amount)
		g.TotalBenefit = g.TotalBenefit.Add(rec.AnnualBenefit)
	}
	return groups
}

// summarize derives the portfolio summary: balance-weighted average
// rates before and after the advised movements.
func summarize(accounts []domain.Account, recs []domain.Recommendation) PortfolioSummary {
	summary := PortfolioSummary{AccountCount: len(accounts)}
	if len(accounts) == 0 {
		return summary
	}

	moved := make(map[string]domain.Money)
	targetRates := make([]float64, 0, len(recs))
	targetWeights := make([]float64, 0, len(recs))
	for _, rec := range recs {
		moved[rec.AccountID] = moved[rec.AccountID].Add(rec.Amount)
		targetRates = append(targetRates, rec.TargetRate.Float())
		targetWeights = append(targetWeights, rec.Amount.Pounds())
		summary.TotalAnnualBenefit = summary.TotalAnnualBenefit.Add(rec.AnnualBenefit)
	}

	currentRates := make([]float64, 0, len(accounts))
	currentWeights := make([]float64, 0, len(accounts))
	projectedRates := make([]float64, 0, len(accounts)+len(recs))
	projectedWeights := make([]float64, 0, len(accounts)+len(recs))
	for _, a := range accounts {
		summary.TotalBalance = summary.TotalBalance.Add(a.Balance)
		currentRates = append(currentRates, a.Rate.Float())
		currentWeights = append(currentWeights, a.Balance.Pounds())

		stays := a.Balance.SubFloor(moved[a.ID])
		projectedRates = append(projectedRates, a.Rate.Float())
		projectedWeights = append(projectedWeights, stays.Pounds())
	}
	projectedRates = append(projectedRates, targetRates...)
	projectedWeights = append(projectedWeights, targetWeights...)

	if summary.TotalBalance.IsPositive() {
		summary.WeightedAvgRate = domain.PercentageFromFloat(stat.Mean(currentRates, currentWeights))
		summary.ProjectedAvgRate = domain.PercentageFromFloat(stat.Mean(projectedRates, projectedWeights))
	}
	return summary
}
