package compliance

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

// Service generates compliance reports. Read-only: it shares account
// data with the optimization path but never blocks or mutates it.
type Service struct {
	cfg         settings.ComplianceConfig
	preferences map[string]domain.InstitutionPreference
	log         zerolog.Logger
}

// NewService creates a compliance service from loaded configuration and
// institution preferences.
func NewService(cfg settings.ComplianceConfig, preferences map[string]domain.InstitutionPreference, log zerolog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		preferences: preferences,
		log:         log.With().Str("module", "compliance").Logger(),
	}
}

type group struct {
	institution  domain.InstitutionID
	firmNames    []string
	accountCount int
	joint        bool
	total        domain.Money
	easyAccess   domain.Money
}

// GenerateReport audits the portfolio: groups active accounts (and
// optionally pending deposits) by institution, computes each group's
// effective ceiling, and classifies exposure. Fails outright on invalid
// configuration; no partial report is produced.
func (s *Service) GenerateReport(accounts []domain.Account, pending []domain.PendingDeposit, opts Options) (*Report, error) {
	if !s.cfg.StandardCeiling.IsPositive() {
		return nil, &settings.ConfigError{Key: settings.KeyStandardCeiling, Reason: "standard ceiling must be positive"}
	}

	groups := make(map[string]*group)
	report := &Report{
		GeneratedAt:     time.Now(),
		IncludesPending: opts.IncludePending,
	}

	accumulate := func(a domain.Account) {
		if !a.Active {
			return
		}
		frn, ok := a.Institution.FRN()
		if !ok {
			report.UnidentifiedExposure = report.UnidentifiedExposure.Add(a.Balance)
			report.UnidentifiedAccounts++
			return
		}

		g, exists := groups[frn]
		if !exists {
			g = &group{institution: a.Institution}
			groups[frn] = g
		}
		g.accountCount++
		g.total = g.total.Add(a.Balance)
		if a.Liquidity == domain.LiquidityEasyAccess {
			g.easyAccess = g.easyAccess.Add(a.Balance)
		}
		if a.Joint {
			g.joint = true
		}
		g.addFirmName(a.Name)
	}

	for _, account := range accounts {
		accumulate(account)
	}
	if opts.IncludePending {
		for _, deposit := range pending {
			if deposit.CountsTowardExposure() {
				accumulate(deposit.Account)
			}
		}
	}

	for frn, g := range groups {
		exposure := s.classify(frn, g)
		report.Institutions = append(report.Institutions, exposure)

		switch exposure.Status {
		case StatusViolation:
			excess := exposure.TotalExposure.Sub(exposure.EffectiveCeiling)
			report.Breaches = append(report.Breaches, Breach{
				Exposure: exposure,
				Excess:   excess,
				Severity: severityFor(excess, exposure.EffectiveCeiling),
			})
		case StatusWarning, StatusTolerance:
			report.Warnings = append(report.Warnings, exposure)
		}
	}

	sort.Slice(report.Institutions, func(i, j int) bool {
		a, b := report.Institutions[i], report.Institutions[j]
		if !a.TotalExposure.Equal(b.TotalExposure) {
			return a.TotalExposure.GreaterThan(b.TotalExposure)
		}
		return a.Institution.String() < b.Institution.String()
	})

	// Breaches sorted by excess descending: the remediation priority
	// order
	sort.Slice(report.Breaches, func(i, j int) bool {
		a, b := report.Breaches[i], report.Breaches[j]
		if !a.Excess.Equal(b.Excess) {
			return a.Excess.GreaterThan(b.Excess)
		}
		return a.Exposure.Institution.String() < b.Exposure.Institution.String()
	})

	sort.Slice(report.Warnings, func(i, j int) bool {
		a, b := report.Warnings[i], report.Warnings[j]
		if !a.TotalExposure.Equal(b.TotalExposure) {
			return a.TotalExposure.GreaterThan(b.TotalExposure)
		}
		return a.Institution.String() < b.Institution.String()
	})

	report.ConcentrationIndex, report.ExposureShareStdDev = concentration(report.Institutions)

	s.log.Info().
		Int("institutions", len(report.Institutions)).
		Int("breaches", len(report.Breaches)).
		Int("warnings", len(report.Warnings)).
		Bool("include_pending", opts.IncludePending).
		Msg("Compliance report generated")

	return report, nil
}

// EffectiveCeiling computes one institution's effective protection
// ceiling given its group characteristics. Exposed for the allocation
// path, which seeds ledger ceilings with the same numbers the audit
// uses.
func (s *Service) EffectiveCeiling(frn string, joint bool, total, easyAccess domain.Money) (domain.Money, bool) {
	base := s.cfg.BaseCeiling(joint)

	if !s.cfg.PersonalLimitsEnabled {
		return base, false
	}
	pref, ok := s.preferences[frn]
	if !ok || !pref.PersonalLimit.GreaterThan(base) {
		return base, false
	}

	if pref.EasyAccessRequired {
		// The override only protects amounts above the base ceiling
		// when they stay immediately accessible. If the easy-access
		// sub-balance cannot cover the excess, the ceiling collapses to
		// what each sub-balance actually protects.
		excess := total.SubFloor(base)
		if excess.IsPositive() && easyAccess.LessThan(excess) {
			other := total.SubFloor(easyAccess)
			collapsed := easyAccess.Cap(pref.PersonalLimit).Add(other.Cap(base))
			return collapsed, true
		}
	}

	return pref.PersonalLimit, true
}

func (s *Service) classify(frn string, g *group) InstitutionExposure {
	ceiling, personal := s.EffectiveCeiling(frn, g.joint, g.total, g.easyAccess)

	exposure := InstitutionExposure{
		Institution:          g.institution,
		FirmNames:            g.firmNames,
		AccountCount:         g.accountCount,
		Joint:                g.joint,
		TotalExposure:        g.total,
		EasyAccessExposure:   g.easyAccess,
		EffectiveCeiling:     ceiling,
		Headroom:             ceiling.SubFloor(g.total),
		PersonalLimitApplied: personal,
	}

	exposure.Status = s.StatusFor(g.total, ceiling)

	return exposure
}

// StatusFor classifies a total exposure against an effective ceiling.
// Also used by the planning service to annotate each recommendation
// with its resulting compliance status.
func (s *Service) StatusFor(total, ceiling domain.Money) Status {
	switch {
	case total.GreaterThan(ceiling.Add(s.cfg.Tolerance)):
		return StatusViolation
	case total.GreaterThan(ceiling):
		return StatusTolerance
	case total.GreaterOrEqual(ceiling.MulFloat(s.cfg.WarningThreshold)):
		return StatusWarning
	case total.GreaterOrEqual(ceiling.MulFloat(s.cfg.NearLimitThreshold)):
		return StatusNearLimit
	default:
		return StatusCompliant
	}
}

func severityFor(excess, ceiling domain.Money) Severity {
	if !ceiling.IsPositive() {
		return SeverityCritical
	}
	ratio := float64(excess.Pence()) / float64(ceiling.Pence())
	switch {
	case ratio > 0.5:
		return SeverityCritical
	case ratio > 0.2:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// concentration derives the risk-concentration index: the Herfindahl
// index of exposure shares plus their standard deviation.
func concentration(institutions []InstitutionExposure) (float64, float64) {
	if len(institutions) == 0 {
		return 0, 0
	}

	var total float64
	for _, inst := range institutions {
		total += inst.TotalExposure.Pounds()
	}
	if total <= 0 {
		return 0, 0
	}

	shares := make([]float64, 0, len(institutions))
	hhi := 0.0
	for _, inst := range institutions {
		share := inst.TotalExposure.Pounds() / total
		shares = append(shares, share)
		hhi += share * share
	}

	stdDev := 0.0
	if len(shares) > 1 {
		stdDev = stat.StdDev(shares, nil)
	}

	return hhi, stdDev
}

func (g *group) addFirmName(name string) {
	if name == "" {
		return
	}
	for _, existing := range g.firmNames {
		if existing == name {
			return
		}
	}
	g.firmNames = append(g.firmNames, name)
}

// String implements display formatting for a breach, used in
// implementation notes on remediation recommendations.
func (b Breach) String() string {
	return fmt.Sprintf("%s over ceiling by %s (%s)", b.Exposure.Institution, b.Excess, b.Severity)
}
