package compliance

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

func pounds(v float64) domain.Money {
	return domain.MoneyFromPounds(v)
}

func testConfig() settings.ComplianceConfig {
	return settings.ComplianceConfig{
		StandardCeiling:       pounds(85000),
		JointMultiplier:       2.0,
		Tolerance:             pounds(500),
		WarningThreshold:      0.95,
		NearLimitThreshold:    0.80,
		PersonalLimitsEnabled: false,
	}
}

func account(id, frn, name string, balance float64, opts ...func(*domain.Account)) domain.Account {
	a := domain.Account{
		ID:          id,
		Institution: domain.IdentifiedInstitution(frn),
		Name:        name,
		Balance:     pounds(balance),
		Rate:        domain.PercentageFromFloat(3.0),
		Liquidity:   domain.LiquidityEasyAccess,
		HolderCount: 1,
		Active:      true,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func TestGenerateReport_GroupsByInstitution(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	accounts := []domain.Account{
		account("a1", "100001", "Bank X Saver", 40000),
		account("a2", "100001", "Bank X ISA", 20000),
		account("a3", "100002", "Bank Y", 10000),
		account("a4", "100002", "Bank Y Old", 5000, func(a *domain.Account) { a.Active = false }),
	}

	report, err := svc.GenerateReport(accounts, nil, Options{})
	require.NoError(t, err)
	require.Len(t, report.Institutions, 2)

	// Sorted by exposure descending
	x := report.Institutions[0]
	assert.Equal(t, pounds(60000), x.TotalExposure)
	assert.Equal(t, 2, x.AccountCount)
	assert.Equal(t, pounds(85000), x.EffectiveCeiling)
	assert.Equal(t, pounds(25000), x.Headroom)
	assert.Equal(t, StatusCompliant, x.Status)

	// Inactive account excluded
	y := report.Institutions[1]
	assert.Equal(t, pounds(10000), y.TotalExposure)
	assert.Equal(t, 1, y.AccountCount)
}

func TestGenerateReport_StatusThresholds(t *testing.T) {
	tests := []struct {
		name     string
		balance  float64
		expected Status
	}{
		{"compliant below 80%", 67999, StatusCompliant},
		{"near limit at 80%", 68000, StatusNearLimit},
		{"near limit below 95%", 80749, StatusNearLimit},
		{"warning at 95%", 80750, StatusWarning},
		{"warning at 100%", 85000, StatusWarning},
		{"tolerance just over ceiling", 85200, StatusTolerance},
		{"tolerance at ceiling plus band", 85500, StatusTolerance},
		{"violation beyond tolerance", 85501, StatusViolation},
	}

	svc := NewService(testConfig(), nil, zerolog.Nop())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := svc.GenerateReport([]domain.Account{
				account("a1", "100001", "Bank X", tt.balance),
			}, nil, Options{})
			require.NoError(t, err)
			require.Len(t, report.Institutions, 1)
			assert.Equal(t, tt.expected, report.Institutions[0].Status)
		})
	}
}

func TestGenerateReport_JointAccountsDoubleCeiling(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "Bank X Joint", 120000, func(a *domain.Account) {
			a.Joint = true
			a.HolderCount = 2
		}),
		account("a2", "100001", "Bank X Sole", 30000),
	}, nil, Options{})
	require.NoError(t, err)

	// One joint account in the group doubles the whole group's ceiling
	inst := report.Institutions[0]
	assert.True(t, inst.Joint)
	assert.Equal(t, pounds(170000), inst.EffectiveCeiling)
	assert.Equal(t, StatusNearLimit, inst.Status) // 150k of 170k = 88%
}

func TestGenerateReport_PersonalOverride(t *testing.T) {
	cfg := testConfig()
	cfg.PersonalLimitsEnabled = true
	prefs := map[string]domain.InstitutionPreference{
		"100001": {
			Institution:   domain.IdentifiedInstitution("100001"),
			PersonalLimit: pounds(200000),
			Trust:         domain.TrustFull,
		},
	}
	svc := NewService(cfg, prefs, zerolog.Nop())

	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "NS&I", 150000),
	}, nil, Options{})
	require.NoError(t, err)

	inst := report.Institutions[0]
	assert.True(t, inst.PersonalLimitApplied)
	assert.Equal(t, pounds(200000), inst.EffectiveCeiling)
	assert.Equal(t, StatusCompliant, inst.Status)
}

func TestGenerateReport_PersonalOverrideDisabled(t *testing.T) {
	prefs := map[string]domain.InstitutionPreference{
		"100001": {PersonalLimit: pounds(200000)},
	}
	svc := NewService(testConfig(), prefs, zerolog.Nop())

	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "NS&I", 150000),
	}, nil, Options{})
	require.NoError(t, err)

	inst := report.Institutions[0]
	assert.False(t, inst.PersonalLimitApplied)
	assert.Equal(t, pounds(85000), inst.EffectiveCeiling)
	assert.Equal(t, StatusViolation, inst.Status)
}

func TestGenerateReport_OverrideCollapsesWithoutEasyAccess(t *testing.T) {
	cfg := testConfig()
	cfg.PersonalLimitsEnabled = true
	prefs := map[string]domain.InstitutionPreference{
		"100001": {
			PersonalLimit:      pounds(200000),
			EasyAccessRequired: true,
		},
	}
	svc := NewService(cfg, prefs, zerolog.Nop())

	// 150k total, only 40k easy access. Excess over base is 65k, which
	// easy access cannot cover: ceiling collapses to
	// min(40k, 200k) + min(110k, 85k) = 125k.
	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "Fixed Bond", 110000, func(a *domain.Account) {
			a.Liquidity = domain.LiquidityFixedTerm
		}),
		account("a2", "100001", "Easy Saver", 40000),
	}, nil, Options{})
	require.NoError(t, err)

	inst := report.Institutions[0]
	assert.True(t, inst.PersonalLimitApplied)
	assert.Equal(t, pounds(125000), inst.EffectiveCeiling)
	assert.Equal(t, StatusViolation, inst.Status)
}

func TestGenerateReport_BreachSeverityAndOrdering(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "Bank X", 130000), // excess 45000 = 53% -> CRITICAL
		account("a2", "100002", "Bank Y", 110000), // excess 25000 = 29% -> HIGH
		account("a3", "100003", "Bank Z", 90000),  // excess 5000 = 6% -> MEDIUM
	}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, report.Breaches, 3)

	// Descending by excess
	assert.Equal(t, pounds(45000), report.Breaches[0].Excess)
	assert.Equal(t, SeverityCritical, report.Breaches[0].Severity)
	assert.Equal(t, pounds(25000), report.Breaches[1].Excess)
	assert.Equal(t, SeverityHigh, report.Breaches[1].Severity)
	assert.Equal(t, pounds(5000), report.Breaches[2].Excess)
	assert.Equal(t, SeverityMedium, report.Breaches[2].Severity)
}

func TestGenerateReport_PendingDeposits(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	accounts := []domain.Account{account("a1", "100001", "Bank X", 60000)}
	pending := []domain.PendingDeposit{
		{Account: account("p1", "100001", "Bank X New", 30000), Status: domain.DepositApproved},
		{Account: account("p2", "100001", "Bank X Dead", 30000), Status: domain.DepositCancelled},
	}

	// Excluded by default
	report, err := svc.GenerateReport(accounts, pending, Options{})
	require.NoError(t, err)
	assert.Equal(t, pounds(60000), report.Institutions[0].TotalExposure)

	// Included on request; cancelled deposits never count
	report, err = svc.GenerateReport(accounts, pending, Options{IncludePending: true})
	require.NoError(t, err)
	assert.Equal(t, pounds(90000), report.Institutions[0].TotalExposure)
	assert.Equal(t, StatusViolation, report.Institutions[0].Status)
}

func TestGenerateReport_UnidentifiedAccounts(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	accounts := []domain.Account{
		account("a1", "100001", "Bank X", 50000),
		{
			ID:          "a2",
			Institution: domain.UnidentifiedInstitution(),
			Name:        "Mystery Bank",
			Balance:     pounds(90000),
			Liquidity:   domain.LiquidityEasyAccess,
			Active:      true,
		},
	}

	report, err := svc.GenerateReport(accounts, nil, Options{})
	require.NoError(t, err)

	// Unresolved institutions are tracked separately, never classified
	require.Len(t, report.Institutions, 1)
	assert.Equal(t, pounds(90000), report.UnidentifiedExposure)
	assert.Equal(t, 1, report.UnidentifiedAccounts)
}

func TestGenerateReport_Concentration(t *testing.T) {
	svc := NewService(testConfig(), nil, zerolog.Nop())

	// All funds at one institution: HHI = 1
	report, err := svc.GenerateReport([]domain.Account{
		account("a1", "100001", "Bank X", 50000),
	}, nil, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.ConcentrationIndex, 1e-9)

	// Evenly split across two: HHI = 0.5
	report, err = svc.GenerateReport([]domain.Account{
		account("a1", "100001", "Bank X", 50000),
		account("a2", "100002", "Bank Y", 50000),
	}, nil, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.ConcentrationIndex, 1e-9)
}

func TestGenerateReport_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StandardCeiling = domain.Money{}
	svc := NewService(cfg, nil, zerolog.Nop())

	_, err := svc.GenerateReport([]domain.Account{account("a1", "100001", "Bank X", 1000)}, nil, Options{})
	require.Error(t, err)
	var cfgErr *settings.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
