package allocation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

func testRisk() settings.RiskConfig {
	return settings.RiskConfig{
		MinMoveAmount:             domain.MoneyFromPounds(1000),
		MinAnnualBenefit:          domain.MoneyFromPounds(50),
		MaxTransferSize:           domain.MoneyFromPounds(50000),
		MaxRecsPerAccount:         3,
		MeaningfulRateImprovement: domain.PercentageFromFloat(0.2),
		AllowShariaBanks:          true,
		ExistingAccountBonus:      domain.PercentageFromFloat(0.1),
		PreferredPlatformBonus:    domain.PercentageFromFloat(0.05),
	}
}

func testLedgerFactory() LedgerFactory {
	return func() *ledger.Ledger {
		return ledger.New(domain.MoneyFromPounds(85000), zerolog.Nop())
	}
}

func testCeiling(a domain.Account) domain.Money {
	return domain.MoneyFromPounds(85000)
}

func testAccount(id, frn string, balance, rate float64) domain.Account {
	return domain.Account{
		ID:          id,
		Institution: domain.IdentifiedInstitution(frn),
		Name:        id,
		Balance:     domain.MoneyFromPounds(balance),
		Rate:        domain.PercentageFromFloat(rate),
		Active:      true,
	}
}

func testProduct(id, frn string, rate float64) domain.AvailableProduct {
	return domain.AvailableProduct{
		ID:          id,
		Institution: domain.IdentifiedInstitution(frn),
		FirmName:    frn,
		Rate:        domain.PercentageFromFloat(rate),
	}
}

type stubEngine struct {
	events []rules.Event
	facts  []*rules.Fact
}

func (s *stubEngine) Evaluate(fact *rules.Fact) ([]rules.Event, error) {
	s.facts = append(s.facts, fact)
	return s.events, nil
}

// frnRejectEngine fires reject_transfer for one institution and stays
// silent for everything else.
type frnRejectEngine struct {
	frn   string
	facts []*rules.Fact
}

func (s *frnRejectEngine) Evaluate(fact *rules.Fact) ([]rules.Event, error) {
	s.facts = append(s.facts, fact)
	if frn, _ := fact.String("institution_frn"); frn == s.frn {
		return []rules.Event{{Type: rules.EventRejectTransfer, RuleID: "rule-reject"}}, nil
	}
	return nil, nil
}

func newDynamic(risk settings.RiskConfig, engine RuleEvaluator, platforms []settings.PlatformPreference) *DynamicAllocator {
	return NewDynamicAllocator(risk, nil, platforms, engine, testLedgerFactory(), testCeiling, zerolog.Nop())
}

func TestDynamic_SingleBestMove(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 20000, 1.0)},
		Products: []domain.AvailableProduct{testProduct("prod-1", "200001", 5.0)},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)

	rec := res.Recommendations[0]
	assert.Equal(t, "acc-1", rec.AccountID)
	assert.Equal(t, domain.MoneyFromPounds(20000), rec.Amount)
	assert.Equal(t, domain.PercentageFromFloat(4.0), rec.RateImprovement)
	assert.Equal(t, domain.MoneyFromPounds(800), rec.AnnualBenefit)
	assert.Equal(t, domain.DisplayOr, rec.Mode)
	assert.Equal(t, domain.PriorityLow, rec.Priority)
	assert.NotEmpty(t, rec.ID)
}

func TestDynamic_AmountShrinksToHeadroom(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	// acc-2 already holds 80000 at the target institution, leaving 5000
	// of headroom under the 85000 ceiling.
	in := Input{
		Accounts: []domain.Account{
			testAccount("acc-1", "100001", 20000, 1.0),
			testAccount("acc-2", "200001", 80000, 4.0),
		},
		Products: []domain.AvailableProduct{testProduct("prod-1", "200001", 5.0)},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, domain.MoneyFromPounds(5000), res.Recommendations[0].Amount)
	assert.Equal(t, domain.MoneyFromPounds(85000), res.Recommendations[0].Compliance.ResultingExposure)
}

func TestDynamic_PicksHighestEffectiveBenefit(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-good", "200001", 3.0),
			testProduct("prod-best", "200002", 4.0),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-best", res.Recommendations[0].ProductID)
}

func TestDynamic_TieBreaksToFirstSeenProduct(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-a", "200001", 3.0),
			testProduct("prod-b", "200002", 3.0),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-a", res.Recommendations[0].ProductID)
}

func TestDynamic_PreferredPlatformBonusFlipsChoice(t *testing.T) {
	platforms := []settings.PlatformPreference{{Platform: "raisin", Priority: 1}}
	alloc := newDynamic(testRisk(), nil, platforms)

	onPlatform := testProduct("prod-platform", "200002", 3.0)
	onPlatform.Platform = "raisin"

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-plain", "200001", 3.0),
			onPlatform,
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-platform", res.Recommendations[0].ProductID)
}

func TestDynamic_ExistingAccountBonusBeatsPlatformBonus(t *testing.T) {
	platforms := []settings.PlatformPreference{{Platform: "raisin", Priority: 1}}
	alloc := newDynamic(testRisk(), nil, platforms)

	onPlatform := testProduct("prod-platform", "200002", 3.0)
	onPlatform.Platform = "raisin"

	// The holder already banks with 200001 (easy-access on both sides),
	// so the existing-account bonus (0.1) beats the platform bonus
	// (0.05).
	in := Input{
		Accounts: []domain.Account{
			testAccount("acc-1", "100001", 10000, 1.0),
			testAccount("acc-held", "200001", 5000, 2.0),
		},
		Products: []domain.AvailableProduct{
			onPlatform,
			testProduct("prod-held-inst", "200001", 3.0),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.NotEmpty(t, res.Recommendations)
	assert.Equal(t, "prod-held-inst", res.Recommendations[0].ProductID)
}

func TestDynamic_AboveCeilingAccountGetsAndMode(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-big", "100001", 100000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-a", "200001", 5.0),
			testProduct("prod-b", "200002", 4.5),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 2)

	total := domain.NewMoney(0)
	for _, rec := range res.Recommendations {
		assert.Equal(t, domain.DisplayAnd, rec.Mode)
		total = total.Add(rec.Amount)
	}
	// 85000 to the best institution, then the 15000 remainder to the
	// second.
	assert.Equal(t, domain.MoneyFromPounds(100000), total)
	assert.Equal(t, "prod-a", res.Recommendations[0].ProductID)
	assert.Equal(t, "prod-b", res.Recommendations[1].ProductID)
}

func TestDynamic_PerAccountCap(t *testing.T) {
	risk := testRisk()
	risk.MaxRecsPerAccount = 1
	alloc := newDynamic(risk, nil, nil)

	// Product max deposits force a second move to be considered; the cap
	// stops it.
	maxDep := domain.MoneyFromPounds(5000)
	pA := testProduct("prod-a", "200001", 5.0)
	pA.MaxDeposit = &maxDep
	pB := testProduct("prod-b", "200002", 4.5)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 20000, 1.0)},
		Products: []domain.AvailableProduct{pA, pB},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	assert.Len(t, res.Recommendations, 1)
}

func TestDynamic_SkipsBelowMinimumBenefit(t *testing.T) {
	risk := testRisk()
	risk.MinAnnualBenefit = domain.MoneyFromPounds(500)
	alloc := newDynamic(risk, nil, nil)

	// 10000 x 2.0% = 200, below the 500 minimum.
	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{testProduct("prod-1", "200001", 3.0)},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	assert.Empty(t, res.Recommendations)
}

func TestDynamic_SkipsUnidentifiedProductsByDefault(t *testing.T) {
	alloc := newDynamic(testRisk(), nil, nil)

	unknown := domain.AvailableProduct{
		ID:          "prod-unknown",
		Institution: domain.UnidentifiedInstitution(),
		FirmName:    "Mystery Bank",
		Rate:        domain.PercentageFromFloat(5.0),
	}
	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{unknown},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	assert.Empty(t, res.Recommendations)
}

func TestDynamic_RuleEventsAreTelemetryOnly(t *testing.T) {
	engine := &stubEngine{events: []rules.Event{{Type: rules.EventFlagConcentration, RuleID: "rule-7"}}}
	alloc := newDynamic(testRisk(), engine, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{testProduct("prod-1", "200001", 5.0)},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	// Events are recorded but never reject the move.
	require.Len(t, res.Recommendations, 1)
	assert.NotEmpty(t, res.RuleEvents)
	assert.Equal(t, rules.EventFlagConcentration, res.RuleEvents[0].Type)
	assert.NotEmpty(t, engine.facts)
}

func TestDynamic_RejectTransferEventVetoesProduct(t *testing.T) {
	engine := &frnRejectEngine{frn: "200002"}
	alloc := newDynamic(testRisk(), engine, nil)

	// prod-best would win on rate; the rule veto pushes the move to
	// prod-good instead.
	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-good", "200001", 3.0),
			testProduct("prod-best", "200002", 4.0),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-good", res.Recommendations[0].ProductID)
	// The veto itself is not surfaced as telemetry.
	assert.Empty(t, res.RuleEvents)
}

func TestDynamic_UpgradePriorityEventPromotes(t *testing.T) {
	engine := &stubEngine{events: []rules.Event{{Type: rules.EventUpgradePriority, RuleID: "rule-upgrade"}}}
	alloc := newDynamic(testRisk(), engine, nil)

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{testProduct("prod-1", "200001", 3.0)},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	// 10000 x 2.0% = 200 would normally sit in a lower tier.
	assert.Equal(t, domain.PriorityHigh, res.Recommendations[0].Priority)
}

func TestDynamic_OneEventSetPerRecommendation(t *testing.T) {
	engine := &stubEngine{events: []rules.Event{{Type: rules.EventFlagConcentration, RuleID: "rule-7"}}}
	alloc := newDynamic(testRisk(), engine, nil)

	// Two iterations, each scanning both products: only the committed
	// candidate's events surface, once per recommendation.
	in := Input{
		Accounts: []domain.Account{testAccount("acc-big", "100001", 100000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-a", "200001", 5.0),
			testProduct("prod-b", "200002", 4.5),
		},
	}

	res, err := alloc.Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 2)
	assert.Len(t, res.RuleEvents, 2)
	// Every considered pairing is still evaluated.
	assert.Greater(t, len(engine.facts), 2)
}

func TestDynamic_PlatformBonusRespectsRateTolerance(t *testing.T) {
	onPlatform := testProduct("prod-platform", "200002", 2.98)
	onPlatform.Platform = "raisin"

	in := Input{
		Accounts: []domain.Account{testAccount("acc-1", "100001", 10000, 1.0)},
		Products: []domain.AvailableProduct{
			testProduct("prod-plain", "200001", 3.0),
			onPlatform,
		},
	}

	// Within tolerance: the 0.05 bonus outweighs the 0.02 rate gap.
	within := []settings.PlatformPreference{{Platform: "raisin", Priority: 1, RateTolerance: domain.PercentageFromFloat(0.1)}}
	res, err := newDynamic(testRisk(), nil, within).Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-platform", res.Recommendations[0].ProductID)

	// Outside tolerance: the bonus is withheld and the market rate wins.
	outside := []settings.PlatformPreference{{Platform: "raisin", Priority: 1, RateTolerance: domain.PercentageFromFloat(0.01)}}
	res, err = newDynamic(testRisk(), nil, outside).Allocate(in)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "prod-plain", res.Recommendations[0].ProductID)
}

func TestDynamic_DeterministicAcrossRuns(t *testing.T) {
	in := Input{
		Accounts: []domain.Account{
			testAccount("acc-1", "100001", 30000, 1.0),
			testAccount("acc-2", "100002", 60000, 2.0),
		},
		Products: []domain.AvailableProduct{
			testProduct("prod-a", "200001", 4.8),
			testProduct("prod-b", "200002", 4.5),
			testProduct("prod-c", "200003", 4.1),
		},
	}

	first, err := newDynamic(testRisk(), nil, nil).Allocate(in)
	require.NoError(t, err)
	second, err := newDynamic(testRisk(), nil, nil).Allocate(in)
	require.NoError(t, err)

	require.Equal(t, len(first.Recommendations), len(second.Recommendations))
	for i := range first.Recommendations {
		assert.Equal(t, first.Recommendations[i].ProductID, second.Recommendations[i].ProductID)
		assert.Equal(t, first.Recommendations[i].AccountID, second.Recommendations[i].AccountID)
		assert.Equal(t, first.Recommendations[i].Amount, second.Recommendations[i].Amount)
	}
}
