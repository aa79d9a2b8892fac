package planning

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/events"
	"github.com/dfpersonal/cash-management/internal/modules/portfolio"
	"github.com/dfpersonal/cash-management/internal/modules/products"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
	"github.com/dfpersonal/cash-management/internal/modules/snapshots"
)

type testEnv struct {
	configDB    *sql.DB
	portfolioDB *sql.DB
	cacheDB     *sql.DB
	bus         *events.Bus
	service     *Service
}

func openMemoryDB(t *testing.T, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	configDB := openMemoryDB(t, `
		CREATE TABLE settings (
			key TEXT PRIMARY KEY, value TEXT NOT NULL,
			description TEXT, updated_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE institution_preferences (
			institution_frn TEXT PRIMARY KEY, personal_limit REAL NOT NULL,
			easy_access_required INTEGER NOT NULL DEFAULT 0,
			trust_level TEXT NOT NULL DEFAULT 'STANDARD',
			risk_notes TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE restricted_institutions (
			institution_frn TEXT PRIMARY KEY, reason TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE preferred_platforms (
			platform TEXT PRIMARY KEY, priority INTEGER NOT NULL DEFAULT 0,
			rate_tolerance REAL NOT NULL DEFAULT 0.0
		);
		CREATE TABLE product_exclusions (
			product_id TEXT PRIMARY KEY, reason TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE rule_definitions (
			id TEXT PRIMARY KEY, name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1, priority INTEGER NOT NULL DEFAULT 0,
			conditions TEXT NOT NULL, event_type TEXT NOT NULL,
			event_params TEXT NOT NULL DEFAULT '{}', updated_at INTEGER NOT NULL DEFAULT 0
		);`)

	portfolioDB := openMemoryDB(t, `
		CREATE TABLE accounts (
			id TEXT PRIMARY KEY, institution_frn TEXT, name TEXT NOT NULL,
			balance REAL NOT NULL, rate REAL NOT NULL,
			liquidity TEXT NOT NULL DEFAULT 'EASY_ACCESS',
			is_joint INTEGER NOT NULL DEFAULT 0, holder_count INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1, updated_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE pending_deposits (
			id TEXT PRIMARY KEY, institution_frn TEXT, name TEXT NOT NULL,
			balance REAL NOT NULL, rate REAL NOT NULL,
			liquidity TEXT NOT NULL DEFAULT 'EASY_ACCESS',
			is_joint INTEGER NOT NULL DEFAULT 0, holder_count INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1, status TEXT NOT NULL DEFAULT 'PENDING',
			expected_funding INTEGER, updated_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE available_products (
			id TEXT PRIMARY KEY, institution_frn TEXT, firm_name TEXT NOT NULL,
			rate REAL NOT NULL, min_deposit REAL, max_deposit REAL,
			liquidity TEXT NOT NULL DEFAULT 'EASY_ACCESS',
			confidence REAL NOT NULL DEFAULT 1.0,
			platform TEXT NOT NULL DEFAULT 'direct', updated_at INTEGER NOT NULL DEFAULT 0
		);`)

	cacheDB := openMemoryDB(t, `
		CREATE TABLE recommendations (
			uuid TEXT PRIMARY KEY, account_id TEXT NOT NULL, account_name TEXT NOT NULL,
			amount REAL NOT NULL, current_rate REAL NOT NULL, institution_frn TEXT,
			firm_name TEXT NOT NULL, product_id TEXT NOT NULL, target_rate REAL NOT NULL,
			rate_improvement REAL NOT NULL, annual_benefit REAL NOT NULL,
			resulting_exposure REAL NOT NULL, resulting_status TEXT NOT NULL,
			frn_missing INTEGER NOT NULL DEFAULT 0, priority TEXT NOT NULL,
			display_mode TEXT NOT NULL, notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending', created_at INTEGER NOT NULL
		);
		CREATE TABLE run_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL,
			mode TEXT NOT NULL, payload BLOB NOT NULL, created_at INTEGER NOT NULL
		);`)

	log := zerolog.Nop()
	bus := events.NewBus(log)
	settingsRepo := settings.NewRepository(configDB, log)
	service := NewService(
		settingsRepo,
		settings.NewPreferenceRepository(configDB, log),
		rules.NewRepository(configDB, log),
		portfolio.NewRepository(portfolioDB, log),
		products.NewRepository(portfolioDB, log),
		NewRecommendationRepository(cacheDB, log),
		snapshots.NewStore(cacheDB, log),
		bus,
		log,
	)

	seedSettings(t, configDB)
	return &testEnv{
		configDB:    configDB,
		portfolioDB: portfolioDB,
		cacheDB:     cacheDB,
		bus:         bus,
		service:     service,
	}
}

func seedSettings(t *testing.T, db *sql.DB) {
	t.Helper()
	for key, value := range map[string]string{
		settings.KeyStandardCeiling:  "85000",
		settings.KeyMinMoveAmount:    "1000",
		settings.KeyMinAnnualBenefit: "50",
		settings.KeyMaxTransferSize:  "50000",
	} {
		_, err := db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, key, value)
		require.NoError(t, err)
	}
}

func (e *testEnv) addAccount(t *testing.T, id, frn string, balance, rate float64) {
	t.Helper()
	_, err := e.portfolioDB.Exec(
		`INSERT INTO accounts (id, institution_frn, name, balance, rate) VALUES (?, ?, ?, ?, ?)`,
		id, frn, id, balance, rate,
	)
	require.NoError(t, err)
}

func (e *testEnv) addProduct(t *testing.T, id, frn, firm string, rate float64) {
	t.Helper()
	_, err := e.portfolioDB.Exec(
		`INSERT INTO available_products (id, institution_frn, firm_name, rate) VALUES (?, ?, ?, ?)`,
		id, frn, firm, rate,
	)
	require.NoError(t, err)
}

func TestRun_DynamicEndToEnd(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 20000, 1.0)
	env.addProduct(t, "prod-1", "200001", "Target Bank", 5.0)

	result, err := env.service.Run("dynamic")
	require.NoError(t, err)

	require.Len(t, result.Recommendations, 1)
	rec := result.Recommendations[0]
	assert.Equal(t, domain.MoneyFromPounds(20000), rec.Amount)
	assert.Equal(t, "Target Bank", rec.FirmName)
	assert.Equal(t, "COMPLIANT", rec.Compliance.ResultingStatus)
	assert.Equal(t, domain.MoneyFromPounds(20000), rec.Compliance.ResultingExposure)

	// Persisted to the cache database.
	stored, err := NewRecommendationRepository(env.cacheDB, zerolog.Nop()).List(StatusPending)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)

	// Snapshot written with the run's catalogue and ledger.
	snap, err := snapshots.NewStore(env.cacheDB, zerolog.Nop()).Latest()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, result.RunID, snap.RunID)
	assert.Equal(t, "dynamic", snap.Mode)
	assert.Len(t, snap.Recommendations, 1)

	// Groups and summary derived.
	require.Len(t, result.Groups, 1)
	assert.Equal(t, domain.MoneyFromPounds(20000), result.Groups[0].TotalAmount)
	assert.Equal(t, 1, result.Summary.AccountCount)
	assert.Equal(t, domain.MoneyFromPounds(20000), result.Summary.TotalBalance)
	// All funds move from 1% to 5%.
	assert.Equal(t, domain.PercentageFromFloat(5.0), result.Summary.ProjectedAvgRate)
	assert.NotNil(t, result.Compliance)
}

func TestRun_SinglePassEndToEnd(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 20000, 1.0)
	env.addProduct(t, "prod-1", "200001", "Target Bank", 5.0)

	result, err := env.service.Run("single-pass")
	require.NoError(t, err)

	require.Len(t, result.Recommendations, 1)
	// Discovery sizing: 80% of the balance.
	assert.Equal(t, domain.MoneyFromPounds(16000), result.Recommendations[0].Amount)
	assert.Equal(t, "COMPLIANT", result.Recommendations[0].Compliance.ResultingStatus)
}

func TestRun_UnknownStrategy(t *testing.T) {
	env := setupEnv(t)

	_, err := env.service.Run("simulated-annealing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown allocation strategy")
}

func TestRun_FailsWithoutRequiredConfig(t *testing.T) {
	env := setupEnv(t)
	_, err := env.configDB.Exec(`DELETE FROM settings WHERE key = ?`, settings.KeyStandardCeiling)
	require.NoError(t, err)

	_, err = env.service.Run("dynamic")
	require.Error(t, err)

	var cfgErr *settings.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, settings.KeyStandardCeiling, cfgErr.Key)
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 20000, 1.0)
	env.addProduct(t, "prod-1", "200001", "Target Bank", 5.0)

	ch, cancel := env.bus.Subscribe()
	defer cancel()

	_, err := env.service.Run("dynamic")
	require.NoError(t, err)

	seen := map[events.EventType]bool{}
	for len(ch) > 0 {
		seen[(<-ch).Type] = true
	}
	assert.True(t, seen[events.RunStarted])
	assert.True(t, seen[events.RecommendationsReady])
	assert.True(t, seen[events.RunCompleted])
}

func TestRun_PublishesBreachEvents(t *testing.T) {
	env := setupEnv(t)
	// 100000 at one institution breaches the 85000 ceiling.
	env.addAccount(t, "acc-over", "100001", 100000, 1.0)

	ch, cancel := env.bus.Subscribe(events.BreachDetected)
	defer cancel()

	result, err := env.service.Run("dynamic")
	require.NoError(t, err)
	require.NotEmpty(t, result.Compliance.Breaches)

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, "100001", ev.Data["institution"])
}

func TestRun_ProductExclusionsApplied(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 20000, 1.0)
	env.addProduct(t, "prod-1", "200001", "Target Bank", 5.0)
	_, err := env.configDB.Exec(`INSERT INTO product_exclusions (product_id, reason) VALUES ('prod-1', 'poor service')`)
	require.NoError(t, err)

	result, err := env.service.Run("dynamic")
	require.NoError(t, err)
	assert.Empty(t, result.Recommendations)
}

func TestRun_RuleEventsSurfaced(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 20000, 1.0)
	env.addProduct(t, "prod-1", "200001", "Target Bank", 5.0)

	conditions := `{"fact": "transfer_amount", "operator": "money_greater_than", "value": "{min_move_amount}"}`
	_, err := env.configDB.Exec(
		`INSERT INTO rule_definitions (id, name, conditions, event_type) VALUES ('r1', 'large transfer', ?, ?)`,
		conditions, rules.EventFlagConcentration,
	)
	require.NoError(t, err)

	result, err := env.service.Run("dynamic")
	require.NoError(t, err)
	require.NotEmpty(t, result.RuleEvents)
	assert.Equal(t, rules.EventFlagConcentration, result.RuleEvents[0].Type)
}

func TestComplianceReport_ReadOnly(t *testing.T) {
	env := setupEnv(t)
	env.addAccount(t, "acc-1", "100001", 90000, 1.0)

	report, err := env.service.ComplianceReport(true)
	require.NoError(t, err)
	require.Len(t, report.Institutions, 1)
	assert.NotEmpty(t, report.Breaches)

	// The audit persists nothing.
	var n int
	require.NoError(t, env.cacheDB.QueryRow(`SELECT COUNT(*) FROM recommendations`).Scan(&n))
	assert.Zero(t, n)
}

func TestRun_MultipleAccountsRemainDeterministic(t *testing.T) {
	env := setupEnv(t)
	for i := 1; i <= 3; i++ {
		env.addAccount(t, fmt.Sprintf("acc-%d", i), fmt.Sprintf("10000%d", i), 25000, 1.5)
	}
	env.addProduct(t, "prod-a", "200001", "Bank A", 4.8)
	env.addProduct(t, "prod-b", "200002", "Bank B", 4.5)

	first, err := env.service.Run("dynamic")
	require.NoError(t, err)
	second, err := env.service.Run("dynamic")
	require.NoError(t, err)

	require.Equal(t, len(first.Recommendations), len(second.Recommendations))
	for i := range first.Recommendations {
		assert.Equal(t, first.Recommendations[i].AccountID, second.Recommendations[i].AccountID)
		assert.Equal(t, first.Recommendations[i].ProductID, second.Recommendations[i].ProductID)
		assert.Equal(t, first.Recommendations[i].Amount, second.Recommendations[i].Amount)
	}
}
