package portfolio

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfpersonal/cash-management/internal/domain"
)

func setupTestPortfolioDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			institution_frn TEXT,
			name TEXT NOT NULL,
			balance REAL NOT NULL,
			rate REAL NOT NULL,
			liquidity TEXT NOT NULL DEFAULT 'EASY_ACCESS',
			is_joint INTEGER NOT NULL DEFAULT 0,
			holder_count INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE pending_deposits (
			id TEXT PRIMARY KEY,
			institution_frn TEXT,
			name TEXT NOT NULL,
			balance REAL NOT NULL,
			rate REAL NOT NULL,
			liquidity TEXT NOT NULL DEFAULT 'EASY_ACCESS',
			is_joint INTEGER NOT NULL DEFAULT 0,
			holder_count INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'PENDING',
			expected_funding INTEGER,
			updated_at INTEGER NOT NULL DEFAULT 0
		);
	`)
	require.NoError(t, err)

	return db
}

func TestGetActiveAccounts(t *testing.T) {
	db := setupTestPortfolioDB(t)
	_, err := db.Exec(`
		INSERT INTO accounts (id, institution_frn, name, balance, rate, liquidity, is_joint, holder_count, is_active) VALUES
			('a1', '100001', 'Bank X Saver', 50000, 4.1, 'EASY_ACCESS', 0, 1, 1),
			('a2', NULL, 'Mystery Bank', 90000, 2.0, 'FIXED_TERM', 1, 2, 1),
			('a3', '100002', 'Closed Account', 100, 1.0, 'EASY_ACCESS', 0, 1, 0)
	`)
	require.NoError(t, err)

	repo := NewRepository(db, zerolog.Nop())
	accounts, err := repo.GetActiveAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	// Ordered by balance descending
	assert.Equal(t, "a2", accounts[0].ID)
	assert.False(t, accounts[0].Institution.IsIdentified())
	assert.True(t, accounts[0].Joint)
	assert.Equal(t, 2, accounts[0].HolderCount)
	assert.Equal(t, domain.LiquidityFixedTerm, accounts[0].Liquidity)

	assert.Equal(t, "a1", accounts[1].ID)
	assert.True(t, accounts[1].Institution.IsIdentified())
	assert.Equal(t, domain.MoneyFromPounds(50000), accounts[1].Balance)
	assert.Equal(t, domain.PercentageFromFloat(4.1), accounts[1].Rate)
}

func TestGetPendingDeposits(t *testing.T) {
	db := setupTestPortfolioDB(t)
	_, err := db.Exec(`
		INSERT INTO pending_deposits (id, institution_frn, name, balance, rate, status, expected_funding) VALUES
			('p1', '100001', 'Bank X New', 20000, 4.5, 'APPROVED', 1756425600),
			('p2', '100002', 'Bank Y New', 10000, 4.0, 'PENDING', NULL),
			('p3', '100003', 'Abandoned', 5000, 3.0, 'CANCELLED', NULL)
	`)
	require.NoError(t, err)

	repo := NewRepository(db, zerolog.Nop())
	deposits, err := repo.GetPendingDeposits()
	require.NoError(t, err)
	require.Len(t, deposits, 2)

	assert.Equal(t, "p1", deposits[0].ID)
	assert.Equal(t, domain.DepositApproved, deposits[0].Status)
	require.NotNil(t, deposits[0].ExpectedFunding)

	assert.Equal(t, "p2", deposits[1].ID)
	assert.Nil(t, deposits[1].ExpectedFunding)
}
