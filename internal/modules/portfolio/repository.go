// Package portfolio provides read access to the holder's accounts and
// pending deposits. Accounts are loaded read-only per optimization run:
// the engine never mutates them, and the allocator tracks remaining
// balances externally, keyed by account ID.
package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// Repository reads accounts and pending deposits from portfolio.db.
type Repository struct {
	db  *sql.DB // portfolio.db
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// GetActiveAccounts retrieves all active accounts ordered by balance
// descending then ID, so repeated runs see an identical snapshot order.
func (r *Repository) GetActiveAccounts() ([]domain.Account, error) {
	rows, err := r.db.Query(`
		SELECT id, institution_frn, name, balance, rate, liquidity, is_joint, holder_count
		FROM accounts
		WHERE is_active = 1
		ORDER BY balance DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	r.log.Debug().Int("count", len(accounts)).Msg("Loaded active accounts")
	return accounts, nil
}

// GetPendingDeposits retrieves all non-cancelled pending deposits.
func (r *Repository) GetPendingDeposits() ([]domain.PendingDeposit, error) {
	rows, err := r.db.Query(`
		SELECT id, institution_frn, name, balance, rate, liquidity, is_joint, holder_count,
		       status, expected_funding
		FROM pending_deposits
		WHERE status != ?
		ORDER BY balance DESC, id ASC
	`, string(domain.DepositCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deposits: %w", err)
	}
	defer rows.Close()

	var deposits []domain.PendingDeposit
	for rows.Next() {
		var (
			id, name, liquidity, status string
			frn                         sql.NullString
			balance, rate               float64
			joint                       bool
			holderCount                 int
			expectedFunding             sql.NullInt64
		)
		if err := rows.Scan(&id, &frn, &name, &balance, &rate, &liquidity, &joint, &holderCount, &status, &expectedFunding); err != nil {
			return nil, fmt.Errorf("failed to scan pending deposit: %w", err)
		}

		deposit := domain.PendingDeposit{
			Account: domain.Account{
				ID:          id,
				Institution: institutionFrom(frn),
				Name:        name,
				Balance:     domain.MoneyFromPounds(balance),
				Rate:        domain.PercentageFromFloat(rate),
				Liquidity:   domain.LiquidityClass(liquidity),
				Joint:       joint,
				HolderCount: holderCount,
				Active:      true,
			},
			Status: domain.DepositStatus(status),
		}
		if expectedFunding.Valid {
			funding := time.Unix(expectedFunding.Int64, 0)
			deposit.ExpectedFunding = &funding
		}

		deposits = append(deposits, deposit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending deposits: %w", err)
	}

	return deposits, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		id, name, liquidity string
		frn                 sql.NullString
		balance, rate       float64
		joint               bool
		holderCount         int
	)
	if err := row.Scan(&id, &frn, &name, &balance, &rate, &liquidity, &joint, &holderCount); err != nil {
		return domain.Account{}, fmt.Errorf("failed to scan account: %w", err)
	}

	return domain.Account{
		ID:          id,
		Institution: institutionFrom(frn),
		Name:        name,
		Balance:     domain.MoneyFromPounds(balance),
		Rate:        domain.PercentageFromFloat(rate),
		Liquidity:   domain.LiquidityClass(liquidity),
		Joint:       joint,
		HolderCount: holderCount,
		Active:      true,
	}, nil
}

func institutionFrom(frn sql.NullString) domain.InstitutionID {
	if frn.Valid && frn.String != "" {
		return domain.IdentifiedInstitution(frn.String)
	}
	return domain.UnidentifiedInstitution()
}
