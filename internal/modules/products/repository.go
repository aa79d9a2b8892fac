// Package products provides read access to the external rate catalogue
// and the per-institution deduplication the protection rules require.
package products

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// Repository reads available products from portfolio.db.
type Repository struct {
	db  *sql.DB // portfolio.db
	log zerolog.Logger
}

// NewRepository creates a new product catalogue repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "products").Logger(),
	}
}

// GetAll retrieves the full catalogue ordered by rate descending then
// ID, so repeated runs see an identical snapshot order.
func (r *Repository) GetAll() ([]domain.AvailableProduct, error) {
	rows, err := r.db.Query(`
		SELECT id, institution_frn, firm_name, rate, min_deposit, max_deposit,
		       liquidity, confidence, platform
		FROM available_products
		ORDER BY rate DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query available products: %w", err)
	}
	defer rows.Close()

	var result []domain.AvailableProduct
	for rows.Next() {
		var (
			id, firmName, liquidity, platform string
			frn                               sql.NullString
			rate, confidence                  float64
			minDeposit, maxDeposit            sql.NullFloat64
		)
		if err := rows.Scan(&id, &frn, &firmName, &rate, &minDeposit, &maxDeposit, &liquidity, &confidence, &platform); err != nil {
			return nil, fmt.Errorf("failed to scan available product: %w", err)
		}

		product := domain.AvailableProduct{
			ID:         id,
			FirmName:   firmName,
			Rate:       domain.PercentageFromFloat(rate),
			Liquidity:  domain.LiquidityClass(liquidity),
			Confidence: confidence,
			Platform:   platform,
		}
		if frn.Valid && frn.String != "" {
			product.Institution = domain.IdentifiedInstitution(frn.String)
		} else {
			product.Institution = domain.UnidentifiedInstitution()
		}
		if minDeposit.Valid {
			m := domain.MoneyFromPounds(minDeposit.Float64)
			product.MinDeposit = &m
		}
		if maxDeposit.Valid {
			m := domain.MoneyFromPounds(maxDeposit.Float64)
			product.MaxDeposit = &m
		}

		result = append(result, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating available products: %w", err)
	}

	r.log.Debug().Int("count", len(result)).Msg("Loaded product catalogue")
	return result, nil
}
