package planning

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// Recommendation lifecycle statuses. Rows are insert-only: a run never
// updates or deletes what an earlier run emitted.
const (
	StatusPending   = "pending"
	StatusExecuted  = "executed"
	StatusDismissed = "dismissed"
)

// StoredRecommendation is a persisted recommendation with its
// lifecycle status.
type StoredRecommendation struct {
	domain.Recommendation
	Status string
}

// RecommendationRepository persists run output to the cache database.
type RecommendationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecommendationRepository creates a recommendation repository.
func NewRecommendationRepository(db *sql.DB, log zerolog.Logger) *RecommendationRepository {
	return &RecommendationRepository{
		db:  db,
		log: log.With().Str("repository", "recommendations").Logger(),
	}
}

// SaveAll inserts a run's recommendations in one transaction. All or
// nothing: a failed insert rolls the whole batch back.
func (r *RecommendationRepository) SaveAll(recs []domain.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO recommendations (
			uuid, account_id, account_name, amount, current_rate,
			institution_frn, firm_name, product_id, target_rate,
			rate_improvement, annual_benefit, resulting_exposure,
			resulting_status, frn_missing, priority, display_mode,
			notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		var frn interface{}
		if f, ok := rec.Institution.FRN(); ok {
			frn = f
		}
		_, err := stmt.Exec(
			rec.ID, rec.AccountID, rec.AccountName, rec.Amount.Pounds(), rec.CurrentRate.Float(),
			frn, rec.FirmName, rec.ProductID, rec.TargetRate.Float(),
			rec.RateImprovement.Float(), rec.AnnualBenefit.Pounds(), rec.Compliance.ResultingExposure.Pounds(),
			rec.Compliance.ResultingStatus, rec.Compliance.FRNMissing, string(rec.Priority), string(rec.Mode),
			rec.Notes, rec.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("inserting recommendation %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing recommendations: %w", err)
	}

	r.log.Debug().Int("count", len(recs)).Msg("recommendations stored")
	return nil
}

// List returns stored recommendations, newest first, optionally
// filtered by status. An empty status returns everything.
func (r *RecommendationRepository) List(status string) ([]StoredRecommendation, error) {
	query := `
		SELECT uuid, account_id, account_name, amount, current_rate,
		       institution_frn, firm_name, product_id, target_rate,
		       rate_improvement, annual_benefit, resulting_exposure,
		       resulting_status, frn_missing, priority, display_mode,
		       notes, status, created_at
		FROM recommendations`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, uuid ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var out []StoredRecommendation
	for rows.Next() {
		var (
			rec        StoredRecommendation
			amount     float64
			current    float64
			frn        sql.NullString
			target     float64
			improv     float64
			benefit    float64
			exposure   float64
			createdAt  int64
			frnMissing bool
		)
		err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.AccountName, &amount, &current,
			&frn, &rec.FirmName, &rec.ProductID, &target,
			&improv, &benefit, &exposure,
			&rec.Compliance.ResultingStatus, &frnMissing, &rec.Priority, &rec.Mode,
			&rec.Notes, &rec.Status, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning recommendation: %w", err)
		}

		if frn.Valid {
			rec.Institution = domain.IdentifiedInstitution(frn.String)
		} else {
			rec.Institution = domain.UnidentifiedInstitution()
		}
		rec.Amount = domain.MoneyFromPounds(amount)
		rec.CurrentRate = domain.PercentageFromFloat(current)
		rec.TargetRate = domain.PercentageFromFloat(target)
		rec.RateImprovement = domain.PercentageFromFloat(improv)
		rec.AnnualBenefit = domain.MoneyFromPounds(benefit)
		rec.Compliance.ResultingExposure = domain.MoneyFromPounds(exposure)
		rec.Compliance.FRNMissing = frnMissing
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()

		out = append(out, rec)
	}
	return out, rows.Err()
}
