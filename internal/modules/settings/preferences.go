package settings

import (
	"database/sql"
	"fmt"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/rs/zerolog"
)

// PreferenceRepository reads the per-institution preference rows and the
// restricted/preferred/excluded registries from config.db. All of it is
// read-only reference data from the engine's point of view.
type PreferenceRepository struct {
	db  *sql.DB // config.db
	log zerolog.Logger
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(db *sql.DB, log zerolog.Logger) *PreferenceRepository {
	return &PreferenceRepository{
		db:  db,
		log: log.With().Str("repository", "preferences").Logger(),
	}
}

// GetAll retrieves all institution preferences keyed by FRN.
func (r *PreferenceRepository) GetAll() (map[string]domain.InstitutionPreference, error) {
	rows, err := r.db.Query(`
		SELECT institution_frn, personal_limit, easy_access_required, trust_level, risk_notes
		FROM institution_preferences
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query institution preferences: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.InstitutionPreference)
	for rows.Next() {
		var frn, trust, notes string
		var limit float64
		var easyAccess bool
		if err := rows.Scan(&frn, &limit, &easyAccess, &trust, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan institution preference: %w", err)
		}
		result[frn] = domain.InstitutionPreference{
			Institution:        domain.IdentifiedInstitution(frn),
			PersonalLimit:      domain.MoneyFromPounds(limit),
			EasyAccessRequired: easyAccess,
			Trust:              domain.TrustLevel(trust),
			RiskNotes:          notes,
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating institution preferences: %w", err)
	}

	return result, nil
}

// RestrictedInstitutions retrieves the restricted-institution registry
// (e.g. faith-based exclusions) as a set of FRNs.
func (r *PreferenceRepository) RestrictedInstitutions() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT institution_frn FROM restricted_institutions")
	if err != nil {
		return nil, fmt.Errorf("failed to query restricted institutions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var frn string
		if err := rows.Scan(&frn); err != nil {
			return nil, fmt.Errorf("failed to scan restricted institution: %w", err)
		}
		result[frn] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating restricted institutions: %w", err)
	}

	return result, nil
}

// PreferredPlatforms retrieves the preferred-platform priority list,
// highest priority first.
func (r *PreferenceRepository) PreferredPlatforms() ([]PlatformPreference, error) {
	rows, err := r.db.Query(`
		SELECT platform, priority, rate_tolerance
		FROM preferred_platforms
		ORDER BY priority DESC, platform ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferred platforms: %w", err)
	}
	defer rows.Close()

	var result []PlatformPreference
	for rows.Next() {
		var p PlatformPreference
		var tolerance float64
		if err := rows.Scan(&p.Platform, &p.Priority, &tolerance); err != nil {
			return nil, fmt.Errorf("failed to scan preferred platform: %w", err)
		}
		p.RateTolerance = domain.PercentageFromFloat(tolerance)
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferred platforms: %w", err)
	}

	return result, nil
}

// ProductExclusions retrieves the explicit product-exclusion list as a
// set of product IDs.
func (r *PreferenceRepository) ProductExclusions() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT product_id FROM product_exclusions")
	if err != nil {
		return nil, fmt.Errorf("failed to query product exclusions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product exclusion: %w", err)
		}
		result[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product exclusions: %w", err)
	}

	return result, nil
}
