package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository loads rule definitions from the rule_definitions table in
// config.db.
type Repository struct {
	db  *sql.DB // config.db
	log zerolog.Logger
}

// NewRepository creates a new rule definition repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "rules").Logger(),
	}
}

// GetEnabled retrieves all enabled rule definitions ordered by priority
// descending. A malformed condition tree or parameter blob fails the
// load: a rule the engine cannot parse must not be silently skipped.
func (r *Repository) GetEnabled() ([]Definition, error) {
	rows, err := r.db.Query(`
		SELECT id, name, priority, conditions, event_type, event_params
		FROM rule_definitions
		WHERE enabled = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule definitions: %w", err)
	}
	defer rows.Close()

	var definitions []Definition
	for rows.Next() {
		var def Definition
		var conditionsJSON, paramsJSON string
		if err := rows.Scan(&def.ID, &def.Name, &def.Priority, &conditionsJSON, &def.EventType, &paramsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rule definition: %w", err)
		}
		def.Enabled = true

		if err := json.Unmarshal([]byte(conditionsJSON), &def.Conditions); err != nil {
			return nil, fmt.Errorf("rule %s has malformed conditions: %w", def.ID, err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &def.EventParams); err != nil {
			return nil, fmt.Errorf("rule %s has malformed event params: %w", def.ID, err)
		}

		definitions = append(definitions, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule definitions: %w", err)
	}

	return definitions, nil
}
