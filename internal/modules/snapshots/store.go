package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/ledger"
)

// Snapshot is the audit record of one optimization run: the inputs it
// saw and the ledger state it left behind. Encoded with msgpack; money
// is stored in pence and rates in basis points so the payload survives
// round-trips exactly.
type Snapshot struct {
	RunID       string    `msgpack:"run_id" json:"run_id"`
	Mode        string    `msgpack:"mode" json:"mode"`
	GeneratedAt time.Time `msgpack:"generated_at" json:"generated_at"`

	AccountCount int `msgpack:"account_count" json:"account_count"`
	ProductCount int `msgpack:"product_count" json:"product_count"`

	Catalogue       []Product     `msgpack:"catalogue" json:"catalogue"`
	Ledger          []Institution `msgpack:"ledger" json:"ledger"`
	Recommendations []Movement    `msgpack:"recommendations" json:"recommendations"`
}

// Product is one catalogue entry as the run saw it, post-deduplication.
type Product struct {
	ID       string `msgpack:"id" json:"id"`
	FRN      string `msgpack:"frn,omitempty" json:"frn,omitempty"`
	FirmName string `msgpack:"firm_name" json:"firm_name"`
	RateBps  int64  `msgpack:"rate_bps" json:"rate_bps"`
	Platform string `msgpack:"platform,omitempty" json:"platform,omitempty"`
}

// Institution is one ledger record at run end.
type Institution struct {
	FRN           string   `msgpack:"frn" json:"frn"`
	FirmNames     []string `msgpack:"firm_names" json:"firm_names"`
	StartingPence int64    `msgpack:"starting_pence" json:"starting_pence"`
	ReservedPence int64    `msgpack:"reserved_pence" json:"reserved_pence"`
	CeilingPence  int64    `msgpack:"ceiling_pence" json:"ceiling_pence"`
}

// Movement is one advised transfer.
type Movement struct {
	RecommendationID string `msgpack:"recommendation_id" json:"recommendation_id"`
	AccountID        string `msgpack:"account_id" json:"account_id"`
	ProductID        string `msgpack:"product_id" json:"product_id"`
	AmountPence      int64  `msgpack:"amount_pence" json:"amount_pence"`
	BenefitPence     int64  `msgpack:"benefit_pence" json:"benefit_pence"`
	Mode             string `msgpack:"mode" json:"mode"`
}

// Build assembles a snapshot from a run's inputs and outputs.
func Build(runID, mode string, generatedAt time.Time, accountCount int, catalogue []domain.AvailableProduct, records []ledger.Record, recs []domain.Recommendation) *Snapshot {
	snap := &Snapshot{
		RunID:        runID,
		Mode:         mode,
		GeneratedAt:  generatedAt,
		AccountCount: accountCount,
		ProductCount: len(catalogue),
	}

	for _, p := range catalogue {
		entry := Product{
			ID:       p.ID,
			FirmName: p.FirmName,
			RateBps:  p.Rate.BasisPoints(),
			Platform: p.Platform,
		}
		if frn, ok := p.Institution.FRN(); ok {
			entry.FRN = frn
		}
		snap.Catalogue = append(snap.Catalogue, entry)
	}

	for _, r := range records {
		frn, ok := r.Institution.FRN()
		if !ok {
			continue
		}
		snap.Ledger = append(snap.Ledger, Institution{
			FRN:           frn,
			FirmNames:     r.FirmNames,
			StartingPence: r.StartingExposure.Pence(),
			ReservedPence: r.Reserved.Pence(),
			CeilingPence:  r.Ceiling.Pence(),
		})
	}

	for _, rec := range recs {
		snap.Recommendations = append(snap.Recommendations, Movement{
			RecommendationID: rec.ID,
			AccountID:        rec.AccountID,
			ProductID:        rec.ProductID,
			AmountPence:      rec.Amount.Pence(),
			BenefitPence:     rec.AnnualBenefit.Pence(),
			Mode:             string(rec.Mode),
		})
	}
	return snap
}

// Store persists run snapshots to the cache database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a snapshot store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repository", "snapshots").Logger(),
	}
}

// Save encodes and inserts a snapshot.
func (s *Store) Save(snap *Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO run_snapshots (run_id, mode, payload, created_at) VALUES (?, ?, ?, ?)`,
		snap.RunID, snap.Mode, payload, snap.GeneratedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	s.log.Debug().Str("run_id", snap.RunID).Int("payload_bytes", len(payload)).Msg("snapshot stored")
	return nil
}

// Latest returns the most recent snapshot, or nil when none exist.
func (s *Store) Latest() (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM run_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}
