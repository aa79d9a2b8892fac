package planning

import (
	"time"

	"github.com/dfpersonal/cash-management/internal/domain"
	"github.com/dfpersonal/cash-management/internal/modules/compliance"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
)

// Group is one source account's recommendations with its display mode:
// OR groups are mutually exclusive alternatives, AND groups are
// required diversification plans to execute in full.
type Group struct {
	AccountID       string                  `json:"account_id"`
	AccountName     string                  `json:"account_name"`
	Mode            domain.DisplayMode      `json:"display_mode"`
	Recommendations []domain.Recommendation `json:"recommendations"`
	TotalAmount     domain.Money            `json:"total_amount"`
	TotalBenefit    domain.Money            `json:"total_benefit"`
}

// PortfolioSummary aggregates the run's view of the portfolio before
// and after the advised movements.
type PortfolioSummary struct {
	AccountCount       int               `json:"account_count"`
	TotalBalance       domain.Money      `json:"total_balance"`
	WeightedAvgRate    domain.Percentage `json:"weighted_avg_rate"`
	ProjectedAvgRate   domain.Percentage `json:"projected_avg_rate"` // weighted average if every recommendation executes
	TotalAnnualBenefit domain.Money      `json:"total_annual_benefit"`
}

// RunResult is everything one optimization run produced.
type RunResult struct {
	RunID           string                   `json:"run_id"`
	Mode            string                   `json:"mode"`
	GeneratedAt     time.Time                `json:"generated_at"`
	Duration        time.Duration            `json:"-"`
	DurationMS      int64                    `json:"duration_ms"`
	Recommendations []domain.Recommendation  `json:"recommendations"`
	Groups          []Group                  `json:"groups"`
	Alerts          []domain.MissingFRNAlert `json:"alerts"`
	RuleEvents      []rules.Event            `json:"rule_events,omitempty"`
	Summary         PortfolioSummary         `json:"summary"`
	Compliance      *compliance.Report       `json:"compliance"`
}
