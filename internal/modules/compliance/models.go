// Package compliance provides the protection-limit calculator: an
// independent read path over the portfolio that audits per-institution
// exposure against effective protection ceilings.
package compliance

import (
	"time"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// Status classifies an institution's exposure relative to its effective
// ceiling.
type Status string

const (
	// StatusCompliant - below 80% of the ceiling
	StatusCompliant Status = "COMPLIANT"
	// StatusNearLimit - 80-95% of the ceiling
	StatusNearLimit Status = "NEAR_LIMIT"
	// StatusWarning - 95-100% of the ceiling
	StatusWarning Status = "WARNING"
	// StatusTolerance - over the ceiling but within the configured absolute tolerance band
	StatusTolerance Status = "TOLERANCE"
	// StatusViolation - over the ceiling plus tolerance
	StatusViolation Status = "VIOLATION"
)

// Severity grades a breach by its excess as a percentage of the ceiling.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL" // excess > 50% of ceiling
	SeverityHigh     Severity = "HIGH"     // excess > 20% of ceiling
	SeverityMedium   Severity = "MEDIUM"
)

// InstitutionExposure is one institution's group in the report.
type InstitutionExposure struct {
	Institution          domain.InstitutionID `json:"institution_frn"`
	FirmNames            []string             `json:"firm_names"`
	AccountCount         int                  `json:"account_count"`
	Joint                bool                 `json:"joint"`
	TotalExposure        domain.Money         `json:"total_exposure"`
	EasyAccessExposure   domain.Money         `json:"easy_access_exposure"`
	EffectiveCeiling     domain.Money         `json:"effective_ceiling"`
	Headroom             domain.Money         `json:"headroom"`
	Status               Status               `json:"status"`
	PersonalLimitApplied bool                 `json:"personal_limit_applied"`
}

// Breach is a VIOLATION group with remediation-priority metadata.
type Breach struct {
	Exposure InstitutionExposure `json:"exposure"`
	Excess   domain.Money        `json:"excess"`
	Severity Severity            `json:"severity"`
}

// Report is the output of a compliance audit. Read-only; generating a
// report never mutates portfolio or ledger state.
type Report struct {
	GeneratedAt     time.Time             `json:"generated_at"`
	IncludesPending bool                  `json:"includes_pending"`
	Institutions    []InstitutionExposure `json:"institutions"` // sorted by total exposure descending
	Breaches        []Breach              `json:"breaches"`     // sorted by excess descending
	Warnings        []InstitutionExposure `json:"warnings"`     // WARNING and TOLERANCE groups

	// Accounts whose institution is unresolved; their protection status
	// cannot be verified against any ceiling.
	UnidentifiedExposure domain.Money `json:"unidentified_exposure"`
	UnidentifiedAccounts int          `json:"unidentified_accounts"`

	// ConcentrationIndex is the Herfindahl index of exposure shares
	// across identified institutions (1 = everything at one
	// institution).
	ConcentrationIndex float64 `json:"concentration_index"`
	// ExposureShareStdDev is the standard deviation of exposure shares,
	// a second view on how unevenly the portfolio is spread.
	ExposureShareStdDev float64 `json:"exposure_share_std_dev"`
}

// Options controls report generation.
type Options struct {
	IncludePending bool
}
