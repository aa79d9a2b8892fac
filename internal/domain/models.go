package domain

import "time"

// LiquidityClass classifies how quickly funds in an account or product
// can be accessed.
type LiquidityClass string

const (
	// LiquidityEasyAccess - withdrawable on demand
	LiquidityEasyAccess LiquidityClass = "EASY_ACCESS"
	// LiquidityNotice - withdrawable after a notice period
	LiquidityNotice LiquidityClass = "NOTICE"
	// LiquidityFixedTerm - locked until maturity
	LiquidityFixedTerm LiquidityClass = "FIXED_TERM"
)

// DepositStatus is the lifecycle status of a pending deposit.
type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositApproved  DepositStatus = "APPROVED"
	DepositFunded    DepositStatus = "FUNDED"
	DepositCancelled DepositStatus = "CANCELLED"
)

// Account is a cash deposit account in the holder's portfolio.
// Loaded read-only per optimization run; the allocator tracks remaining
// balances externally, keyed by ID.
type Account struct {
	ID          string
	Institution InstitutionID
	Name        string
	Balance     Money
	Rate        Percentage
	Liquidity   LiquidityClass
	Joint       bool
	HolderCount int
	Active      bool
}

// PendingDeposit is a deposit that has been committed but not yet
// funded. It contributes to institution exposure but is never a source
// of new opportunities.
type PendingDeposit struct {
	Account
	Status          DepositStatus
	ExpectedFunding *time.Time
}

// CountsTowardExposure reports whether the deposit should be included
// in exposure calculations. Cancelled deposits never count.
func (d PendingDeposit) CountsTowardExposure() bool {
	return d.Status != DepositCancelled
}

// AvailableProduct is a rate-bearing product from the external
// catalogue.
type AvailableProduct struct {
	ID          string
	Institution InstitutionID
	FirmName    string
	Rate        Percentage
	MinDeposit  *Money
	MaxDeposit  *Money
	Liquidity   LiquidityClass
	Confidence  float64 // data-confidence score, 0..1
	Platform    string  // origin platform
}

// TrustLevel is a user-declared trust classification for an
// institution.
type TrustLevel string

const (
	TrustStandard TrustLevel = "STANDARD"
	TrustHigh     TrustLevel = "HIGH"
	TrustFull     TrustLevel = "FULL"
)

// InstitutionPreference is read-only per-institution reference data: a
// personal exposure limit above the statutory ceiling and the
// conditions attached to it.
type InstitutionPreference struct {
	Institution        InstitutionID
	PersonalLimit      Money
	EasyAccessRequired bool // funds above the standard ceiling must be immediately accessible
	Trust              TrustLevel
	RiskNotes          string
}

// Opportunity is a candidate fund movement discovered for a single
// funding account and target product.
type Opportunity struct {
	AccountID       string
	AccountName     string
	AccountRate     Percentage
	Product         AvailableProduct
	Amount          Money
	RateImprovement Percentage
	AnnualBenefit   Money
	Chunked         bool // part of an above-ceiling diversification plan
	ChunkIndex      int  // 1-based when Chunked
	ChunkCount      int
}

// PriorityTier orders recommendations for display and execution.
type PriorityTier string

const (
	PriorityUrgent PriorityTier = "URGENT"
	PriorityHigh   PriorityTier = "HIGH"
	PriorityMedium PriorityTier = "MEDIUM"
	PriorityLow    PriorityTier = "LOW"
)

// DisplayMode tags how a group of recommendations for one source
// account should be presented.
type DisplayMode string

const (
	// DisplayOr - mutually exclusive alternatives, pick one
	DisplayOr DisplayMode = "OR"
	// DisplayAnd - required joint diversification plan, execute all
	DisplayAnd DisplayMode = "AND"
)

// ComplianceAnnotation records the exposure consequences of executing a
// recommendation, computed against ledger state at generation time.
type ComplianceAnnotation struct {
	ResultingExposure Money  `json:"resulting_exposure"`
	ResultingStatus   string `json:"resulting_status"`
	FRNMissing        bool   `json:"frn_missing"`
}

// Recommendation is a single advised fund movement. Immutable once
// emitted; persisted by an external collaborator through the
// recommendation repository.
type Recommendation struct {
	ID              string               `json:"id"`
	AccountID       string               `json:"account_id"`
	AccountName     string               `json:"account_name"`
	Amount          Money                `json:"amount"`
	CurrentRate     Percentage           `json:"current_rate"`
	Institution     InstitutionID        `json:"institution_frn"`
	FirmName        string               `json:"firm_name"`
	ProductID       string               `json:"product_id"`
	TargetRate      Percentage           `json:"target_rate"`
	RateImprovement Percentage           `json:"rate_improvement"`
	AnnualBenefit   Money                `json:"annual_benefit"`
	Compliance      ComplianceAnnotation `json:"compliance"`
	Priority        PriorityTier         `json:"priority"`
	Mode            DisplayMode          `json:"display_mode"`
	Notes           string               `json:"notes,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// PriorityForBenefit maps an annual benefit to a priority tier.
func PriorityForBenefit(annualBenefit Money) PriorityTier {
	switch {
	case annualBenefit.GreaterOrEqual(MoneyFromPounds(10000)):
		return PriorityUrgent
	case annualBenefit.GreaterOrEqual(MoneyFromPounds(5000)):
		return PriorityHigh
	case annualBenefit.GreaterOrEqual(MoneyFromPounds(1000)):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// MissingFRNAlert surfaces a high-rate product that cannot be
// recommended because its institution is unidentified, with the manual
// data-entry action needed to unblock it.
type MissingFRNAlert struct {
	AccountID        string     `json:"account_id"`
	AccountName      string     `json:"account_name"`
	ProductID        string     `json:"product_id"`
	FirmName         string     `json:"firm_name"`
	Platform         string     `json:"platform,omitempty"`
	Rate             Percentage `json:"rate"`
	PotentialAmount  Money      `json:"potential_amount"`
	PotentialBenefit Money      `json:"potential_benefit"`
	SuggestedAction  string     `json:"suggested_action"`
}
