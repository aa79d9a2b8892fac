package settings

import "github.com/dfpersonal/cash-management/internal/domain"

// Setting keys for the compliance and risk configuration rows.
const (
	KeyStandardCeiling       = "fscs_standard_limit"
	KeyJointMultiplier       = "fscs_joint_multiplier"
	KeyTolerance             = "fscs_tolerance"
	KeyWarningThreshold      = "warning_threshold"
	KeyNearLimitThreshold    = "near_limit_threshold"
	KeyPersonalLimitsEnabled = "personal_limits_enabled"

	KeyMinMoveAmount        = "min_move_amount"
	KeyMinAnnualBenefit     = "min_annual_benefit"
	KeyMaxTransferSize      = "max_transfer_size"
	KeyMaxRecsPerAccount    = "max_recommendations_per_account"
	KeyMeaningfulRateImprov = "meaningful_rate_improvement"
	KeyAllowShariaBanks     = "allow_sharia_banks"
	KeyAllowUnidentified    = "allow_unidentified_products"
	KeyExistingAccountBonus = "existing_account_bonus"
	KeyPlatformBonus        = "preferred_platform_bonus"
)

// ComplianceConfig holds the protection-ceiling thresholds.
type ComplianceConfig struct {
	StandardCeiling       domain.Money
	JointMultiplier       float64
	Tolerance             domain.Money // absolute band above the ceiling still treated as tolerable
	WarningThreshold      float64      // fraction of ceiling, e.g. 0.95
	NearLimitThreshold    float64      // fraction of ceiling, e.g. 0.80
	PersonalLimitsEnabled bool
}

// BaseCeiling returns the statutory ceiling for a group of accounts,
// doubled (or whatever the configured multiplier says) when any account
// in the group is jointly held.
func (c ComplianceConfig) BaseCeiling(joint bool) domain.Money {
	if joint {
		return c.StandardCeiling.MulFloat(c.JointMultiplier)
	}
	return c.StandardCeiling
}

// RiskConfig holds the holder's risk-tolerance thresholds.
type RiskConfig struct {
	MinMoveAmount             domain.Money
	MinAnnualBenefit          domain.Money
	MaxTransferSize           domain.Money
	MaxRecsPerAccount         int
	MeaningfulRateImprovement domain.Percentage
	AllowShariaBanks          bool
	AllowUnidentifiedProducts bool
	ExistingAccountBonus      domain.Percentage
	PreferredPlatformBonus    domain.Percentage
}

// PlatformPreference is a preferred-platform registry row: opportunities
// on the platform earn the convenience bonus as long as their rate is
// within RateTolerance of the best available.
type PlatformPreference struct {
	Platform      string
	Priority      int
	RateTolerance domain.Percentage
}
