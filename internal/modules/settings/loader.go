package settings

import (
	"fmt"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// LoadComplianceConfig reads the protection-ceiling thresholds from the
// settings table. The standard ceiling is required; everything else has
// a sensible default.
func LoadComplianceConfig(repo *Repository) (ComplianceConfig, error) {
	ceiling, err := repo.RequireFloat(KeyStandardCeiling)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	multiplier, err := repo.GetFloat(KeyJointMultiplier, 2.0)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	tolerance, err := repo.GetFloat(KeyTolerance, 0)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	warning, err := repo.GetFloat(KeyWarningThreshold, 0.95)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	nearLimit, err := repo.GetFloat(KeyNearLimitThreshold, 0.80)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	personalEnabled, err := repo.GetBool(KeyPersonalLimitsEnabled, false)
	if err != nil {
		return ComplianceConfig{}, fmt.Errorf("failed to load compliance config: %w", err)
	}

	return ComplianceConfig{
		StandardCeiling:       domain.MoneyFromPounds(ceiling),
		JointMultiplier:       multiplier,
		Tolerance:             domain.MoneyFromPounds(tolerance),
		WarningThreshold:      warning,
		NearLimitThreshold:    nearLimit,
		PersonalLimitsEnabled: personalEnabled,
	}, nil
}

// LoadRiskConfig reads the holder's risk-tolerance thresholds from the
// settings table. Move/benefit/transfer thresholds are required: running
// the allocator without them would emit noise recommendations.
func LoadRiskConfig(repo *Repository) (RiskConfig, error) {
	minMove, err := repo.RequireFloat(KeyMinMoveAmount)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	minBenefit, err := repo.RequireFloat(KeyMinAnnualBenefit)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	maxTransfer, err := repo.RequireFloat(KeyMaxTransferSize)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	maxRecs, err := repo.GetInt(KeyMaxRecsPerAccount, 3)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	meaningful, err := repo.GetFloat(KeyMeaningfulRateImprov, 0.2)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	allowSharia, err := repo.GetBool(KeyAllowShariaBanks, true)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	allowUnidentified, err := repo.GetBool(KeyAllowUnidentified, false)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	existingBonus, err := repo.GetFloat(KeyExistingAccountBonus, 0.1)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	platformBonus, err := repo.GetFloat(KeyPlatformBonus, 0.05)
	if err != nil {
		return RiskConfig{}, fmt.Errorf("failed to load risk config: %w", err)
	}

	return RiskConfig{
		MinMoveAmount:             domain.MoneyFromPounds(minMove),
		MinAnnualBenefit:          domain.MoneyFromPounds(minBenefit),
		MaxTransferSize:           domain.MoneyFromPounds(maxTransfer),
		MaxRecsPerAccount:         maxRecs,
		MeaningfulRateImprovement: domain.PercentageFromFloat(meaningful),
		AllowShariaBanks:          allowSharia,
		AllowUnidentifiedProducts: allowUnidentified,
		ExistingAccountBonus:      domain.PercentageFromFloat(existingBonus),
		PreferredPlatformBonus:    domain.PercentageFromFloat(platformBonus),
	}, nil
}
