package products

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dfpersonal/cash-management/internal/domain"
)

func product(id, frn string, rate, confidence float64) domain.AvailableProduct {
	inst := domain.UnidentifiedInstitution()
	if frn != "" {
		inst = domain.IdentifiedInstitution(frn)
	}
	return domain.AvailableProduct{
		ID:          id,
		Institution: inst,
		FirmName:    "Firm " + id,
		Rate:        domain.PercentageFromFloat(rate),
		Confidence:  confidence,
		Liquidity:   domain.LiquidityEasyAccess,
	}
}

func TestDedupe_KeepsHighestRatePerInstitution(t *testing.T) {
	catalogue := []domain.AvailableProduct{
		product("p1", "100001", 4.5, 0.9),
		product("p2", "100001", 4.8, 0.7), // same institution, better rate
		product("p3", "100002", 4.2, 0.9),
	}

	result := Dedupe(catalogue)
	assert.Len(t, result, 2)
	assert.Equal(t, "p2", result[0].ID)
	assert.Equal(t, "p3", result[1].ID)
}

func TestDedupe_TieBreaks(t *testing.T) {
	// Same rate: higher confidence wins
	result := Dedupe([]domain.AvailableProduct{
		product("p1", "100001", 4.5, 0.6),
		product("p2", "100001", 4.5, 0.9),
	})
	assert.Len(t, result, 1)
	assert.Equal(t, "p2", result[0].ID)

	// Same rate and confidence: stable ID wins
	result = Dedupe([]domain.AvailableProduct{
		product("p9", "100001", 4.5, 0.9),
		product("p2", "100001", 4.5, 0.9),
	})
	assert.Len(t, result, 1)
	assert.Equal(t, "p2", result[0].ID)
}

func TestDedupe_UnidentifiedProductsAllKept(t *testing.T) {
	// Two unresolved products cannot be proven to share an institution
	catalogue := []domain.AvailableProduct{
		product("p1", "", 6.0, 0.5),
		product("p2", "", 5.5, 0.5),
		product("p3", "100001", 4.5, 0.9),
	}

	result := Dedupe(catalogue)
	assert.Len(t, result, 3)
}

func TestExclude(t *testing.T) {
	catalogue := []domain.AvailableProduct{
		product("p1", "100001", 4.5, 0.9),
		product("p2", "100002", 4.2, 0.9),
	}

	result := Exclude(catalogue, map[string]bool{"p1": true})
	assert.Len(t, result, 1)
	assert.Equal(t, "p2", result[0].ID)

	// Empty exclusion list is a no-op
	assert.Len(t, Exclude(catalogue, nil), 2)
}
