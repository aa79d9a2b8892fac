package products

import "github.com/dfpersonal/cash-management/internal/domain"

// Dedupe keeps exactly one product per identified institution: the one
// with the highest rate, tie-broken by confidence, then by stable ID.
// Protection is scoped per institution, not per product or brand name,
// so offering two products at the same institution is never useful -
// only one can absorb the headroom.
//
// Products with an unidentified institution are all kept: they cannot
// be proven to share an institution, and they are surfaced through the
// missing-FRN alert channel rather than as recommendations.
func Dedupe(catalogue []domain.AvailableProduct) []domain.AvailableProduct {
	best := make(map[string]domain.AvailableProduct)
	var unidentified []domain.AvailableProduct
	order := make([]string, 0, len(catalogue))

	for _, product := range catalogue {
		frn, ok := product.Institution.FRN()
		if !ok {
			unidentified = append(unidentified, product)
			continue
		}

		current, seen := best[frn]
		if !seen {
			best[frn] = product
			order = append(order, frn)
			continue
		}
		if betterProduct(product, current) {
			best[frn] = product
		}
	}

	result := make([]domain.AvailableProduct, 0, len(order)+len(unidentified))
	for _, frn := range order {
		result = append(result, best[frn])
	}
	result = append(result, unidentified...)
	return result
}

// Exclude drops products on the explicit exclusion list.
func Exclude(catalogue []domain.AvailableProduct, excluded map[string]bool) []domain.AvailableProduct {
	if len(excluded) == 0 {
		return catalogue
	}

	result := make([]domain.AvailableProduct, 0, len(catalogue))
	for _, product := range catalogue {
		if excluded[product.ID] {
			continue
		}
		result = append(result, product)
	}
	return result
}

func betterProduct(candidate, incumbent domain.AvailableProduct) bool {
	if !candidate.Rate.Equal(incumbent.Rate) {
		return candidate.Rate.GreaterThan(incumbent.Rate)
	}
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	return candidate.ID < incumbent.ID
}
