package usecase

import "chai/internal/domain"

// ApplyFilter keeps the candidates that satisfy f, preserving their order.
// It is safe to run on a pool the index already filtered.
func ApplyFilter(pool []domain.Candidate, f domain.Filter) []domain.Candidate {
	if f.IsZero() {
		return pool
	}
	kept := make([]domain.Candidate, 0, len(pool))
	for _, c := range pool {
		if f.Matches(c.Tea) {
			kept = append(kept, c)
		}
	}
	return kept
}
