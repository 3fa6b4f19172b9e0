package domain

import (
	"math"
	"sort"
)

// SortCandidates orders a pool by score descending, ties broken by ID ascending.
func SortCandidates(pool []Candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return pool[i].Tea.ID < pool[j].Tea.ID
	})
}

// SummarizeRecords computes index stats over a set of records. Dimension and
// model are left for the index to fill.
func SummarizeRecords(recs []TeaRecord) IndexStats {
	var stats IndexStats
	seen := make(map[string]bool)
	for _, rec := range recs {
		stats.Total++
		if rec.InStock {
			stats.InStock++
		} else {
			stats.OutOfStock++
		}
		if rec.IsSample {
			stats.Samples++
		}
		if rec.IsSet {
			stats.Sets++
		}
		if rec.Series != "" && !seen[rec.Series] {
			seen[rec.Series] = true
			stats.Series = append(stats.Series, rec.Series)
		}
	}
	sort.Strings(stats.Series)
	return stats
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
