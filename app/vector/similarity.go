package vector

import (
	"math"
	"sort"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 when either norm is 0.
func CosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct returns the raw inner product, unbounded.
func DotProduct(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// L2Similarity maps euclidean distance into (0,1]: 1 / (1 + distance).
func L2Similarity(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}

func similarity(metric Metric, a, b []float64) float64 {
	switch metric {
	case MetricL2:
		return L2Similarity(a, b)
	case MetricInnerProduct:
		return DotProduct(a, b)
	default:
		return CosineSimilarity(a, b)
	}
}

// rankResults applies the shared threshold/order/limit convention so every
// backend returns identical semantics: drop below threshold, sort by
// similarity descending (entry id breaks ties), cap at limit.
func rankResults(results []SearchResult, limit int, threshold *float64) []SearchResult {
	if threshold != nil {
		kept := results[:0]
		for _, r := range results {
			if r.Similarity >= *threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].EntryID < results[j].EntryID
	})

	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
