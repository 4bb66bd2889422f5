package analyzer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// HeuristicAnalyzer is the default offline analyzer: deterministic lexical
// scoring, stopword-based language detection, and feature-hash embeddings.
// It lets the service run end to end without an external AI provider.
type HeuristicAnalyzer struct {
	dimension int
}

var _ ContentAnalyzer = (*HeuristicAnalyzer)(nil)

func NewHeuristicAnalyzer(dimension int) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{dimension: dimension}
}

func (a *HeuristicAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	words := tokenize(req.Title + " " + req.Content)
	value := qualityScore(req.Title, words)

	result := &Result{
		Value:    value,
		Summary:  summarize(req.Content, 200),
		Language: detectLanguage(words),
	}

	if len(words) < 20 {
		result.Ignore = true
		result.Reason = "content too short for meaningful analysis"
	} else if value < 1 {
		result.Ignore = true
		result.Reason = "low lexical quality score"
	}

	return result, nil
}

func (a *HeuristicAnalyzer) DeepAnalyze(ctx context.Context, req Request) (*DeepResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	words := tokenize(req.Title + " " + req.Content)

	return &DeepResult{
		Summary: summarize(req.Content, 400),
		Score:   qualityScore(req.Title, words),
		Topics:  topTerms(words, 5),
	}, nil
}

// Embed produces a normalized feature-hash embedding of the text.
func (a *HeuristicAnalyzer) Embed(ctx context.Context, text string) ([]float64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if a.dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", a.dimension)
	}

	vec := make([]float64, a.dimension)
	for _, word := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%a.dimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
}

// qualityScore is a crude 0..10 signal: rewards length up to a point and a
// diverse vocabulary, penalizes missing titles.
func qualityScore(title string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(len(words))

	lengthScore := math.Min(float64(len(words))/100, 1)

	score := 10 * (0.6*lengthScore + 0.4*diversity)
	if strings.TrimSpace(title) == "" {
		score *= 0.5
	}
	return math.Round(score*10) / 10
}

func summarize(content string, maxLen int) string {
	text := strings.Join(strings.Fields(content), " ")
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func topTerms(words []string, n int) []string {
	counts := make(map[string]int)
	for _, w := range words {
		if len(w) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

var markers = map[string][]string{
	"en": {"the", "and", "with", "that", "this", "from", "have"},
	"de": {"der", "die", "das", "und", "nicht", "mit", "ein"},
	"fr": {"les", "des", "est", "dans", "pour", "une", "que"},
	"es": {"los", "las", "por", "con", "para", "una", "del"},
}

var stopwords = func() map[string]bool {
	s := make(map[string]bool)
	for _, list := range markers {
		for _, w := range list {
			s[w] = true
		}
	}
	return s
}()

// detectLanguage counts stopword hits per language and canonicalizes the
// winner through x/text. Returns "und" when no marker dominates.
func detectLanguage(words []string) string {
	hits := make(map[string]int, len(markers))
	for _, word := range words {
		for lang, list := range markers {
			for _, marker := range list {
				if word == marker {
					hits[lang]++
				}
			}
		}
	}

	best, bestHits := "", 0
	for lang, n := range hits {
		if n > bestHits || (n == bestHits && lang < best) {
			best, bestHits = lang, n
		}
	}
	if bestHits < 2 {
		return "und"
	}

	tag, err := language.Parse(best)
	if err != nil {
		return "und"
	}
	return tag.String()
}
