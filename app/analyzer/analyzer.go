package analyzer

import (
	"context"
)

// Request carries the entry fields an analyzer sees. The pipeline is
// provider-agnostic: nothing here depends on a specific AI vendor's API.
type Request struct {
	EntryID   string
	Title     string
	Content   string
	FeedTitle string
}

// Result is the outcome of cheap preliminary screening.
type Result struct {
	Ignore   bool
	Reason   string
	Value    float64 // quality score, 0..10
	Summary  string
	Language string // BCP 47 tag, "und" when undetermined
}

// DeepResult is the outcome of expensive deep analysis.
type DeepResult struct {
	Summary string
	Score   float64
	Topics  []string
}

// ContentAnalyzer is the external analysis capability consumed by the
// two-stage queue. Implementations must be safe for concurrent use; calls
// are network-bound for real providers and must honor ctx.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
	DeepAnalyze(ctx context.Context, req Request) (*DeepResult, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}
