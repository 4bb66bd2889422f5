package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/database"
	"github.com/feedsieve/feedsieve/app/rules"
	"github.com/feedsieve/feedsieve/app/vector"
	"github.com/feedsieve/feedsieve/app/workflow"
)

// DeepHandler runs the expensive stage on entries that passed triage. The
// processing steps are composed as a workflow graph (segment → analyze →
// score → embed) so the sequence is configuration, not hard-coded calls.
type DeepHandler struct {
	entryRepo    database.EntryRepository
	analyzer     analyzer.ContentAnalyzer
	vectors      vector.Store
	ruleEngine   *rules.Engine
	orchestrator *workflow.Orchestrator
}

func NewDeepHandler(entryRepo database.EntryRepository, contentAnalyzer analyzer.ContentAnalyzer,
	vectors vector.Store, ruleEngine *rules.Engine) (*DeepHandler, error) {
	h := &DeepHandler{
		entryRepo:    entryRepo,
		analyzer:     contentAnalyzer,
		vectors:      vectors,
		ruleEngine:   ruleEngine,
		orchestrator: workflow.NewOrchestrator(),
	}

	h.orchestrator.RegisterNodes([]workflow.Node{
		&segmentNode{},
		&analyzeNode{analyzer: contentAnalyzer},
		&scoreNode{},
		&embedNode{analyzer: contentAnalyzer},
	})
	h.orchestrator.AddEdges([]workflow.Edge{
		{From: "segment", To: "analyze"},
		{From: "analyze", To: "score"},
		// score consumes both the analyzer verdict and the raw segments.
		{From: "segment", To: "score"},
		{From: "score", To: "embed"},
	})

	// A cyclic pipeline is a configuration error and must stop the
	// subsystem before any job runs.
	if err := h.orchestrator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deep analysis pipeline: %w", err)
	}

	return h, nil
}

// Process handles one deep-analysis job: run the pipeline, persist the rich
// result, store the embedding, then apply automation rules to the updated
// entry.
func (h *DeepHandler) Process(ctx context.Context, job *database.Job) error {
	entry, err := h.entryRepo.GetEntry(job.EntryID)
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}
	if entry == nil {
		return Terminal(fmt.Errorf("%w: %s", ErrEntryNotFound, job.EntryID))
	}

	if entry.PrelimStatus == database.PrelimStatusRejected {
		slog.Debug("Entry was rejected by triage, skipping deep analysis", "entry_id", entry.ID)
		return nil
	}

	if entry.DeepAnalyzedAt != nil && !job.Force {
		slog.Debug("Entry already deep-analyzed, skipping", "entry_id", entry.ID)
		return nil
	}

	initial := workflow.Payload{
		"entryId": entry.ID,
		"title":   entry.Title,
		"content": entry.Content,
	}
	result, err := h.orchestrator.Execute(ctx, "segment", initial, workflow.Context{"entryId": entry.ID})
	if err != nil {
		return fmt.Errorf("workflow execution failed: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("deep analysis pipeline failed at node %s: %s", result.FailedNode, result.Error)
	}

	summary, _ := result.NodeOutputs["analyze"]["summary"].(string)
	score, _ := result.NodeOutputs["score"]["score"].(float64)

	if err := h.entryRepo.UpdateDeepResult(entry.ID, summary, score, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist deep result: %w", err)
	}

	if embedding, ok := result.NodeOutputs["embed"]["embedding"].([]float64); ok {
		metadata := map[string]any{"title": entry.Title, "language": entry.PrelimLanguage}
		if err := h.vectors.Store(entry.ID, embedding, metadata); err != nil {
			if errors.Is(err, vector.ErrDimensionMismatch) {
				return Terminal(fmt.Errorf("failed to store embedding: %w", err))
			}
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	ruleResult, err := h.ruleEngine.ProcessEntry(entry.ID)
	if err != nil {
		return fmt.Errorf("rule processing failed: %w", err)
	}

	slog.Info("Deep analysis completed",
		"entry_id", entry.ID,
		"score", score,
		"duration", result.Duration,
		"matched_rules", len(ruleResult.MatchedRules),
		"actions", ruleResult.ActionCount)

	return nil
}

// segmentNode splits content into paragraphs so downstream nodes can work on
// bounded chunks.
type segmentNode struct{}

func (n *segmentNode) ID() string { return "segment" }

func (n *segmentNode) Execute(ctx context.Context, input workflow.Payload, wctx workflow.Context) (workflow.Payload, error) {
	content, _ := input["content"].(string)

	var segments []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			segments = append(segments, block)
		}
	}

	return workflow.Payload{
		"content":  content,
		"segments": segments,
	}, nil
}

// analyzeNode calls the content analyzer for the rich result. On analyzer
// failure it degrades to a truncated excerpt so the chain can continue.
type analyzeNode struct {
	analyzer analyzer.ContentAnalyzer
}

func (n *analyzeNode) ID() string { return "analyze" }

func (n *analyzeNode) Execute(ctx context.Context, input workflow.Payload, wctx workflow.Context) (workflow.Payload, error) {
	title, _ := input["title"].(string)
	content, _ := input["content"].(string)
	entryID, _ := wctx["entryId"].(string)

	deep, err := n.analyzer.DeepAnalyze(ctx, analyzer.Request{EntryID: entryID, Title: title, Content: content})
	if err != nil {
		return nil, err
	}

	return workflow.Payload{
		"summary": deep.Summary,
		"score":   deep.Score,
		"topics":  deep.Topics,
	}, nil
}

func (n *analyzeNode) OnError(ctx context.Context, execErr error, input workflow.Payload, wctx workflow.Context) (workflow.Payload, error) {
	if ctx.Err() != nil {
		return nil, execErr
	}

	content, _ := input["content"].(string)
	excerpt := content
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}

	slog.Warn("Deep analyzer failed, using excerpt fallback", "error", execErr)
	return workflow.Payload{
		"summary": excerpt,
		"score":   0.0,
		"topics":  []string{},
	}, nil
}

// scoreNode nudges the analyzer score by content structure: well-segmented
// entries rank slightly higher.
type scoreNode struct{}

func (n *scoreNode) ID() string { return "score" }

func (n *scoreNode) Execute(ctx context.Context, input workflow.Payload, wctx workflow.Context) (workflow.Payload, error) {
	score, _ := input["score"].(float64)
	segments, _ := input["segments"].([]string)

	if len(segments) >= 3 && score > 0 {
		score = score * 1.05
		if score > 10 {
			score = 10
		}
	}

	return workflow.Payload{"score": score}, nil
}

// embedNode produces the entry embedding from title and content.
type embedNode struct {
	analyzer analyzer.ContentAnalyzer
}

func (n *embedNode) ID() string { return "embed" }

func (n *embedNode) Execute(ctx context.Context, input workflow.Payload, wctx workflow.Context) (workflow.Payload, error) {
	title, _ := input["title"].(string)
	content, _ := input["content"].(string)

	embedding, err := n.analyzer.Embed(ctx, title+" "+content)
	if err != nil {
		return nil, err
	}

	return workflow.Payload{"embedding": embedding}, nil
}
