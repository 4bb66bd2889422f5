package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/database"
)

// PreliminaryHandler runs the cheap triage stage: screen an entry, persist
// the verdict, and hand passed entries to deep analysis.
type PreliminaryHandler struct {
	entryRepo database.EntryRepository
	jobRepo   database.JobRepository
	analyzer  analyzer.ContentAnalyzer
	profiles  *analyzer.ProfileCache
}

func NewPreliminaryHandler(entryRepo database.EntryRepository, jobRepo database.JobRepository,
	contentAnalyzer analyzer.ContentAnalyzer, profiles *analyzer.ProfileCache) *PreliminaryHandler {
	return &PreliminaryHandler{
		entryRepo: entryRepo,
		jobRepo:   jobRepo,
		analyzer:  contentAnalyzer,
		profiles:  profiles,
	}
}

// Process handles one preliminary job. Idempotent: an entry that already
// carries a preliminary result short-circuits successfully unless the job
// forces re-analysis, which is what makes duplicate submissions safe.
func (h *PreliminaryHandler) Process(ctx context.Context, job *database.Job) error {
	entry, err := h.entryRepo.GetEntry(job.EntryID)
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}
	if entry == nil {
		return Terminal(fmt.Errorf("%w: %s", ErrEntryNotFound, job.EntryID))
	}

	if entry.Content == "" {
		return Terminal(fmt.Errorf("%w: %s", ErrNoContent, job.EntryID))
	}

	if entry.PrelimStatus != database.PrelimStatusNone && !job.Force {
		slog.Debug("Entry already analyzed, skipping", "entry_id", entry.ID, "status", entry.PrelimStatus)
		return nil
	}

	result, err := h.analyzer.Analyze(ctx, analyzer.Request{
		EntryID:   entry.ID,
		Title:     entry.Title,
		Content:   entry.Content,
		FeedTitle: entry.FeedTitle,
	})
	if err != nil {
		return fmt.Errorf("analyzer failed: %w", err)
	}

	profile := h.profiles.GetDefault()

	ignore := result.Ignore
	reason := result.Reason
	if !ignore && result.Value < profile.MinValue {
		ignore = true
		reason = fmt.Sprintf("quality score %.1f below profile floor %.1f", result.Value, profile.MinValue)
	}

	status := database.PrelimStatusPassed
	if ignore {
		status = database.PrelimStatusRejected
	}

	err = h.entryRepo.UpdatePreliminaryResult(entry.ID, database.PreliminaryResult{
		Status:     status,
		Value:      result.Value,
		Ignore:     ignore,
		Reason:     reason,
		Summary:    result.Summary,
		Language:   result.Language,
		Model:      profile.ModelFor(result.Language),
		AnalyzedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to persist preliminary result: %w", err)
	}

	if ignore {
		slog.Info("Entry rejected by preliminary analysis", "entry_id", entry.ID, "reason", reason, "value", result.Value)
		return nil
	}

	// The preliminary result is valid even when the follow-up enqueue fails,
	// so enqueue problems are logged rather than failing the job.
	if err := h.enqueueDeep(entry.ID, job); err != nil {
		slog.Error("Failed to enqueue deep analysis", "entry_id", entry.ID, "error", err)
	}

	return nil
}

// enqueueDeep creates exactly one deep-analysis job for the entry, carrying
// the preliminary job's priority forward. Entries with a deep job already
// pending, running or completed are left alone unless re-analysis is forced.
func (h *PreliminaryHandler) enqueueDeep(entryID string, job *database.Job) error {
	if !job.Force {
		exists, err := h.jobRepo.HasOpenOrCompletedJob(entryID, database.JobTypeDeep)
		if err != nil {
			return fmt.Errorf("failed to check for existing deep job: %w", err)
		}
		if exists {
			slog.Debug("Deep analysis already scheduled", "entry_id", entryID)
			return nil
		}
	}

	_, err := h.jobRepo.EnqueueJob(database.Job{
		Type:     database.JobTypeDeep,
		EntryID:  entryID,
		Priority: job.Priority,
		Force:    job.Force,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue deep job: %w", err)
	}

	return nil
}
