package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedsieve/feedsieve/app/analysis"
	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/database"
	"github.com/feedsieve/feedsieve/app/rules"
	"github.com/feedsieve/feedsieve/app/vector"
)

func NewHandler(queue *analysis.Queue, ruleEngine *rules.Engine,
	entryRepo database.EntryRepository, ruleRepo database.RuleRepository,
	vectors vector.Store, profiles *analyzer.ProfileCache) *Handler {
	return &Handler{
		queue:      queue,
		ruleEngine: ruleEngine,
		entryRepo:  entryRepo,
		ruleRepo:   ruleRepo,
		vectors:    vectors,
		profiles:   profiles,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if entryCount, err := h.entryRepo.GetEntryCount(); err == nil {
		health["entries"] = entryCount
	}

	health["loaded_profiles"] = h.profiles.GetProfileCount()
	health["queue_paused"] = h.queue.IsPaused()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]any{}

	if entryCount, err := h.entryRepo.GetEntryCount(); err == nil {
		stats["entries"] = entryCount
	}
	if ruleCount, err := h.ruleRepo.GetRuleCount(); err == nil {
		stats["rules"] = ruleCount
	}
	if vectorCount, err := h.vectors.Size(); err == nil {
		stats["vectors"] = vectorCount
	}
	if queueStats, err := h.queue.GetStats(); err == nil {
		stats["queue"] = queueStatsJSON(queueStats)
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.queue.EnqueueEntry(req.EntryID, analysis.EnqueueOptions{
		Priority:       req.Priority,
		ForceReanalyze: req.ForceReanalyze,
	})
	if err != nil {
		slog.Error("Failed to enqueue job", "entry_id", req.EntryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (h *Handler) EnqueueBatch(c *gin.Context) {
	var req enqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobIDs := h.queue.EnqueueBatch(req.EntryIDs, analysis.EnqueueOptions{
		Priority:       req.Priority,
		ForceReanalyze: req.ForceReanalyze,
	})

	c.JSON(http.StatusAccepted, gin.H{"job_ids": jobIDs, "enqueued": len(jobIDs)})
}

func (h *Handler) ScanAndEnqueue(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	enqueued, err := h.queue.ScanAndEnqueue(req.Limit)
	if err != nil {
		slog.Error("Scan-and-enqueue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan for unanalyzed entries"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

func (h *Handler) GetQueueStats(c *gin.Context) {
	stats, err := h.queue.GetStats()
	if err != nil {
		slog.Error("Failed to get queue stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get queue stats"})
		return
	}

	c.JSON(http.StatusOK, queueStatsJSON(stats))
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.queue.GetJob(c.Param("id"))
	if err != nil {
		slog.Error("Failed to get job", "job_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           job.ID,
		"type":         job.Type,
		"entry_id":     job.EntryID,
		"status":       job.Status,
		"priority":     job.Priority,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"run_after":    job.RunAfter.Format(time.RFC3339),
		"last_error":   job.LastError,
		"created_at":   job.CreatedAt.Format(time.RFC3339),
		"updated_at":   job.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) RetryFailed(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	retried, err := h.queue.RetryFailed(req.Limit)
	if err != nil {
		slog.Error("Failed to retry jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

func (h *Handler) PauseQueue(c *gin.Context) {
	h.queue.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) ResumeQueue(c *gin.Context) {
	h.queue.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// TestRule dry-runs an unsaved rule draft against recent entries. No entry
// or rule state is mutated.
func (h *Handler) TestRule(c *gin.Context) {
	var req testRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ruleEngine.TestRule(req.UserID, rules.Draft{
		Name:       req.Name,
		Conditions: req.Conditions,
		Actions:    req.Actions,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches := make([]gin.H, len(result.ConditionMatches))
	for i, m := range result.ConditionMatches {
		matches[i] = gin.H{
			"field":       m.Condition.Field,
			"operator":    m.Condition.Operator,
			"value":       m.Condition.Value,
			"match_count": m.MatchCount,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sample_size": result.SampleSize,
		"conditions":  matches,
	})
}

// SearchSimilar returns entries whose embeddings are closest to the given
// entry's embedding.
func (h *Handler) SearchSimilar(c *gin.Context) {
	entryID := c.Param("id")

	queryVec, err := h.vectors.Get(entryID)
	if err != nil {
		slog.Error("Failed to load entry vector", "entry_id", entryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load entry vector"})
		return
	}
	if queryVec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry has no embedding"})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var threshold *float64
	if raw := c.Query("threshold"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			threshold = &parsed
		}
	}

	// limit+1 so the query entry itself can be dropped from its own results.
	results, err := h.vectors.Search(queryVec, limit+1, threshold)
	if err != nil {
		slog.Error("Similarity search failed", "entry_id", entryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "similarity search failed"})
		return
	}

	matches := make([]gin.H, 0, limit)
	for _, r := range results {
		if r.EntryID == entryID {
			continue
		}
		if len(matches) == limit {
			break
		}
		matches = append(matches, gin.H{
			"entry_id":   r.EntryID,
			"similarity": r.Similarity,
			"metadata":   r.Metadata,
		})
	}

	c.JSON(http.StatusOK, gin.H{"entry_id": entryID, "results": matches})
}

func queueStatsJSON(stats *analysis.Stats) gin.H {
	return gin.H{
		"waiting":      stats.Counts.Waiting,
		"active":       stats.Counts.Active,
		"completed":    stats.Counts.Completed,
		"failed":       stats.Counts.Failed,
		"delayed":      stats.Counts.Delayed,
		"success_rate": stats.SuccessRate,
		"paused":       stats.Paused,
	}
}
