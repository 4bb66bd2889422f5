package database

import (
	"time"
)

const (
	PrelimStatusNone     = ""
	PrelimStatusPassed   = "passed"
	PrelimStatusRejected = "rejected"
)

const (
	JobTypePreliminary = "preliminary"
	JobTypeDeep        = "deep"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Entry represents an ingested feed entry subject to analysis and rule
// processing. Content may be empty until the upstream fetcher fills it in.
type Entry struct {
	ID         string
	FeedID     string
	FeedTitle  string
	CategoryID string
	Category   string
	Title      string
	Content    string
	Summary    string
	Author     string
	Tags       []string
	IsRead     bool
	IsStarred  bool
	IsArchived bool
	ReadAt     *time.Time

	PrelimStatus     string // "", "passed", "rejected"
	PrelimValue      float64
	PrelimIgnore     bool
	PrelimReason     string
	PrelimSummary    string
	PrelimLanguage   string
	PrelimAnalyzedAt *time.Time
	PrelimModel      string

	DeepSummary    string
	DeepScore      float64
	DeepAnalyzedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PreliminaryResult carries the fields written back by preliminary analysis.
type PreliminaryResult struct {
	Status     string
	Value      float64
	Ignore     bool
	Reason     string
	Summary    string
	Language   string
	Model      string
	AnalyzedAt time.Time
}

// Rule is a persisted automation rule. Conditions and Actions are stored as
// JSON documents; the rules package owns their decoded representation.
type Rule struct {
	ID            string
	UserID        string
	Name          string
	Enabled       bool
	Conditions    string // JSON array
	Actions       string // JSON array
	MatchedCount  int
	LastMatchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is one durable analysis queue job referencing a single entry.
type Job struct {
	ID          string
	Type        string
	EntryID     string
	Priority    int
	Force       bool
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	HeartbeatAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobCounts aggregates queue state for introspection. Delayed counts pending
// jobs whose run_after lies in the future.
type JobCounts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// SuccessRate returns completed / (completed + failed), or 0 when no job has
// finished yet.
func (c JobCounts) SuccessRate() float64 {
	finished := c.Completed + c.Failed
	if finished == 0 {
		return 0
	}
	return float64(c.Completed) / float64(finished)
}
