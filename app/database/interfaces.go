package database

import (
	"time"
)

type EntryRepository interface {
	GetEntry(entryID string) (*Entry, error)
	GetEntryCount() (int, error)
	GetRecentEntries(limit int) ([]Entry, error)
	GetUnanalyzedEntryIDs(limit int) ([]string, error)

	UpsertEntry(entry Entry) error
	UpdatePreliminaryResult(entryID string, result PreliminaryResult) error
	UpdateDeepResult(entryID string, summary string, score float64, analyzedAt time.Time) error

	SetRead(entryID string, read bool, readAt *time.Time) error
	SetStarred(entryID string, starred bool) error
	SetArchived(entryID string, archived bool) error
	SetCategory(entryID string, categoryID string) error
	SetTags(entryID string, tags []string) error
}

type RuleRepository interface {
	GetRule(ruleID string) (*Rule, error)
	GetEnabledRules() ([]Rule, error)
	GetRuleCount() (int, error)

	UpsertRule(rule Rule) error
	MarkRuleMatched(ruleID string, matchedAt time.Time) error
}

type JobRepository interface {
	EnqueueJob(job Job) (string, error)
	ClaimNextJob(types []string) (*Job, error)
	CompleteJob(jobID string) error
	FailJob(jobID string, errMsg string) error
	FailJobPermanently(jobID string, errMsg string) error
	Heartbeat(jobID string) error

	GetJob(jobID string) (*Job, error)
	GetJobCounts() (JobCounts, error)
	HasOpenOrCompletedJob(entryID string, jobType string) (bool, error)

	RetryFailedJobs(limit int) (int, error)
	RequeueStalled(olderThan time.Duration) (int, error)
	PruneJobs(maxAge time.Duration, keep int) (int, error)
}
