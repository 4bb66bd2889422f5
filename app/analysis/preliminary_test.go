package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/database"
)

// stubAnalyzer counts invocations and returns canned results so handler
// behavior can be asserted without the heuristic analyzer's scoring. The
// counters are atomic because queue workers call it from their own
// goroutines.
type stubAnalyzer struct {
	analyzeCalls atomic.Int32
	result       analyzer.Result
	analyzeErr   error

	deepCalls atomic.Int32
	deep      analyzer.DeepResult
	deepErr   error

	embedding []float64
	embedErr  error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	s.analyzeCalls.Add(1)
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	r := s.result
	return &r, nil
}

func (s *stubAnalyzer) DeepAnalyze(ctx context.Context, req analyzer.Request) (*analyzer.DeepResult, error) {
	s.deepCalls.Add(1)
	if s.deepErr != nil {
		return nil, s.deepErr
	}
	r := s.deep
	return &r, nil
}

func (s *stubAnalyzer) Embed(ctx context.Context, text string) ([]float64, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.embedding, nil
}

var _ analyzer.ContentAnalyzer = (*stubAnalyzer)(nil)

type analysisEnv struct {
	db        *database.DB
	entryRepo database.EntryRepository
	jobRepo   database.JobRepository
	ruleRepo  database.RuleRepository
	profiles  *analyzer.ProfileCache
}

func newAnalysisEnv(t *testing.T) *analysisEnv {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	profiles := analyzer.NewProfileCache(t.TempDir())
	if err := profiles.Run(); err != nil {
		t.Fatalf("Failed to init profiles: %v", err)
	}

	return &analysisEnv{
		db:        db,
		entryRepo: database.NewEntryRepository(db),
		jobRepo:   database.NewJobRepository(db),
		ruleRepo:  database.NewRuleRepository(db),
		profiles:  profiles,
	}
}

func (env *analysisEnv) seedEntry(t *testing.T, entry database.Entry) {
	t.Helper()
	if entry.FeedID == "" {
		entry.FeedID = "feed-1"
	}
	if err := env.entryRepo.UpsertEntry(entry); err != nil {
		t.Fatalf("Failed to seed entry %s: %v", entry.ID, err)
	}
}

func (env *analysisEnv) countDeepJobs(t *testing.T, entryID string) int {
	t.Helper()
	var count int
	err := env.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE entry_id = ? AND type = ?`,
		entryID, database.JobTypeDeep,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count deep jobs: %v", err)
	}
	return count
}

func TestPreliminaryHandler_PassEnqueuesDeepOnce(t *testing.T) {
	env := newAnalysisEnv(t)
	stub := &stubAnalyzer{result: analyzer.Result{Value: 7, Summary: "good", Language: "en"}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, env.profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: "body"})

	job := &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"}
	if err := handler.Process(context.Background(), job); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	entry, _ := env.entryRepo.GetEntry("entry-1")
	if entry.PrelimStatus != database.PrelimStatusPassed {
		t.Errorf("Expected passed status, got %q", entry.PrelimStatus)
	}
	if entry.PrelimValue != 7 {
		t.Errorf("Expected value 7, got %f", entry.PrelimValue)
	}
	if entry.PrelimModel == "" {
		t.Error("Model identifier should be recorded")
	}
	if entry.PrelimAnalyzedAt == nil {
		t.Error("Analysis timestamp should be recorded")
	}

	if n := env.countDeepJobs(t, "entry-1"); n != 1 {
		t.Errorf("Expected exactly 1 deep job, got %d", n)
	}
}

func TestPreliminaryHandler_IdempotentAcrossDuplicateJobs(t *testing.T) {
	env := newAnalysisEnv(t)
	stub := &stubAnalyzer{result: analyzer.Result{Value: 7, Language: "en"}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, env.profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: "body"})

	first := &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"}
	second := &database.Job{ID: "job-2", Type: database.JobTypePreliminary, EntryID: "entry-1"}

	if err := handler.Process(context.Background(), first); err != nil {
		t.Fatalf("First process failed: %v", err)
	}
	if err := handler.Process(context.Background(), second); err != nil {
		t.Fatalf("Duplicate process should succeed, got %v", err)
	}

	if stub.analyzeCalls.Load() != 1 {
		t.Errorf("Analyzer should run exactly once across duplicate jobs, got %d", stub.analyzeCalls.Load())
	}
	if n := env.countDeepJobs(t, "entry-1"); n != 1 {
		t.Errorf("Duplicate jobs must not create extra deep jobs, got %d", n)
	}
}

func TestPreliminaryHandler_ForceReanalyzes(t *testing.T) {
	env := newAnalysisEnv(t)
	stub := &stubAnalyzer{result: analyzer.Result{Value: 7, Language: "en"}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, env.profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: "body"})

	if err := handler.Process(context.Background(), &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"}); err != nil {
		t.Fatalf("First process failed: %v", err)
	}
	if err := handler.Process(context.Background(), &database.Job{ID: "job-2", Type: database.JobTypePreliminary, EntryID: "entry-1", Force: true}); err != nil {
		t.Fatalf("Forced process failed: %v", err)
	}

	if stub.analyzeCalls.Load() != 2 {
		t.Errorf("Force should re-run the analyzer, got %d calls", stub.analyzeCalls.Load())
	}
}

func TestPreliminaryHandler_EmptyContentIsTerminal(t *testing.T) {
	env := newAnalysisEnv(t)
	stub := &stubAnalyzer{result: analyzer.Result{Value: 7}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, env.profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: ""})

	err := handler.Process(context.Background(), &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"})
	if err == nil {
		t.Fatal("Empty content should fail the job")
	}
	if !IsTerminal(err) {
		t.Error("Empty content failure should be terminal")
	}

	entry, _ := env.entryRepo.GetEntry("entry-1")
	if entry.PrelimStatus != database.PrelimStatusNone {
		t.Errorf("Failed analysis must not record a status, got %q", entry.PrelimStatus)
	}
	if stub.analyzeCalls.Load() != 0 {
		t.Error("Analyzer should not run on empty content")
	}
}

func TestPreliminaryHandler_MissingEntryIsTerminal(t *testing.T) {
	env := newAnalysisEnv(t)
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, &stubAnalyzer{}, env.profiles)

	err := handler.Process(context.Background(), &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "ghost"})
	if err == nil {
		t.Fatal("Missing entry should fail the job")
	}
	if !IsTerminal(err) {
		t.Error("Missing entry failure should be terminal")
	}
}

func TestPreliminaryHandler_RejectionSkipsDeepStage(t *testing.T) {
	env := newAnalysisEnv(t)
	stub := &stubAnalyzer{result: analyzer.Result{Ignore: true, Reason: "duplicate content", Value: 3}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, env.profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: "body"})

	if err := handler.Process(context.Background(), &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	entry, _ := env.entryRepo.GetEntry("entry-1")
	if entry.PrelimStatus != database.PrelimStatusRejected {
		t.Errorf("Expected rejected status, got %q", entry.PrelimStatus)
	}
	if entry.PrelimReason != "duplicate content" {
		t.Errorf("Rejection reason should be preserved, got %q", entry.PrelimReason)
	}
	if n := env.countDeepJobs(t, "entry-1"); n != 0 {
		t.Errorf("Rejected entries must not reach deep analysis, got %d jobs", n)
	}
}

func TestPreliminaryHandler_ProfileFloorRejects(t *testing.T) {
	env := newAnalysisEnv(t)

	// A default profile with a quality floor above the analyzer's verdict.
	dir := t.TempDir()
	profileYAML := "default_model: \"strict-model\"\nmin_value: 5\n"
	if err := os.WriteFile(filepath.Join(dir, "default.yml"), []byte(profileYAML), 0o644); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}
	profiles := analyzer.NewProfileCache(dir)
	if err := profiles.Run(); err != nil {
		t.Fatalf("Failed to load profiles: %v", err)
	}

	stub := &stubAnalyzer{result: analyzer.Result{Value: 3, Language: "en"}}
	handler := NewPreliminaryHandler(env.entryRepo, env.jobRepo, stub, profiles)

	env.seedEntry(t, database.Entry{ID: "entry-1", Title: "t", Content: "body"})

	if err := handler.Process(context.Background(), &database.Job{ID: "job-1", Type: database.JobTypePreliminary, EntryID: "entry-1"}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	entry, _ := env.entryRepo.GetEntry("entry-1")
	if entry.PrelimStatus != database.PrelimStatusRejected {
		t.Errorf("Score below the profile floor should reject, got %q", entry.PrelimStatus)
	}
	if entry.PrelimModel != "strict-model" {
		t.Errorf("Profile model should be recorded, got %q", entry.PrelimModel)
	}
	if n := env.countDeepJobs(t, "entry-1"); n != 0 {
		t.Errorf("Rejected entry must not get a deep job, got %d", n)
	}
}

func TestTerminalErrorWrapping(t *testing.T) {
	plain := context.DeadlineExceeded
	if IsTerminal(plain) {
		t.Error("Plain errors are not terminal")
	}

	wrapped := Terminal(plain)
	if !IsTerminal(wrapped) {
		t.Error("Terminal() should mark the error")
	}
	if wrapped.Error() != plain.Error() {
		t.Error("Terminal wrapper should preserve the message")
	}
}
