package database

import (
	"testing"
	"time"
)

func TestRuleRepository_UpsertAndGet(t *testing.T) {
	repo := NewRuleRepository(newTestDB(t))

	err := repo.UpsertRule(Rule{
		ID:         "rule-1",
		UserID:     "user-1",
		Name:       "Star Go posts",
		Enabled:    true,
		Conditions: `[{"field":"title","operator":"contains","value":"go"}]`,
		Actions:    `[{"type":"star"}]`,
	})
	if err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}

	rule, err := repo.GetRule("rule-1")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if rule == nil {
		t.Fatal("Expected rule, got nil")
	}
	if rule.Name != "Star Go posts" {
		t.Errorf("Expected name 'Star Go posts', got %q", rule.Name)
	}
	if rule.MatchedCount != 0 {
		t.Errorf("New rule should have zero matches, got %d", rule.MatchedCount)
	}
	if rule.LastMatchedAt != nil {
		t.Error("New rule should have no last match timestamp")
	}
}

func TestRuleRepository_GetEnabledRules_OrderAndFilter(t *testing.T) {
	repo := NewRuleRepository(newTestDB(t))

	repo.UpsertRule(Rule{ID: "first", Name: "first", Enabled: true, CreatedAt: time.Now().UTC().Add(-2 * time.Hour)})
	repo.UpsertRule(Rule{ID: "second", Name: "second", Enabled: true, CreatedAt: time.Now().UTC().Add(-time.Hour)})
	repo.UpsertRule(Rule{ID: "disabled", Name: "disabled", Enabled: false, CreatedAt: time.Now().UTC().Add(-3 * time.Hour)})

	rules, err := repo.GetEnabledRules()
	if err != nil {
		t.Fatalf("GetEnabledRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("Expected 2 enabled rules, got %d", len(rules))
	}
	if rules[0].ID != "first" || rules[1].ID != "second" {
		t.Errorf("Rules should come back in creation order, got %s, %s", rules[0].ID, rules[1].ID)
	}
}

func TestRuleRepository_MarkRuleMatched(t *testing.T) {
	repo := NewRuleRepository(newTestDB(t))
	repo.UpsertRule(Rule{ID: "rule-1", Name: "r", Enabled: true})

	matchedAt := time.Now().UTC()
	if err := repo.MarkRuleMatched("rule-1", matchedAt); err != nil {
		t.Fatalf("MarkRuleMatched failed: %v", err)
	}
	if err := repo.MarkRuleMatched("rule-1", matchedAt); err != nil {
		t.Fatalf("MarkRuleMatched failed: %v", err)
	}

	rule, _ := repo.GetRule("rule-1")
	if rule.MatchedCount != 2 {
		t.Errorf("Expected matched count 2, got %d", rule.MatchedCount)
	}
	if rule.LastMatchedAt == nil {
		t.Error("LastMatchedAt should be stamped")
	}

	if err := repo.MarkRuleMatched("missing", matchedAt); err != ErrNotFound {
		t.Errorf("Marking a missing rule should return ErrNotFound, got %v", err)
	}
}
