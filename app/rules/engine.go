package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/feedsieve/feedsieve/app/database"
)

const testSampleSize = 50

// Engine evaluates automation rules against entries and executes their
// actions. Rules are read-only inputs; the engine only advances match
// bookkeeping and mutates entry state.
type Engine struct {
	entryRepo database.EntryRepository
	ruleRepo  database.RuleRepository
}

func NewEngine(entryRepo database.EntryRepository, ruleRepo database.RuleRepository) *Engine {
	return &Engine{entryRepo: entryRepo, ruleRepo: ruleRepo}
}

// ProcessResult reports which rules matched an entry and how many actions ran.
type ProcessResult struct {
	MatchedRules []string
	ActionCount  int
}

// ConditionMatch reports how many sampled entries satisfy one condition in
// isolation.
type ConditionMatch struct {
	Condition  Condition
	MatchCount int
}

// TestResult is the outcome of a side-effect-free rule dry run.
type TestResult struct {
	SampleSize       int
	ConditionMatches []ConditionMatch
}

// MatchRule returns true only if every condition of the rule matches the
// entry. A rule with zero conditions matches unconditionally.
func (e *Engine) MatchRule(entryID string, rule database.Rule) (bool, error) {
	entry, err := e.entryRepo.GetEntry(entryID)
	if err != nil {
		return false, fmt.Errorf("failed to load entry: %w", err)
	}
	if entry == nil {
		return false, fmt.Errorf("entry %s: %w", entryID, database.ErrNotFound)
	}

	conditions, err := DecodeConditions(rule.Conditions)
	if err != nil {
		return false, err
	}

	return matchConditions(entry, conditions), nil
}

// ExecuteActions applies each action in order. An action with missing or
// invalid params is a silent no-op for that action only, favoring
// availability over strictness. Returns the number of actions executed.
func (e *Engine) ExecuteActions(entryID string, actions []Action) (int, error) {
	executed := 0
	for _, action := range actions {
		if err := e.executeAction(entryID, action); err != nil {
			slog.Warn("Rule action skipped", "entry_id", entryID, "action", string(action.Type), "error", err)
			continue
		}
		executed++
	}
	return executed, nil
}

func (e *Engine) executeAction(entryID string, action Action) error {
	switch action.Type {
	case ActionMarkRead:
		now := time.Now().UTC()
		return e.entryRepo.SetRead(entryID, true, &now)
	case ActionMarkUnread:
		return e.entryRepo.SetRead(entryID, false, nil)
	case ActionStar:
		return e.entryRepo.SetStarred(entryID, true)
	case ActionUnstar:
		return e.entryRepo.SetStarred(entryID, false)
	case ActionArchive:
		return e.entryRepo.SetArchived(entryID, true)
	case ActionUnarchive:
		return e.entryRepo.SetArchived(entryID, false)
	case ActionAssignCategory:
		if action.CategoryID == "" {
			return fmt.Errorf("assignCategory requires a category id")
		}
		return e.entryRepo.SetCategory(entryID, action.CategoryID)
	case ActionAddTag:
		if action.Tag == "" {
			return fmt.Errorf("addTag requires a tag")
		}
		return e.addTag(entryID, action.Tag)
	case ActionRemoveTag:
		if action.Tag == "" {
			return fmt.Errorf("removeTag requires a tag")
		}
		return e.removeTag(entryID, action.Tag)
	case ActionSkip:
		// Deliberate no-op used to document "do nothing" in a matching rule.
		return nil
	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func (e *Engine) addTag(entryID string, tag string) error {
	entry, err := e.entryRepo.GetEntry(entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return database.ErrNotFound
	}

	for _, existing := range entry.Tags {
		if existing == tag {
			return nil
		}
	}
	return e.entryRepo.SetTags(entryID, append(entry.Tags, tag))
}

func (e *Engine) removeTag(entryID string, tag string) error {
	entry, err := e.entryRepo.GetEntry(entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return database.ErrNotFound
	}

	tags := make([]string, 0, len(entry.Tags))
	for _, existing := range entry.Tags {
		if existing != tag {
			tags = append(tags, existing)
		}
	}
	if len(tags) == len(entry.Tags) {
		return nil
	}
	return e.entryRepo.SetTags(entryID, tags)
}

// ProcessEntry evaluates all enabled rules against the entry in creation
// order. Every matching rule has its counter advanced and its actions
// applied; multiple rules may match.
func (e *Engine) ProcessEntry(entryID string) (*ProcessResult, error) {
	enabledRules, err := e.ruleRepo.GetEnabledRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}

	result := &ProcessResult{}
	for _, rule := range enabledRules {
		matched, err := e.MatchRule(entryID, rule)
		if err != nil {
			slog.Warn("Rule evaluation failed", "rule", rule.Name, "entry_id", entryID, "error", err)
			continue
		}
		if !matched {
			continue
		}

		if err := e.ruleRepo.MarkRuleMatched(rule.ID, time.Now().UTC()); err != nil {
			slog.Warn("Failed to update rule match counter", "rule", rule.Name, "error", err)
		}

		actions, err := DecodeActions(rule.Actions)
		if err != nil {
			slog.Warn("Failed to decode rule actions", "rule", rule.Name, "error", err)
			continue
		}

		executed, err := e.ExecuteActions(entryID, actions)
		if err != nil {
			return nil, err
		}

		result.MatchedRules = append(result.MatchedRules, rule.Name)
		result.ActionCount += executed
	}

	return result, nil
}

// TestRule is a side-effect-free dry run of a rule draft against the most
// recent entries. It reports, per condition, how many sampled entries
// satisfy that single condition in isolation; nothing is mutated.
func (e *Engine) TestRule(userID string, draft Draft) (*TestResult, error) {
	if err := ValidateDraft(draft); err != nil {
		return nil, fmt.Errorf("invalid rule draft: %w", err)
	}

	sample, err := e.entryRepo.GetRecentEntries(testSampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample entries: %w", err)
	}

	result := &TestResult{
		SampleSize:       len(sample),
		ConditionMatches: make([]ConditionMatch, len(draft.Conditions)),
	}

	for i, condition := range draft.Conditions {
		count := 0
		for j := range sample {
			if matchCondition(&sample[j], condition) {
				count++
			}
		}
		result.ConditionMatches[i] = ConditionMatch{Condition: condition, MatchCount: count}
	}

	slog.Debug("Rule dry run completed", "user_id", userID, "rule", draft.Name, "sample_size", result.SampleSize)

	return result, nil
}

func matchConditions(entry *database.Entry, conditions []Condition) bool {
	for _, condition := range conditions {
		if !matchCondition(entry, condition) {
			return false
		}
	}
	return true
}

// matchCondition evaluates one condition. Unknown operators and
// field/operator mismatches evaluate to false, never error.
func matchCondition(entry *database.Entry, condition Condition) bool {
	if condition.Field == FieldTag {
		return matchSetCondition(entry.Tags, condition)
	}

	value := scalarFieldValue(entry, condition.Field)

	switch condition.Operator {
	case OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(condition.Value))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(value), strings.ToLower(condition.Value))
	case OpEquals:
		return value == condition.Value
	case OpNotEquals:
		return value != condition.Value
	case OpMatches:
		re, err := regexp.Compile("(?i)" + condition.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case OpIn:
		for _, candidate := range condition.Values {
			if value == candidate {
				return true
			}
		}
		return false
	case OpGreaterThan, OpLessThan:
		return matchNumeric(value, condition)
	default:
		return false
	}
}

// matchSetCondition evaluates conditions against the entry's tag set.
// Substring and regex operators are string-only and evaluate to false here;
// "in" tests set intersection.
func matchSetCondition(tags []string, condition Condition) bool {
	switch condition.Operator {
	case OpEquals:
		for _, tag := range tags {
			if tag == condition.Value {
				return true
			}
		}
		return false
	case OpNotEquals:
		for _, tag := range tags {
			if tag == condition.Value {
				return false
			}
		}
		return true
	case OpIn:
		for _, tag := range tags {
			for _, candidate := range condition.Values {
				if tag == candidate {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func matchNumeric(value string, condition Condition) bool {
	fieldNum, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}
	condNum, err := strconv.ParseFloat(strings.TrimSpace(condition.Value), 64)
	if err != nil {
		return false
	}
	if condition.Operator == OpGreaterThan {
		return fieldNum > condNum
	}
	return fieldNum < condNum
}

// scalarFieldValue resolves a condition field to the entry's string value.
// Content falls back to the summary when full content is absent.
func scalarFieldValue(entry *database.Entry, field Field) string {
	switch field {
	case FieldTitle:
		return entry.Title
	case FieldContent:
		if entry.Content != "" {
			return entry.Content
		}
		return entry.Summary
	case FieldAuthor:
		return entry.Author
	case FieldCategory:
		return entry.Category
	case FieldFeedTitle:
		return entry.FeedTitle
	default:
		return ""
	}
}
