package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLRuleRepository handles database operations for automation rules. Rules
// are authored elsewhere; this side only reads them and advances the match
// bookkeeping.
type SQLRuleRepository struct {
	db *DB
}

var _ RuleRepository = (*SQLRuleRepository)(nil)

func NewRuleRepository(db *DB) *SQLRuleRepository {
	return &SQLRuleRepository{db: db}
}

const ruleColumns = `id, user_id, name, enabled, conditions, actions, matched_count, last_matched_at, created_at, updated_at`

func (r *SQLRuleRepository) GetRule(ruleID string) (*Rule, error) {
	row := r.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, ruleID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// GetEnabledRules returns enabled rules in creation order, which fixes the
// order rule actions are applied in.
func (r *SQLRuleRepository) GetEnabledRules() ([]Rule, error) {
	rows, err := r.db.Query(`
		SELECT ` + ruleColumns + ` FROM rules
		WHERE enabled = 1
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}

	return rules, nil
}

func (r *SQLRuleRepository) GetRuleCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM rules").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get rule count: %w", err)
	}
	return count, nil
}

func (r *SQLRuleRepository) UpsertRule(rule Rule) error {
	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	conditions := rule.Conditions
	if conditions == "" {
		conditions = "[]"
	}
	actions := rule.Actions
	if actions == "" {
		actions = "[]"
	}

	_, err := r.db.Exec(`
		INSERT INTO rules (id, user_id, name, enabled, conditions, actions, matched_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			enabled = excluded.enabled,
			conditions = excluded.conditions,
			actions = excluded.actions,
			updated_at = excluded.updated_at
	`, rule.ID, rule.UserID, rule.Name, rule.Enabled, conditions, actions,
		rule.MatchedCount, formatTime(createdAt), formatTime(now))

	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}

	return nil
}

// MarkRuleMatched increments the monotonic match counter and stamps the
// match time.
func (r *SQLRuleRepository) MarkRuleMatched(ruleID string, matchedAt time.Time) error {
	res, err := r.db.Exec(`
		UPDATE rules
		SET matched_count = matched_count + 1, last_matched_at = ?, updated_at = ?
		WHERE id = ?
	`, formatTime(matchedAt), formatTime(time.Now().UTC()), ruleID)

	if err != nil {
		return fmt.Errorf("failed to mark rule matched: %w", err)
	}

	return requireRow(res)
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var lastMatchedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &rule.Enabled,
		&rule.Conditions, &rule.Actions, &rule.MatchedCount,
		&lastMatchedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rule.LastMatchedAt, err = parseTimePtr(lastMatchedAt); err != nil {
		return nil, err
	}
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &rule, nil
}
