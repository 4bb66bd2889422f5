package rules

import (
	"encoding/json"
	"fmt"
)

type Field string

const (
	FieldTitle     Field = "title"
	FieldContent   Field = "content"
	FieldAuthor    Field = "author"
	FieldCategory  Field = "category"
	FieldTag       Field = "tag"
	FieldFeedTitle Field = "feedTitle"
)

type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpMatches     Operator = "matches"
	OpIn          Operator = "in"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
)

// Condition is one field test. All conditions of a rule must match (AND
// semantics); a rule with zero conditions matches unconditionally.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"` // membership list for the "in" operator
}

type ActionType string

const (
	ActionMarkRead       ActionType = "markRead"
	ActionMarkUnread     ActionType = "markUnread"
	ActionStar           ActionType = "star"
	ActionUnstar         ActionType = "unstar"
	ActionArchive        ActionType = "archive"
	ActionUnarchive      ActionType = "unarchive"
	ActionAssignCategory ActionType = "assignCategory"
	ActionAddTag         ActionType = "addTag"
	ActionRemoveTag      ActionType = "removeTag"
	ActionSkip           ActionType = "skip"
)

// Action is a tagged union keyed by Type; only the fields its variant needs
// are populated.
type Action struct {
	Type       ActionType `json:"type"`
	CategoryID string     `json:"categoryId,omitempty"` // assignCategory
	Tag        string     `json:"tag,omitempty"`        // addTag, removeTag
}

// Draft is an unsaved rule as submitted by a rule author for a dry run.
type Draft struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

func DecodeConditions(encoded string) ([]Condition, error) {
	if encoded == "" {
		return nil, nil
	}
	var conditions []Condition
	if err := json.Unmarshal([]byte(encoded), &conditions); err != nil {
		return nil, fmt.Errorf("failed to decode rule conditions: %w", err)
	}
	return conditions, nil
}

func DecodeActions(encoded string) ([]Action, error) {
	if encoded == "" {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal([]byte(encoded), &actions); err != nil {
		return nil, fmt.Errorf("failed to decode rule actions: %w", err)
	}
	return actions, nil
}

func EncodeConditions(conditions []Condition) (string, error) {
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule conditions: %w", err)
	}
	return string(encoded), nil
}

func EncodeActions(actions []Action) (string, error) {
	encoded, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule actions: %w", err)
	}
	return string(encoded), nil
}
