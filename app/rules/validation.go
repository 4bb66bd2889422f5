package rules

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate checks a single condition for structural soundness. Matching
// still never throws on malformed conditions; this guards the authoring
// surface before a rule is saved or dry-run.
func (c Condition) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Field, validation.Required,
			validation.In(FieldTitle, FieldContent, FieldAuthor, FieldCategory, FieldTag, FieldFeedTitle)),
		validation.Field(&c.Operator, validation.Required,
			validation.In(OpContains, OpNotContains, OpEquals, OpNotEquals, OpMatches, OpIn, OpGreaterThan, OpLessThan)),
	); err != nil {
		return err
	}

	switch c.Operator {
	case OpIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("operator %q requires a non-empty values list", c.Operator)
		}
	case OpMatches:
		if _, err := regexp.Compile("(?i)" + c.Value); err != nil {
			return fmt.Errorf("invalid pattern for operator %q: %w", c.Operator, err)
		}
	}

	return nil
}

// Validate checks that an action carries the params its variant needs.
func (a Action) Validate() error {
	if err := validation.ValidateStruct(&a,
		validation.Field(&a.Type, validation.Required,
			validation.In(ActionMarkRead, ActionMarkUnread, ActionStar, ActionUnstar,
				ActionArchive, ActionUnarchive, ActionAssignCategory, ActionAddTag, ActionRemoveTag, ActionSkip)),
	); err != nil {
		return err
	}

	switch a.Type {
	case ActionAssignCategory:
		if a.CategoryID == "" {
			return fmt.Errorf("action %q requires categoryId", a.Type)
		}
	case ActionAddTag, ActionRemoveTag:
		if a.Tag == "" {
			return fmt.Errorf("action %q requires a tag", a.Type)
		}
	}

	return nil
}

// ValidateDraft validates an unsaved rule before a dry run or save.
func ValidateDraft(draft Draft) error {
	return validation.ValidateStruct(&draft,
		validation.Field(&draft.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&draft.Conditions),
		validation.Field(&draft.Actions),
	)
}
