package rules

import (
	"errors"
	"fmt"
)

// DuplicateRuleError is returned when registering a rule whose id is
// already present. The catalog is unchanged after the failed attempt.
type DuplicateRuleError struct {
	ID string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule id %q", e.ID)
}

// ConflictingRuleError is returned when a rule's ConflictsWith set names a
// rule that is already registered.
type ConflictingRuleError struct {
	ID            string // the rule being registered
	ConflictsWith string // the already-registered rule it conflicts with
}

func (e *ConflictingRuleError) Error() string {
	return fmt.Sprintf("rule %q conflicts with registered rule %q", e.ID, e.ConflictsWith)
}

// IsDuplicateRule reports whether err is a DuplicateRuleError.
// Uses errors.As to handle wrapped errors.
func IsDuplicateRule(err error) bool {
	var de *DuplicateRuleError
	return errors.As(err, &de)
}

// IsConflictingRule reports whether err is a ConflictingRuleError.
// Uses errors.As to handle wrapped errors.
func IsConflictingRule(err error) bool {
	var ce *ConflictingRuleError
	return errors.As(err, &ce)
}
