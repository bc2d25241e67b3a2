package domain

import (
	"fmt"
	"regexp"
)

// Criteria describes the rules an execution result must satisfy before the
// task is considered succeeded. All rules are data so criteria survive the
// persist/load round trip; caller-supplied predicate functions are referenced
// by registered name.
type Criteria struct {
	// MinLength is the minimum output length in bytes. Zero disables the rule.
	MinLength int `json:"min_length,omitempty"`

	// MaxLength is the maximum output length in bytes. Zero disables the rule.
	MaxLength int `json:"max_length,omitempty"`

	// RequiredSubstrings must all appear in the output.
	RequiredSubstrings []string `json:"required_substrings,omitempty"`

	// RequiredPatterns are regular expressions that must all match the output.
	RequiredPatterns []string `json:"required_patterns,omitempty"`

	// ForbiddenMarkers must not appear in the output. Typically executor
	// error sentinels.
	ForbiddenMarkers []string `json:"forbidden_markers,omitempty"`

	// Predicates are names of caller-registered predicate functions.
	Predicates []string `json:"predicates,omitempty"`
}

// Validate checks that the criteria are well formed. In particular every
// required pattern must compile, so a bad pattern is caught at submission
// time rather than after the executor has already been paid for.
func (c Criteria) Validate() error {
	if c.MinLength < 0 {
		return fmt.Errorf("%w: min length cannot be negative", ErrInvalidCriteria)
	}
	if c.MaxLength < 0 {
		return fmt.Errorf("%w: max length cannot be negative", ErrInvalidCriteria)
	}
	if c.MaxLength > 0 && c.MinLength > c.MaxLength {
		return fmt.Errorf(
			"%w: min length %d exceeds max length %d",
			ErrInvalidCriteria,
			c.MinLength,
			c.MaxLength,
		)
	}
	for _, pattern := range c.RequiredPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidCriteria, pattern, err)
		}
	}
	return nil
}
