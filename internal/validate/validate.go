// Package validate checks execution results against per-task criteria.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/forgeworks/promptforge/internal/domain"
)

// Predicate is a caller-supplied check over the raw output. It returns
// whether the output passes and, when it does not, a human-readable reason.
type Predicate func(output string) (bool, string)

// Outcome is the verdict for one result. Reasons lists every violated rule
// in declaration order, not just the first, so retries can be enriched with
// the full failure picture.
type Outcome struct {
	Passed  bool
	Reasons []string
}

// Validator evaluates criteria against execution results. Predicates are
// registered by name at construction time and referenced from criteria by
// that name, so criteria stay serializable.
type Validator struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// New creates a Validator with no registered predicates.
func New() *Validator {
	return &Validator{predicates: make(map[string]Predicate)}
}

// RegisterPredicate makes a named predicate available to criteria.
// Registering a name twice replaces the earlier predicate.
func (v *Validator) RegisterPredicate(name string, p Predicate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.predicates[name] = p
}

// Check evaluates every configured rule against the result. Rules are never
// short-circuited: a failing result reports all of its violations.
func (v *Validator) Check(result *domain.Result, criteria domain.Criteria) Outcome {
	reasons := []string{}
	if result == nil {
		return Outcome{Passed: false, Reasons: []string{"no result captured"}}
	}
	output := result.Output

	if criteria.MinLength > 0 && len(output) < criteria.MinLength {
		reasons = append(reasons, fmt.Sprintf(
			"output length %d below minimum %d", len(output), criteria.MinLength))
	}
	if criteria.MaxLength > 0 && len(output) > criteria.MaxLength {
		reasons = append(reasons, fmt.Sprintf(
			"output length %d above maximum %d", len(output), criteria.MaxLength))
	}

	for _, substr := range criteria.RequiredSubstrings {
		if !strings.Contains(output, substr) {
			reasons = append(reasons, fmt.Sprintf("required substring %q missing", substr))
		}
	}

	for _, pattern := range criteria.RequiredPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Criteria are validated at submission, so this indicates the
			// record was edited on disk after the fact.
			reasons = append(reasons, fmt.Sprintf("required pattern %q does not compile: %v", pattern, err))
			continue
		}
		if !re.MatchString(output) {
			reasons = append(reasons, fmt.Sprintf("required pattern %q not matched", pattern))
		}
	}

	for _, marker := range criteria.ForbiddenMarkers {
		if strings.Contains(output, marker) {
			reasons = append(reasons, fmt.Sprintf("forbidden marker %q present", marker))
		}
	}

	v.mu.RLock()
	for _, name := range criteria.Predicates {
		p, ok := v.predicates[name]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("predicate %q is not registered", name))
			continue
		}
		if passed, reason := p(output); !passed {
			if reason == "" {
				reason = fmt.Sprintf("predicate %q rejected output", name)
			}
			reasons = append(reasons, reason)
		}
	}
	v.mu.RUnlock()

	return Outcome{Passed: len(reasons) == 0, Reasons: reasons}
}
