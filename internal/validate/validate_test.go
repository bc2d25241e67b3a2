package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/promptforge/internal/domain"
)

func TestCheckPasses(t *testing.T) {
	v := New()
	result := &domain.Result{Output: "A thorough recap of episode twelve."}
	criteria := domain.Criteria{
		MinLength:          10,
		MaxLength:          200,
		RequiredSubstrings: []string{"recap"},
		RequiredPatterns:   []string{`episode \w+`},
		ForbiddenMarkers:   []string{"ERROR:"},
	}

	outcome := v.Check(result, criteria)

	assert.True(t, outcome.Passed)
	assert.Empty(t, outcome.Reasons)
}

func TestCheckReportsEveryViolation(t *testing.T) {
	v := New()
	result := &domain.Result{Output: "ERROR: timeout"}
	criteria := domain.Criteria{
		MinLength:          50,
		RequiredSubstrings: []string{"recap", "finale"},
		RequiredPatterns:   []string{`\bepisode\b`},
		ForbiddenMarkers:   []string{"ERROR:"},
	}

	outcome := v.Check(result, criteria)

	require.False(t, outcome.Passed)
	require.Len(t, outcome.Reasons, 5, "all rules evaluated, none short-circuited")

	// Reasons follow rule declaration order.
	assert.Contains(t, outcome.Reasons[0], "below minimum")
	assert.Contains(t, outcome.Reasons[1], `"recap"`)
	assert.Contains(t, outcome.Reasons[2], `"finale"`)
	assert.Contains(t, outcome.Reasons[3], "not matched")
	assert.Contains(t, outcome.Reasons[4], "forbidden marker")
}

func TestCheckNilResult(t *testing.T) {
	v := New()

	outcome := v.Check(nil, domain.Criteria{})

	assert.False(t, outcome.Passed)
	require.Len(t, outcome.Reasons, 1)
	assert.Contains(t, outcome.Reasons[0], "no result")
}

func TestCheckEmptyCriteriaPasses(t *testing.T) {
	v := New()

	outcome := v.Check(&domain.Result{Output: ""}, domain.Criteria{})

	assert.True(t, outcome.Passed)
}

func TestCheckPredicates(t *testing.T) {
	v := New()
	v.RegisterPredicate("no-shouting", func(output string) (bool, string) {
		if strings.ToUpper(output) == output && output != "" {
			return false, "output is all caps"
		}
		return true, ""
	})
	v.RegisterPredicate("silent-reject", func(output string) (bool, string) {
		return false, ""
	})

	t.Run("passing predicate", func(t *testing.T) {
		outcome := v.Check(
			&domain.Result{Output: "calm text"},
			domain.Criteria{Predicates: []string{"no-shouting"}},
		)
		assert.True(t, outcome.Passed)
	})

	t.Run("failing predicate reports its reason", func(t *testing.T) {
		outcome := v.Check(
			&domain.Result{Output: "LOUD TEXT"},
			domain.Criteria{Predicates: []string{"no-shouting"}},
		)
		require.False(t, outcome.Passed)
		assert.Equal(t, []string{"output is all caps"}, outcome.Reasons)
	})

	t.Run("empty predicate reason gets a default", func(t *testing.T) {
		outcome := v.Check(
			&domain.Result{Output: "anything"},
			domain.Criteria{Predicates: []string{"silent-reject"}},
		)
		require.False(t, outcome.Passed)
		assert.Contains(t, outcome.Reasons[0], "silent-reject")
	})

	t.Run("unregistered predicate fails the check", func(t *testing.T) {
		outcome := v.Check(
			&domain.Result{Output: "anything"},
			domain.Criteria{Predicates: []string{"missing"}},
		)
		require.False(t, outcome.Passed)
		assert.Contains(t, outcome.Reasons[0], "not registered")
	})
}
