package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Run("creates queued task with defaults", func(t *testing.T) {
		task, err := NewTask("episode-recap", []Parameter{{Name: "topic", Value: "launch"}}, Criteria{}, 3)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, StateQueued, task.State)
		assert.Equal(t, 0, task.AttemptCount)
		assert.Equal(t, 3, task.MaxAttempts)
		assert.Empty(t, task.History)
		assert.False(t, task.CreatedAt.IsZero())
		assert.NoError(t, task.Validate())
	})

	t.Run("rejects empty template ref", func(t *testing.T) {
		_, err := NewTask("", nil, Criteria{}, 1)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("rejects negative max attempts", func(t *testing.T) {
		_, err := NewTask("ref", nil, Criteria{}, -1)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("rejects malformed pattern criteria", func(t *testing.T) {
		_, err := NewTask("ref", nil, Criteria{RequiredPatterns: []string{"["}}, 1)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestCriteriaValidate(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		wantErr  bool
	}{
		{"empty criteria", Criteria{}, false},
		{"valid bounds", Criteria{MinLength: 10, MaxLength: 100}, false},
		{"min exceeds max", Criteria{MinLength: 100, MaxLength: 10}, true},
		{"negative min", Criteria{MinLength: -1}, true},
		{"negative max", Criteria{MaxLength: -1}, true},
		{"valid pattern", Criteria{RequiredPatterns: []string{`\d+`}}, false},
		{"invalid pattern", Criteria{RequiredPatterns: []string{"("}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCriteria)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	t.Run("walks the full happy path", func(t *testing.T) {
		task, err := NewTask("ref", nil, Criteria{}, 1)
		require.NoError(t, err)

		path := []TaskState{
			StateInjected,
			StateValidated,
			StateApproved,
			StateDispatched,
			StateExecuted,
			StateSucceeded,
		}
		for _, next := range path {
			require.NoError(t, task.Transition(next))
			assert.Equal(t, next, task.State)
		}
		assert.True(t, task.Terminal())
	})

	t.Run("failure loops back through requeued", func(t *testing.T) {
		task, err := NewTask("ref", nil, Criteria{}, 2)
		require.NoError(t, err)

		require.NoError(t, task.Transition(StateInjected))
		require.NoError(t, task.Transition(StateValidated))
		require.NoError(t, task.Transition(StateApproved))
		require.NoError(t, task.Transition(StateDispatched))
		require.NoError(t, task.Transition(StateFailed))
		require.NoError(t, task.Transition(StateRequeued))
		require.NoError(t, task.Transition(StateQueued))
		assert.False(t, task.Terminal())
	})

	t.Run("rejects edges not in the graph", func(t *testing.T) {
		illegal := []struct {
			from TaskState
			to   TaskState
		}{
			{StateQueued, StateApproved},    // skipping inject/validate
			{StateInjected, StateApproved},  // skipping validate
			{StateQueued, StateDispatched},  // skipping everything
			{StateSucceeded, StateQueued},   // terminal states have no edges
			{StateAbandoned, StateRequeued}, // terminal states have no edges
			{StateExecuted, StateRequeued},  // requeue only reachable via failed
		}

		for _, tc := range illegal {
			task, err := NewTask("ref", nil, Criteria{}, 1)
			require.NoError(t, err)
			task.State = tc.from

			err = task.Transition(tc.to)
			assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", tc.from, tc.to)
			assert.Equal(t, tc.from, task.State, "state must not change on illegal transition")
		}
	})
}

func TestAppendHistory(t *testing.T) {
	task, err := NewTask("ref", nil, Criteria{}, 1)
	require.NoError(t, err)

	task.AppendHistory("queue", "ok", "")
	task.AppendHistory("inject", "ok", "context merged")

	require.Len(t, task.History, 2)
	assert.Equal(t, "queue", task.History[0].Stage)
	assert.Equal(t, "inject", task.History[1].Stage)
	assert.Equal(t, "context merged", task.History[1].Message)
	assert.False(t, task.History[0].Timestamp.After(task.History[1].Timestamp))
}

func TestResetForRecovery(t *testing.T) {
	task, err := NewTask("ref", nil, Criteria{}, 1)
	require.NoError(t, err)
	require.NoError(t, task.Transition(StateInjected))
	require.NoError(t, task.Transition(StateValidated))

	task.ResetForRecovery("found in flight on startup")

	assert.Equal(t, StateQueued, task.State)
	require.NotEmpty(t, task.History)
	last := task.History[len(task.History)-1]
	assert.Equal(t, "recovery", last.Stage)
}
