package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New[int](time.Now(), nil, func(context.Context, int) (Outcome, error) { return Ok, nil }, 1)
	assert.ErrorIs(t, err, ErrNoRecurrence)
	_, err = New[int](time.Now(), RunOnce{}, nil, 1)
	assert.ErrorIs(t, err, ErrNoAction)
}

func TestTaskDefaultsAndState(t *testing.T) {
	t.Parallel()
	type payload struct{ hits int }
	p := &payload{}
	runAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tk, err := New(runAt, RunOnce{}, func(_ context.Context, s *payload) (Outcome, error) {
		s.hits++
		return Ok, nil
	}, p)
	require.NoError(t, err)

	assert.True(t, tk.IsActive())
	assert.Equal(t, runAt, tk.NextRunAt())
	assert.Equal(t, KindOnce, tk.Recurrence().Kind())

	tk.SetActive(false)
	assert.False(t, tk.IsActive())

	out, err := tk.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ok, out)
	assert.Equal(t, 1, p.hits, "state is handed to the action by reference")
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "canceled", Canceled.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
