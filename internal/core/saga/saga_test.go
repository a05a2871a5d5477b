package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_UnwindReverseOrder(t *testing.T) {
	var order []string
	var s Stack
	for _, name := range []string{"delete repository", "release reservation", "delete DNS record"} {
		name := name
		s.Push(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.Equal(t, 3, s.Len())

	results := s.Unwind(context.Background())

	assert.Equal(t, []string{"delete DNS record", "release reservation", "delete repository"}, order)
	assert.Len(t, results, 3)
	assert.NoError(t, Errors(results))
	assert.Equal(t, 0, s.Len())
}

func TestStack_UnwindContinuesAfterFailure(t *testing.T) {
	ran := map[string]bool{}
	var s Stack
	s.Push("first", func(ctx context.Context) error {
		ran["first"] = true
		return nil
	})
	s.Push("second", func(ctx context.Context) error {
		return errors.New("api down")
	})

	results := s.Unwind(context.Background())

	assert.True(t, ran["first"])
	err := Errors(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: api down")
}

func TestStack_UnwindRecoversPanic(t *testing.T) {
	var s Stack
	s.Push("boom", func(ctx context.Context) error {
		panic("nil client")
	})

	results := s.Unwind(context.Background())

	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0].Err, "nil client")
}

func TestStack_Empty(t *testing.T) {
	var s Stack
	assert.Empty(t, s.Unwind(context.Background()))
	assert.Empty(t, s.Names())
}

func TestStack_Names(t *testing.T) {
	var s Stack
	s.Push("a", func(context.Context) error { return nil })
	s.Push("b", func(context.Context) error { return nil })
	assert.Equal(t, []string{"a", "b"}, s.Names())
}
