package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lychee-technology/refslice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	refslice.DatabaseAdapter
	failNext bool
}

func (f *flakyAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	if f.failNext {
		return nil, errors.New("connection reset")
	}
	return []map[string]any{{"id": 1}}, nil
}

func TestWrapWithCircuitBreakerDisabledByZeroThreshold(t *testing.T) {
	inner := &flakyAdapter{}
	wrapped := WrapWithCircuitBreaker(inner, 0, time.Second, time.Second)
	assert.Same(t, refslice.DatabaseAdapter(inner), wrapped)
}

func TestWrapWithCircuitBreakerOpensAfterThreshold(t *testing.T) {
	inner := &flakyAdapter{failNext: true}
	wrapped := WrapWithCircuitBreaker(inner, 2, time.Minute, time.Minute)

	_, err := wrapped.FetchRows(context.Background(), "orders", "id = ?", []any{1})
	require.Error(t, err)
	_, err = wrapped.FetchRows(context.Background(), "orders", "id = ?", []any{1})
	require.Error(t, err)

	_, err = wrapped.FetchRows(context.Background(), "orders", "id = ?", []any{1})
	require.Error(t, err)
	rerr, ok := err.(*refslice.RefsliceError)
	require.True(t, ok)
	assert.Contains(t, rerr.Message, "circuit breaker open")
}

func TestWrapWithCircuitBreakerRecoversOnSuccess(t *testing.T) {
	inner := &flakyAdapter{failNext: true}
	wrapped := WrapWithCircuitBreaker(inner, 5, time.Minute, time.Minute)

	_, err := wrapped.FetchRows(context.Background(), "orders", "id = ?", []any{1})
	require.Error(t, err)

	inner.failNext = false
	rows, err := wrapped.FetchRows(context.Background(), "orders", "id = ?", []any{1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
