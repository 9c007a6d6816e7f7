package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthService_Check(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all healthy", func(t *testing.T) {
		report, err := NewHealthService(map[string]Pinger{"postgres": ok, "redis": ok}).Check(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, report)
	})

	t.Run("first failure is named", func(t *testing.T) {
		report, err := NewHealthService(map[string]Pinger{"postgres": down, "redis": down}).Check(context.Background())
		assert.EqualError(t, err, "postgres: connection refused")
		assert.Equal(t, "connection refused", report["redis"])
	})

	t.Run("every ping gets a deadline", func(t *testing.T) {
		var hasDeadline bool
		probe := PingFunc(func(ctx context.Context) error {
			_, hasDeadline = ctx.Deadline()
			return nil
		})
		_, err := NewHealthService(map[string]Pinger{"probe": probe}).Check(context.Background())
		assert.NoError(t, err)
		assert.True(t, hasDeadline)
	})

	t.Run("no checks", func(t *testing.T) {
		report, err := NewHealthService(nil).Check(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, report)
	})
}
