package services

import (
	"context"
	"testing"
	"time"

	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationLog_RecordsCalls(t *testing.T) {
	f := setup(t, 0)
	log := NewIntegrationLog(repository.NewIntegrationLogRepository(f.db), 10, 1)
	log.Start()

	log.ObserveCall(gateway.CallRecord{
		Endpoint:   "https://vendor.example/api/v2",
		Method:     "POST",
		Action:     "add",
		Request:    "key=***&action=add&service=1",
		Response:   `{"order":"1"}`,
		StatusCode: 200,
		DurationMs: 12,
		Attempts:   1,
		Success:    true,
		At:         time.Now().UTC(),
	})
	log.ObserveCall(gateway.CallRecord{Action: "status", StatusCode: 502, Attempts: 3, Error: "bad gateway", At: time.Now().UTC()})
	log.Close()

	all, err := log.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	adds, err := log.Recent(context.Background(), "add", 10)
	require.NoError(t, err)
	require.Len(t, adds, 1)
	assert.Equal(t, "key=***&action=add&service=1", adds[0].Request)
	assert.True(t, adds[0].Success)
}

func TestIntegrationLog_DropsWhenFull(t *testing.T) {
	f := setup(t, 0)
	log := NewIntegrationLog(repository.NewIntegrationLogRepository(f.db), 1, 1)

	log.ObserveCall(gateway.CallRecord{Action: "add"})
	log.ObserveCall(gateway.CallRecord{Action: "add"})

	assert.Equal(t, 1, log.workers.Pending())
}
