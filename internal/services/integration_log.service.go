package services

import (
	"context"
	"time"

	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/worker"
)

const integrationLogWriteTimeout = 5 * time.Second

type IntegrationLogRepository interface {
	Create(ctx context.Context, entry *model.IntegrationLogEntry) (*model.IntegrationLogEntry, error)
	ListRecent(ctx context.Context, action string, limit int) ([]*model.IntegrationLogEntry, error)
}

// IntegrationLog records every provider call. Writes happen on a worker pool
// so a slow database never adds latency to an upstream call; when the buffer
// is full the entry is dropped with a warning.
type IntegrationLog struct {
	repo    IntegrationLogRepository
	workers *worker.WorkerManager[*model.IntegrationLogEntry]
}

var _ gateway.CallObserver = (*IntegrationLog)(nil)

func NewIntegrationLog(repo IntegrationLogRepository, bufferSize, workers int) *IntegrationLog {
	if bufferSize <= 0 {
		bufferSize = 10_000
	}
	l := &IntegrationLog{repo: repo}
	l.workers = worker.NewWorkerManager("integration-log", bufferSize, workers, func(_ int, entry *model.IntegrationLogEntry) {
		l.write(entry)
	})
	return l
}

func (l *IntegrationLog) Start() {
	l.workers.Start()
}

// Close writes what is buffered and stops the workers.
func (l *IntegrationLog) Close() {
	l.workers.Stop()
}

func (l *IntegrationLog) ObserveCall(rec gateway.CallRecord) {
	entry := &model.IntegrationLogEntry{
		Endpoint:   rec.Endpoint,
		Method:     rec.Method,
		Action:     rec.Action,
		Request:    rec.Request,
		Response:   rec.Response,
		StatusCode: rec.StatusCode,
		DurationMs: rec.DurationMs,
		Attempts:   rec.Attempts,
		Success:    rec.Success,
		Error:      rec.Error,
		CreatedAt:  rec.At,
	}
	if !l.workers.TryEnqueue(entry) {
		logger.Warn("Integration log entry dropped, buffer full", "action", rec.Action, "status_code", rec.StatusCode)
	}
}

func (l *IntegrationLog) Recent(ctx context.Context, action string, limit int) ([]*model.IntegrationLogEntry, error) {
	entries, err := l.repo.ListRecent(ctx, action, limit)
	if err != nil {
		return nil, coded(err, "failed to list integration logs")
	}
	return entries, nil
}

func (l *IntegrationLog) write(entry *model.IntegrationLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), integrationLogWriteTimeout)
	defer cancel()

	if _, err := l.repo.Create(ctx, entry); err != nil {
		logger.Warn("Failed to write integration log", "action", entry.Action, "error", err)
	}
}
