package repository

import (
	"context"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
)

// IntegrationLogRepository is append-only: there is no update or delete.
type IntegrationLogRepository struct {
	*pg.DB
}

func NewIntegrationLogRepository(db *pg.DB) *IntegrationLogRepository {
	return &IntegrationLogRepository{
		db,
	}
}

func (r *IntegrationLogRepository) Create(ctx context.Context, entry *model.IntegrationLogEntry) (*model.IntegrationLogEntry, error) {
	entity := toIntegrationLogEntity(entry)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toIntegrationLogModel(entity), nil
}

// CreateBatch appends several entries in one statement.
func (r *IntegrationLogRepository) CreateBatch(ctx context.Context, entries []*model.IntegrationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	entities := make([]*IntegrationLogEntity, len(entries))
	for i, e := range entries {
		entities[i] = toIntegrationLogEntity(e)
	}
	return r.Write(ctx).CreateInBatches(entities, 100).Error
}

// ListRecent returns the newest entries, optionally for one action.
func (r *IntegrationLogRepository) ListRecent(ctx context.Context, action string, limit int) ([]*model.IntegrationLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	q := r.Read(ctx).Model(&IntegrationLogEntity{})
	if action != "" {
		q = q.Where("action = ?", action)
	}

	var entities []*IntegrationLogEntity
	if err := q.Order("id DESC").Limit(limit).Find(&entities).Error; err != nil {
		return nil, err
	}

	out := make([]*model.IntegrationLogEntry, len(entities))
	for i, e := range entities {
		out[i] = toIntegrationLogModel(e)
	}
	return out, nil
}
