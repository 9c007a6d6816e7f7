package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
)

type IntegrationLogEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	Endpoint   string    `db:"endpoint"    gorm:"column:endpoint;not null"`
	Method     string    `db:"method"      gorm:"column:method;not null"`
	Action     string    `db:"action"      gorm:"column:action;not null;index"`
	Request    string    `db:"request"     gorm:"column:request;type:text"`
	Response   string    `db:"response"    gorm:"column:response;type:text"`
	StatusCode int       `db:"status_code" gorm:"column:status_code"`
	DurationMs int64     `db:"duration_ms" gorm:"column:duration_ms"`
	Attempts   int       `db:"attempts"    gorm:"column:attempts"`
	Success    bool      `db:"success"     gorm:"column:success;not null"`
	Error      string    `db:"error"       gorm:"column:error"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime;index"`
}

func (IntegrationLogEntity) TableName() string {
	return "integration_logs"
}

func toIntegrationLogEntity(m *model.IntegrationLogEntry) *IntegrationLogEntity {
	if m == nil {
		return nil
	}
	return &IntegrationLogEntity{
		ID:         m.ID,
		Endpoint:   m.Endpoint,
		Method:     m.Method,
		Action:     m.Action,
		Request:    m.Request,
		Response:   m.Response,
		StatusCode: m.StatusCode,
		DurationMs: m.DurationMs,
		Attempts:   m.Attempts,
		Success:    m.Success,
		Error:      m.Error,
		CreatedAt:  m.CreatedAt,
	}
}

func toIntegrationLogModel(e *IntegrationLogEntity) *model.IntegrationLogEntry {
	if e == nil {
		return nil
	}
	return &model.IntegrationLogEntry{
		ID:         e.ID,
		Endpoint:   e.Endpoint,
		Method:     e.Method,
		Action:     e.Action,
		Request:    e.Request,
		Response:   e.Response,
		StatusCode: e.StatusCode,
		DurationMs: e.DurationMs,
		Attempts:   e.Attempts,
		Success:    e.Success,
		Error:      e.Error,
		CreatedAt:  e.CreatedAt,
	}
}
