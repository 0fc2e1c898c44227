// Package mocks provides testify mocks of the repository contracts for service tests.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// AuditRepository is a mock implementation of repositories.AuditRepository
type AuditRepository struct {
	mock.Mock
}

func (m *AuditRepository) Create(ctx context.Context, audit *models.Audit) error {
	args := m.Called(ctx, audit)
	return args.Error(0)
}

func (m *AuditRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Audit, error) {
	args := m.Called(ctx, id, ownerID)
	if audit := args.Get(0); audit != nil {
		return audit.(*models.Audit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *AuditRepository) BeginRun(ctx context.Context, params repositories.BeginRunParams) (*models.Audit, error) {
	args := m.Called(ctx, params)
	if audit := args.Get(0); audit != nil {
		return audit.(*models.Audit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *AuditRepository) CompleteRun(ctx context.Context, auditID uuid.UUID, runToken string, result *models.AuditResult, completedAt time.Time) error {
	args := m.Called(ctx, auditID, runToken, result, completedAt)
	return args.Error(0)
}

func (m *AuditRepository) FailRun(ctx context.Context, auditID uuid.UUID, runToken, reason string, failedAt time.Time) error {
	args := m.Called(ctx, auditID, runToken, reason, failedAt)
	return args.Error(0)
}

// DatasetRepository is a mock implementation of repositories.DatasetRepository
type DatasetRepository struct {
	mock.Mock
}

func (m *DatasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	args := m.Called(ctx, dataset)
	return args.Error(0)
}

func (m *DatasetRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Dataset, error) {
	args := m.Called(ctx, id, ownerID)
	if dataset := args.Get(0); dataset != nil {
		return dataset.(*models.Dataset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DatasetRepository) SaveExternalHandle(ctx context.Context, id uuid.UUID, handle string, uploadedAt time.Time) error {
	args := m.Called(ctx, id, handle, uploadedAt)
	return args.Error(0)
}

// RunEventRepository is a mock implementation of repositories.RunEventRepository.
// Inserted events are recorded for inspection.
type RunEventRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.RunEvent
}

func (m *RunEventRepository) Insert(ctx context.Context, event *models.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, event)
	m.inserted = append(m.inserted, event)
	return args.Error(0)
}

func (m *RunEventRepository) ListByAudit(ctx context.Context, auditID uuid.UUID, limit int) ([]*models.RunEvent, error) {
	args := m.Called(ctx, auditID, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.RunEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// Inserted returns a copy of the events passed to Insert
func (m *RunEventRepository) Inserted() []*models.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RunEvent, len(m.inserted))
	copy(out, m.inserted)
	return out
}

// Kinds returns the kinds of the inserted events in insertion order
func (m *RunEventRepository) Kinds() []models.RunEventKind {
	events := m.Inserted()
	kinds := make([]models.RunEventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
