package repository

import (
	"context"

	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *model.Snapshot) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Snapshot, error)
	FindAll(ctx context.Context) ([]model.Snapshot, error)
}

type snapshotRepo struct {
	db *gorm.DB
}

func NewSnapshotRepo(db *gorm.DB) SnapshotRepository {
	return &snapshotRepo{db}
}

func (r *snapshotRepo) Create(ctx context.Context, snapshot *model.Snapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *snapshotRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := r.db.WithContext(ctx).First(&snapshot, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &snapshot, nil
}

func (r *snapshotRepo) FindAll(ctx context.Context) ([]model.Snapshot, error) {
	var snapshots []model.Snapshot
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&snapshots).Error
	return snapshots, err
}
