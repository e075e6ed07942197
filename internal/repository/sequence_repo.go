package repository

import (
	"context"

	"go-invoice-stock/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SequenceRepository interface {
	NextTx(tx *gorm.DB, name string) (int64, error)
	EnsureAtLeastTx(tx *gorm.DB, name string, value int64) error
	Current(ctx context.Context, name string) (int64, error)
}

type sequenceRepo struct {
	db *gorm.DB
}

func NewSequenceRepo(db *gorm.DB) SequenceRepository {
	return &sequenceRepo{db}
}

func ensureSequence(tx *gorm.DB, name string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Sequence{Name: name}).Error
}

// NextTx increments and returns the counter. The UPDATE holds the row lock
// until tx commits, so concurrent callers never observe the same value.
func (r *sequenceRepo) NextTx(tx *gorm.DB, name string) (int64, error) {
	if err := ensureSequence(tx, name); err != nil {
		return 0, err
	}
	if err := tx.Model(&model.Sequence{}).Where("name = ?", name).
		UpdateColumn("value", gorm.Expr("value + 1")).Error; err != nil {
		return 0, err
	}
	var seq model.Sequence
	if err := tx.First(&seq, "name = ?", name).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

func (r *sequenceRepo) EnsureAtLeastTx(tx *gorm.DB, name string, value int64) error {
	if err := ensureSequence(tx, name); err != nil {
		return err
	}
	return tx.Model(&model.Sequence{}).Where("name = ? AND value < ?", name, value).
		UpdateColumn("value", value).Error
}

func (r *sequenceRepo) Current(ctx context.Context, name string) (int64, error) {
	var seq model.Sequence
	err := r.db.WithContext(ctx).First(&seq, "name = ?", name).Error
	if err != nil {
		if translateError(err) == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return seq.Value, nil
}
