package repository

import (
	"context"

	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductFilter struct {
	Search          string
	IncludeArchived bool
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	FindAll(ctx context.Context, filter ProductFilter) ([]model.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	SKUTaken(ctx context.Context, sku string) (bool, error)
	Update(ctx context.Context, product *model.Product) error
	AddVariant(ctx context.Context, variant *model.Variant) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListStockRecords(ctx context.Context) ([]model.StockRecord, error)

	// Stock columns are only written through these, inside a ledger transaction.
	LoadStockRecord(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error)
	CompareAndSwapQty(tx *gorm.DB, rec model.StockRecord, newQty int) error

	// Restore writes.
	UpsertProductTx(tx *gorm.DB, product *model.Product) (created bool, err error)
	UpsertVariantTx(tx *gorm.DB, variant *model.Variant) (created bool, err error)
}

type productRepo struct {
	db *gorm.DB
}

func NewProductRepo(db *gorm.DB) ProductRepository {
	return &productRepo{db}
}

// catalog columns; stock columns are never part of a catalog update
var catalogColumns = []string{
	"title", "article_code", "brand", "category", "wholesale_price", "retail_price",
	"club_price", "cost_before", "cost_after", "uses_global_stock", "updated_at",
}

// PreloadVariants is the one variant ordering used by loads and snapshots.
func PreloadVariants(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, sku ASC")
}

func (r *productRepo) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepo) FindAll(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	var products []model.Product
	q := r.db.WithContext(ctx).Preload("Variants", PreloadVariants)
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("title LIKE ? OR article_code LIKE ?", like, like)
	}
	err := q.Order("title ASC").Find(&products).Error
	return products, err
}

func (r *productRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Preload("Variants", PreloadVariants).First(&product, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &product, nil
}

// SKUTaken checks both product article codes and variant SKUs.
func (r *productRepo) SKUTaken(ctx context.Context, sku string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Product{}).Where("article_code = ?", sku).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := r.db.WithContext(ctx).Model(&model.Variant{}).Where("sku = ?", sku).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *productRepo) Update(ctx context.Context, product *model.Product) error {
	res := r.db.WithContext(ctx).Model(product).
		Select(catalogColumns).
		Updates(product)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *productRepo) AddVariant(ctx context.Context, variant *model.Variant) error {
	return r.db.WithContext(ctx).Create(variant).Error
}

func (r *productRepo) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	res := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).Update("archived", archived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *productRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Delete(&model.Variant{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Product{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *productRepo) ListStockRecords(ctx context.Context) ([]model.StockRecord, error) {
	var products []model.Product
	if err := r.db.WithContext(ctx).Order("article_code ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	var variants []model.Variant
	if err := r.db.WithContext(ctx).Order("sku ASC").Find(&variants).Error; err != nil {
		return nil, err
	}
	records := make([]model.StockRecord, 0, len(products)+len(variants))
	for i := range products {
		records = append(records, products[i].StockRecord())
	}
	for i := range variants {
		records = append(records, variants[i].StockRecord())
	}
	return records, nil
}

func (r *productRepo) LoadStockRecord(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error) {
	if variantID == nil {
		var p model.Product
		if err := tx.Omit("Variants").First(&p, "id = ?", productID).Error; err != nil {
			return nil, translateError(err)
		}
		rec := p.StockRecord()
		return &rec, nil
	}
	var v model.Variant
	if err := tx.First(&v, "id = ? AND product_id = ?", *variantID, productID).Error; err != nil {
		return nil, translateError(err)
	}
	rec := v.StockRecord()
	return &rec, nil
}

// CompareAndSwapQty writes newQty only if the row still carries rec.Version.
func (r *productRepo) CompareAndSwapQty(tx *gorm.DB, rec model.StockRecord, newQty int) error {
	var q *gorm.DB
	if rec.VariantID == nil {
		q = tx.Model(&model.Product{}).Where("id = ? AND version = ?", rec.ProductID, rec.Version)
	} else {
		q = tx.Model(&model.Variant{}).Where("id = ? AND product_id = ? AND version = ?", *rec.VariantID, rec.ProductID, rec.Version)
	}
	res := q.UpdateColumns(map[string]interface{}{
		"qty":     newQty,
		"version": gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// UpsertProductTx inserts the product with its quantity as baseline, or updates
// catalog fields of an existing row leaving stock columns alone.
func (r *productRepo) UpsertProductTx(tx *gorm.DB, product *model.Product) (bool, error) {
	var n int64
	if err := tx.Model(&model.Product{}).Where("id = ?", product.ID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		row := *product
		row.Variants = nil
		row.BaselineQty = row.Qty
		row.Version = 0
		return true, tx.Omit(clause.Associations).Create(&row).Error
	}
	err := tx.Model(product).
		Select(append([]string{"archived"}, catalogColumns...)).
		Updates(product).Error
	return false, err
}

func (r *productRepo) UpsertVariantTx(tx *gorm.DB, variant *model.Variant) (bool, error) {
	var n int64
	if err := tx.Model(&model.Variant{}).Where("id = ?", variant.ID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		row := *variant
		row.BaselineQty = row.Qty
		row.Version = 0
		return true, tx.Create(&row).Error
	}
	err := tx.Model(variant).
		Select("product_id", "sku", "attributes", "position", "wholesale_price", "retail_price", "club_price").
		Updates(variant).Error
	return false, err
}
