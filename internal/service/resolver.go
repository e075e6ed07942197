package service

import (
	"context"
	"errors"

	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"

	"github.com/google/uuid"
)

// ProductSource loads a product with its variants.
type ProductSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
}

// ItemRef addresses a stock record from a line item.
type ItemRef struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

type VariantResolver interface {
	Resolve(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error)
	ResolveItems(ctx context.Context, refs []ItemRef) ([]*model.StockRecord, []error)
}

type variantResolver struct {
	products ProductSource
}

func NewVariantResolver(products ProductSource) VariantResolver {
	return &variantResolver{products: products}
}

// productIndex is built once per product load.
type productIndex struct {
	product  *model.Product
	variants map[uuid.UUID]*model.Variant
}

func newProductIndex(p *model.Product) *productIndex {
	idx := &productIndex{product: p, variants: make(map[uuid.UUID]*model.Variant, len(p.Variants))}
	for i := range p.Variants {
		idx.variants[p.Variants[i].ID] = &p.Variants[i]
	}
	return idx
}

func (idx *productIndex) resolve(variantID *uuid.UUID) (*model.StockRecord, error) {
	p := idx.product
	if variantID == nil {
		if !p.HasGlobalStock() {
			return nil, &VariantNotFoundError{ProductID: p.ID, AvailableVariantIDs: p.VariantIDs()}
		}
		rec := p.StockRecord()
		return &rec, nil
	}
	v, ok := idx.variants[*variantID]
	if !ok {
		id := *variantID
		return nil, &VariantNotFoundError{ProductID: p.ID, VariantID: &id, AvailableVariantIDs: p.VariantIDs()}
	}
	rec := v.StockRecord()
	return &rec, nil
}

func (r *variantResolver) load(ctx context.Context, productID uuid.UUID) (*productIndex, error) {
	p, err := r.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}
	return newProductIndex(p), nil
}

func (r *variantResolver) Resolve(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error) {
	idx, err := r.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	return idx.resolve(variantID)
}

// ResolveItems resolves every ref, loading each distinct product once. The
// returned slices are parallel to refs; a nil error means the record is set.
func (r *variantResolver) ResolveItems(ctx context.Context, refs []ItemRef) ([]*model.StockRecord, []error) {
	records := make([]*model.StockRecord, len(refs))
	errs := make([]error, len(refs))
	loaded := make(map[uuid.UUID]*productIndex)
	failed := make(map[uuid.UUID]error)

	for i, ref := range refs {
		if err, ok := failed[ref.ProductID]; ok {
			errs[i] = err
			continue
		}
		idx, ok := loaded[ref.ProductID]
		if !ok {
			var err error
			idx, err = r.load(ctx, ref.ProductID)
			if err != nil {
				failed[ref.ProductID] = err
				errs[i] = err
				continue
			}
			loaded[ref.ProductID] = idx
		}
		records[i], errs[i] = idx.resolve(ref.VariantID)
	}
	return records, errs
}

// catalogSource serves products from memory; the restore engine resolves
// snapshot items through it.
type catalogSource map[uuid.UUID]*model.Product

func (c catalogSource) FindByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}
