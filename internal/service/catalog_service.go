package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type VariantInput struct {
	SKU            string            `json:"sku" validate:"required"`
	Attributes     map[string]string `json:"attributes"`
	Qty            int               `json:"qty" validate:"gte=0"`
	WholesalePrice *decimal.Decimal  `json:"wholesale_price" validate:"omitempty,decimal_nonneg"`
	RetailPrice    *decimal.Decimal  `json:"retail_price" validate:"omitempty,decimal_nonneg"`
	ClubPrice      *decimal.Decimal  `json:"club_price" validate:"omitempty,decimal_nonneg"`
}

type ProductInput struct {
	Title           string          `json:"title" validate:"required"`
	ArticleCode     string          `json:"article_code" validate:"required"`
	Brand           string          `json:"brand"`
	Category        string          `json:"category"`
	WholesalePrice  decimal.Decimal `json:"wholesale_price" validate:"decimal_nonneg"`
	RetailPrice     decimal.Decimal `json:"retail_price" validate:"decimal_nonneg"`
	ClubPrice       decimal.Decimal `json:"club_price" validate:"decimal_nonneg"`
	CostBefore      decimal.Decimal `json:"cost_before" validate:"decimal_nonneg"`
	CostAfter       decimal.Decimal `json:"cost_after" validate:"decimal_nonneg"`
	UsesGlobalStock bool            `json:"uses_global_stock"`
	// Qty is the opening quantity; it is ignored on update.
	Qty      int            `json:"qty" validate:"gte=0"`
	Variants []VariantInput `json:"variants" validate:"dive"`
}

type CustomerInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// CatalogService manages products, variants and customers. Quantities given
// here are opening balances only; later changes go through the stock ledger.
type CatalogService interface {
	CreateProduct(ctx context.Context, in *ProductInput, actor string) (*model.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, in *ProductInput, actor string) (*model.Product, error)
	AddVariant(ctx context.Context, productID uuid.UUID, in *VariantInput, actor string) (*model.Variant, error)
	ArchiveProduct(ctx context.Context, id uuid.UUID, archived bool, actor string) error
	DeleteProduct(ctx context.Context, id uuid.UUID, actor string) error
	GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error)

	CreateCustomer(ctx context.Context, in *CustomerInput) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
}

type catalogService struct {
	productRepo  repository.ProductRepository
	invoiceRepo  repository.InvoiceRepository
	customerRepo repository.CustomerRepository
	events       event.Publisher
	logger       *zap.Logger
}

func NewCatalogService(pRepo repository.ProductRepository, iRepo repository.InvoiceRepository, cRepo repository.CustomerRepository, events event.Publisher, logger *zap.Logger) CatalogService {
	if events == nil {
		events = event.Discard
	}
	return &catalogService{
		productRepo:  pRepo,
		invoiceRepo:  iRepo,
		customerRepo: cRepo,
		events:       events,
		logger:       logger.Named("catalog"),
	}
}

func newVariant(in *VariantInput, position int) model.Variant {
	return model.Variant{
		SKU:            in.SKU,
		Attributes:     in.Attributes,
		Position:       position,
		Qty:            in.Qty,
		BaselineQty:    in.Qty,
		WholesalePrice: in.WholesalePrice,
		RetailPrice:    in.RetailPrice,
		ClubPrice:      in.ClubPrice,
	}
}

func (s *catalogService) ensureSKUsFree(ctx context.Context, skus ...string) error {
	seen := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		if _, dup := seen[sku]; dup {
			return fmt.Errorf("%w: %s", ErrSKUExists, sku)
		}
		seen[sku] = struct{}{}
		taken, err := s.productRepo.SKUTaken(ctx, sku)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrSKUExists, sku)
		}
	}
	return nil
}

func (s *catalogService) CreateProduct(ctx context.Context, in *ProductInput, actor string) (*model.Product, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	skus := []string{in.ArticleCode}
	for _, v := range in.Variants {
		skus = append(skus, v.SKU)
	}
	if err := s.ensureSKUsFree(ctx, skus...); err != nil {
		return nil, err
	}

	product := &model.Product{
		Title:           in.Title,
		ArticleCode:     in.ArticleCode,
		Brand:           in.Brand,
		Category:        in.Category,
		WholesalePrice:  in.WholesalePrice,
		RetailPrice:     in.RetailPrice,
		ClubPrice:       in.ClubPrice,
		CostBefore:      in.CostBefore,
		CostAfter:       in.CostAfter,
		UsesGlobalStock: in.UsesGlobalStock,
		Qty:             in.Qty,
		BaselineQty:     in.Qty,
	}
	for i := range in.Variants {
		product.Variants = append(product.Variants, newVariant(&in.Variants[i], i))
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.notify(product.ID, actor, fmt.Sprintf("%s created product '%s'", actor, product.Title))
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id uuid.UUID, in *ProductInput, actor string) (*model.Product, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.ArticleCode != existing.ArticleCode {
		if err := s.ensureSKUsFree(ctx, in.ArticleCode); err != nil {
			return nil, err
		}
	}

	existing.Title = in.Title
	existing.ArticleCode = in.ArticleCode
	existing.Brand = in.Brand
	existing.Category = in.Category
	existing.WholesalePrice = in.WholesalePrice
	existing.RetailPrice = in.RetailPrice
	existing.ClubPrice = in.ClubPrice
	existing.CostBefore = in.CostBefore
	existing.CostAfter = in.CostAfter
	existing.UsesGlobalStock = in.UsesGlobalStock

	if err := s.productRepo.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	s.notify(id, actor, fmt.Sprintf("%s updated product '%s'", actor, existing.Title))
	return s.GetProduct(ctx, id)
}

func (s *catalogService) AddVariant(ctx context.Context, productID uuid.UUID, in *VariantInput, actor string) (*model.Variant, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSKUsFree(ctx, in.SKU); err != nil {
		return nil, err
	}
	v := newVariant(in, len(product.Variants))
	v.ProductID = productID
	if err := s.productRepo.AddVariant(ctx, &v); err != nil {
		return nil, fmt.Errorf("add variant: %w", err)
	}
	s.notify(productID, actor, fmt.Sprintf("%s added variant '%s' to '%s'", actor, v.SKU, product.Title))
	return &v, nil
}

func (s *catalogService) ArchiveProduct(ctx context.Context, id uuid.UUID, archived bool, actor string) error {
	if err := s.productRepo.SetArchived(ctx, id, archived); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ProductNotFoundError{ProductID: id}
		}
		return err
	}
	s.notify(id, actor, fmt.Sprintf("%s set archived=%t", actor, archived))
	return nil
}

// DeleteProduct refuses products that invoices still point at; archive those instead.
func (s *catalogService) DeleteProduct(ctx context.Context, id uuid.UUID, actor string) error {
	referenced, err := s.invoiceRepo.ReferencesProduct(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrProductReferenced
	}
	if err := s.productRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ProductNotFoundError{ProductID: id}
		}
		return err
	}
	s.notify(id, actor, fmt.Sprintf("%s deleted product %s", actor, id))
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		return nil, err
	}
	return p, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
	return s.productRepo.FindAll(ctx, filter)
}

func (s *catalogService) CreateCustomer(ctx context.Context, in *CustomerInput) (*model.Customer, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	c := &model.Customer{Name: in.Name, Email: in.Email, Phone: in.Phone}
	if err := s.customerRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return c, nil
}

func (s *catalogService) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.customerRepo.FindAll(ctx)
}

func (s *catalogService) notify(productID uuid.UUID, actor, message string) {
	s.events.Publish(event.Event{
		Type:      event.ProductChanged,
		ProductID: &productID,
		Actor:     actor,
		Message:   message,
		At:        time.Now(),
	})
}
