package service

import (
	"errors"
	"testing"

	"go-invoice-stock/internal/event"

	"github.com/shopspring/decimal"
)

func TestCreateProductRejectsTakenSKUs(t *testing.T) {
	f := newFixture(t)
	f.product(t, "TEE", 0, map[string]int{"TEE-S": 1})

	tests := []struct {
		name string
		in   ProductInput
		want error
	}{
		{"article code taken", ProductInput{Title: "x", ArticleCode: "TEE"}, ErrSKUExists},
		{"variant sku taken", ProductInput{Title: "x", ArticleCode: "NEW", Variants: []VariantInput{{SKU: "TEE-S"}}}, ErrSKUExists},
		{"duplicate in request", ProductInput{Title: "x", ArticleCode: "NEW", Variants: []VariantInput{{SKU: "A"}, {SKU: "A"}}}, ErrSKUExists},
		{"missing title", ProductInput{ArticleCode: "NEW"}, ErrValidation},
		{"negative qty", ProductInput{Title: "x", ArticleCode: "NEW", Qty: -1}, ErrValidation},
		{"negative price", ProductInput{Title: "x", ArticleCode: "NEW", RetailPrice: decimal.NewFromInt(-1)}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			if _, err := f.catalog.CreateProduct(testCtx, &in, "tester"); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateProductSetsBaseline(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 4, "TEE-M": 6})

	for _, v := range p.Variants {
		if v.BaselineQty != v.Qty {
			t.Errorf("%s baseline %d, qty %d", v.SKU, v.BaselineQty, v.Qty)
		}
	}
	if n := f.events.count(event.ProductChanged); n != 1 {
		t.Errorf("product events = %d, want 1", n)
	}
	f.assertReconciled(t)
}

func TestAddVariantAppendsStockRecord(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 4})

	v, err := f.catalog.AddVariant(testCtx, p.ID, &VariantInput{SKU: "TEE-XL", Qty: 2}, "tester")
	if err != nil {
		t.Fatalf("AddVariant: %v", err)
	}
	if v.Position != 1 {
		t.Errorf("position = %d, want 1", v.Position)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 2 {
		t.Errorf("qty = %d, want 2", got)
	}
	if _, err := f.catalog.AddVariant(testCtx, p.ID, &VariantInput{SKU: "TEE-XL"}, "tester"); !errors.Is(err, ErrSKUExists) {
		t.Errorf("duplicate variant: got %v", err)
	}
}

func TestUpdateProductLeavesStockAlone(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "MUG", 5, nil)

	updated, err := f.catalog.UpdateProduct(testCtx, p.ID, &ProductInput{Title: "Big mug", ArticleCode: "MUG-L", Qty: 99}, "tester")
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Title != "Big mug" || updated.ArticleCode != "MUG-L" {
		t.Errorf("product = %+v", updated)
	}
	if updated.Qty != 5 {
		t.Errorf("qty = %d, want 5", updated.Qty)
	}
	f.assertReconciled(t)
}

func TestDeleteProductReferencedByInvoice(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	used := f.product(t, "MUG", 5, nil)
	unused := f.product(t, "CUP", 5, nil)
	f.draft(t, c.ID, line(used.ID, nil, 1))

	if err := f.catalog.DeleteProduct(testCtx, used.ID, "tester"); !errors.Is(err, ErrProductReferenced) {
		t.Fatalf("delete referenced: got %v", err)
	}
	if err := f.catalog.ArchiveProduct(testCtx, used.ID, true, "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := f.catalog.DeleteProduct(testCtx, unused.ID, "tester"); err != nil {
		t.Fatalf("delete unused: %v", err)
	}
	if _, err := f.catalog.GetProduct(testCtx, unused.ID); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("deleted product still found: %v", err)
	}
}

func TestCreateCustomerValidates(t *testing.T) {
	f := newFixture(t)
	if _, err := f.catalog.CreateCustomer(testCtx, &CustomerInput{Name: "Acme", Email: "not-an-email"}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad email: got %v", err)
	}
	f.customer(t, "Acme")
	list, err := f.catalog.ListCustomers(testCtx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCustomers: %v len=%d", err, len(list))
	}
}

func TestCreateInvoiceForUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "MUG", 5, nil)
	_, err := f.invoice.CreateInvoice(testCtx, &CreateInvoiceInput{CustomerID: p.ID, Items: []InvoiceItemInput{line(p.ID, nil, 1)}})
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.invoice.CreateInvoice(testCtx, &CreateInvoiceInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty input: got %v", err)
	}
}
