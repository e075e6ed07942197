package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/service"
	"go-invoice-stock/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var testSecret = []byte("handler-secret")

type fakeInvoices struct {
	service.InvoiceService
	result *service.TransitionResult
	err    error
	actor  string
}

func (f *fakeInvoices) ChangeStatus(_ context.Context, _ uuid.UUID, _ model.InvoiceStatus, actor string) (*service.TransitionResult, error) {
	f.actor = actor
	return f.result, f.err
}

type fakeStock struct {
	service.StockService
}

func (fakeStock) Reconcile(context.Context) (*service.ReconcileReport, error) {
	return &service.ReconcileReport{Checked: 3}, nil
}

func (fakeStock) GetStockRecord(_ context.Context, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error) {
	if variantID != nil {
		return nil, &service.VariantNotFoundError{ProductID: productID, VariantID: variantID}
	}
	return &model.StockRecord{ProductID: productID, SKU: "MUG", Qty: 4}, nil
}

func newTestApp(inv *fakeInvoices) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/api/v1"), Handlers{
		Catalog:   NewCatalogHandler(nil),
		Invoice:   NewInvoiceHandler(inv),
		Stock:     NewStockHandler(fakeStock{}),
		Snapshot:  NewSnapshotHandler(nil, nil),
		Dashboard: NewDashboardHandler(nil),
	}, testSecret)
	return app
}

func token(t *testing.T, privileges ...string) string {
	t.Helper()
	tok, err := jwt.GenerateToken(testSecret, "op-1", "Operator", privileges, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, app *fiber.App, method, url, auth, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestChangeStatusReturnsStockReportOnFailure(t *testing.T) {
	invID := uuid.New()
	inv := &fakeInvoices{
		result: &service.TransitionResult{Report: service.StockReport{
			Action: service.StockActionDeduct,
			Items:  []service.StockReportItem{{Index: 0, SKU: "TEE-S", Error: "TEE-S: requested 5, available 3"}},
		}},
		err: &service.TransitionError{
			InvoiceID: invID,
			From:      model.InvoiceDraft,
			To:        model.InvoiceSent,
			Cause:     &service.InsufficientStockError{Items: []service.Shortfall{{SKU: "TEE-S", Requested: 5, Available: 3}}},
		},
	}
	app := newTestApp(inv)

	status, body := do(t, app, "POST", "/api/v1/invoices/"+invID.String()+"/status",
		token(t, model.PrivInvoiceTransition), `{"status":"sent"}`)
	if status != 422 {
		t.Fatalf("status = %d, want 422 (%v)", status, body)
	}
	if _, ok := body["stock_report"]; !ok {
		t.Error("stock_report missing from error body")
	}
	if _, ok := body["shortfalls"]; !ok {
		t.Error("shortfalls missing from error body")
	}
	if inv.actor != "Operator" {
		t.Errorf("actor = %q", inv.actor)
	}
}

func TestChangeStatusRequests(t *testing.T) {
	app := newTestApp(&fakeInvoices{result: &service.TransitionResult{To: model.InvoicePaid}})
	url := "/api/v1/invoices/" + uuid.NewString() + "/status"

	tests := []struct {
		name string
		url  string
		auth string
		body string
		want int
	}{
		{"no token", url, "", `{"status":"paid"}`, 401},
		{"no privilege", url, token(t, model.PrivInvoiceView), `{"status":"paid"}`, 403},
		{"bad id", "/api/v1/invoices/nope/status", token(t, model.PrivInvoiceTransition), `{"status":"paid"}`, 400},
		{"missing status", url, token(t, model.PrivInvoiceTransition), `{}`, 400},
		{"ok", url, token(t, model.PrivInvoiceTransition), `{"status":"paid"}`, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := do(t, app, "POST", tt.url, tt.auth, tt.body); status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}
}

func TestStockRoutes(t *testing.T) {
	app := newTestApp(&fakeInvoices{})
	auth := token(t, model.PrivStockView)

	status, body := do(t, app, "GET", "/api/v1/stock/reconcile", auth, "")
	if status != 200 || body["checked"] != float64(3) {
		t.Errorf("reconcile: %d %v", status, body)
	}

	pid := uuid.New()
	status, body = do(t, app, "GET", "/api/v1/stock/"+pid.String(), auth, "")
	if status != 200 || body["sku"] != "MUG" {
		t.Errorf("stock record: %d %v", status, body)
	}

	status, body = do(t, app, "GET", fmt.Sprintf("/api/v1/stock/%s?variant_id=%s", pid, uuid.New()), auth, "")
	if status != 422 {
		t.Errorf("unknown variant: %d %v", status, body)
	}
	if _, ok := body["available_variant_ids"]; !ok {
		t.Error("available_variant_ids missing")
	}

	status, _ = do(t, app, "GET", "/api/v1/stock/"+pid.String()+"?variant_id=bad", auth, "")
	if status != 400 {
		t.Errorf("bad variant id: %d", status)
	}
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"shortfall", &service.InsufficientStockError{}, 422},
		{"variant", &service.VariantNotFoundError{}, 422},
		{"adjustment lines", &service.AdjustmentError{Items: []service.ItemFailure{{Err: &service.ProductNotFoundError{}, Message: "gone"}}}, 422},
		{"transition", &service.InvalidTransitionError{From: model.InvoicePaid, To: model.InvoiceDraft}, 409},
		{"concurrent", &service.ConcurrentModificationError{Attempts: 3}, 409},
		{"concurrent inside transition", &service.TransitionError{Cause: &service.ConcurrentModificationError{}}, 409},
		{"already processed", &service.AlreadyProcessedError{}, 409},
		{"locked", service.ErrInvoiceLocked, 409},
		{"integrity", &service.RestoreIntegrityViolation{Table: "snapshot"}, 422},
		{"product missing", &service.ProductNotFoundError{}, 404},
		{"snapshot missing", service.ErrSnapshotNotFound, 404},
		{"validation", fmt.Errorf("%w: bad", service.ErrValidation), 400},
		{"archive", &service.ArchiveError{Stage: "upload", Err: errors.New("boom")}, 500},
		{"unknown", errors.New("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := errorBody(tt.err)
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
			if body["error"] == "" {
				t.Error("empty error message")
			}
		})
	}
}
