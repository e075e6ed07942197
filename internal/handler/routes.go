package handler

import (
	"go-invoice-stock/internal/middleware"
	"go-invoice-stock/internal/model"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Catalog   *CatalogHandler
	Invoice   *InvoiceHandler
	Stock     *StockHandler
	Snapshot  *SnapshotHandler
	Dashboard *DashboardHandler
}

// RegisterRoutes mounts the authenticated API under router.
func RegisterRoutes(router fiber.Router, h Handlers, secret []byte) {
	protected := router.Group("", middleware.RequireAuth(secret))
	priv := middleware.RequirePrivilege

	// Catalog
	protected.Get("/products", priv(model.PrivProductView), h.Catalog.GetProducts)
	protected.Get("/products/:id", priv(model.PrivProductView), h.Catalog.GetProduct)
	protected.Post("/products", priv(model.PrivProductCreate), h.Catalog.CreateProduct)
	protected.Put("/products/:id", priv(model.PrivProductUpdate), h.Catalog.UpdateProduct)
	protected.Delete("/products/:id", priv(model.PrivProductUpdate), h.Catalog.DeleteProduct)
	protected.Post("/products/:id/variants", priv(model.PrivProductUpdate), h.Catalog.AddVariant)
	protected.Post("/products/:id/archive", priv(model.PrivProductUpdate), h.Catalog.ArchiveProduct)

	protected.Get("/customers", priv(model.PrivInvoiceView), h.Catalog.GetCustomers)
	protected.Post("/customers", priv(model.PrivInvoiceCreate), h.Catalog.CreateCustomer)

	// Invoices
	protected.Get("/invoices", priv(model.PrivInvoiceView), h.Invoice.GetInvoices)
	protected.Get("/invoices/:id", priv(model.PrivInvoiceView), h.Invoice.GetInvoice)
	protected.Post("/invoices", priv(model.PrivInvoiceCreate), h.Invoice.CreateInvoice)
	protected.Put("/invoices/:id/items", priv(model.PrivInvoiceCreate), h.Invoice.UpdateItems)
	protected.Post("/invoices/:id/status", priv(model.PrivInvoiceTransition), h.Invoice.ChangeStatus)

	// Stock
	protected.Get("/stock/reconcile", priv(model.PrivStockView), h.Stock.Reconcile)
	protected.Post("/stock/adjustments", priv(model.PrivStockAdjust), h.Stock.CreateAdjustment)
	protected.Get("/stock/:productId", priv(model.PrivStockView), h.Stock.GetStockRecord)
	protected.Get("/stock/:productId/ledger", priv(model.PrivStockView), h.Stock.GetLedger)
	protected.Get("/dashboard/stock-movement", priv(model.PrivStockView), h.Dashboard.GetStockMovement)

	// Snapshots
	protected.Get("/snapshots", priv(model.PrivSnapshotView), h.Snapshot.GetSnapshots)
	protected.Get("/snapshots/:id", priv(model.PrivSnapshotView), h.Snapshot.GetSnapshot)
	protected.Post("/snapshots", priv(model.PrivSnapshotCreate), h.Snapshot.CreateSnapshot)
	protected.Post("/snapshots/:id/restore", priv(model.PrivSnapshotRestore), h.Snapshot.Restore)

	protected.Get("/privileges", func(c *fiber.Ctx) error {
		return c.JSON(model.DefaultPrivileges)
	})
}
