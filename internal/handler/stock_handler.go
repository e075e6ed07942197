package handler

import (
	"go-invoice-stock/internal/middleware"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/internal/service"

	"github.com/gofiber/fiber/v2"
)

type StockHandler struct {
	service service.StockService
}

func NewStockHandler(s service.StockService) *StockHandler {
	return &StockHandler{service: s}
}

// GetStockRecord returns the record an item with this product and variant
// would move. Query params: variant_id
func (h *StockHandler) GetStockRecord(c *fiber.Ctx) error {
	productID, err := parseUUIDParam(c, "productId")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid product ID"})
	}
	variantID, err := optionalUUIDQuery(c, "variant_id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid variant ID"})
	}

	record, err := h.service.GetStockRecord(c.UserContext(), productID, variantID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(record)
}

// GetLedger pages through ledger entries, newest first.
// Query params: variant_id, page, page_size
func (h *StockHandler) GetLedger(c *fiber.Ctx) error {
	productID, err := parseUUIDParam(c, "productId")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid product ID"})
	}
	variantID, err := optionalUUIDQuery(c, "variant_id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid variant ID"})
	}

	page, err := h.service.ListLedgerEntries(c.UserContext(), productID, variantID, repository.Page{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

func (h *StockHandler) CreateAdjustment(c *fiber.Ctx) error {
	var in service.AdjustmentInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	result, err := h.service.AdjustStock(c.UserContext(), &in, middleware.Actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"message": "Stock adjusted", "data": result})
}

func (h *StockHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.service.Reconcile(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
