package handler

import (
	"go-invoice-stock/internal/middleware"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type InvoiceHandler struct {
	service service.InvoiceService
}

func NewInvoiceHandler(s service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: s}
}

type statusRequest struct {
	Status model.InvoiceStatus `json:"status"`
}

type itemsRequest struct {
	Items []service.InvoiceItemInput `json:"items"`
}

func (h *InvoiceHandler) CreateInvoice(c *fiber.Ctx) error {
	var in service.CreateInvoiceInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	invoice, err := h.service.CreateInvoice(c.UserContext(), &in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"message": "Invoice created", "data": invoice})
}

func (h *InvoiceHandler) GetInvoice(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid invoice ID"})
	}
	invoice, err := h.service.GetInvoice(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(invoice)
}

// GetInvoices lists invoices.
// Query params: status, customer_id, page, page_size
func (h *InvoiceHandler) GetInvoices(c *fiber.Ctx) error {
	filter := repository.InvoiceFilter{
		Status: model.InvoiceStatus(c.Query("status")),
		Page:   repository.Page{Page: c.QueryInt("page", 1), PageSize: c.QueryInt("page_size", 50)},
	}
	if raw := c.Query("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid customer ID"})
		}
		filter.CustomerID = &id
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return c.Status(400).JSON(fiber.Map{"error": "Unknown status"})
	}

	invoices, total, err := h.service.ListInvoices(c.UserContext(), filter)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch invoices"})
	}
	return c.JSON(fiber.Map{"data": invoices, "total": total})
}

func (h *InvoiceHandler) UpdateItems(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid invoice ID"})
	}
	var req itemsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}
	invoice, err := h.service.UpdateItems(c.UserContext(), id, req.Items)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Invoice updated", "data": invoice})
}

// ChangeStatus runs a lifecycle transition and returns the stock report,
// also when the transition was refused.
func (h *InvoiceHandler) ChangeStatus(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid invoice ID"})
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	result, err := h.service.ChangeStatus(c.UserContext(), id, req.Status, middleware.Actor(c))
	if err != nil {
		if result != nil {
			return respondErrorWith(c, err, fiber.Map{"stock_report": result.Report})
		}
		return respondError(c, err)
	}
	return c.JSON(result)
}
