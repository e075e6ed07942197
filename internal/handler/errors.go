package handler

import (
	"errors"

	"go-invoice-stock/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func respondError(c *fiber.Ctx, err error) error {
	return respondErrorWith(c, err, nil)
}

// respondErrorWith maps service errors to HTTP responses, merging extra into
// the body. Item level failures are returned in full.
func respondErrorWith(c *fiber.Ctx, err error, extra fiber.Map) error {
	status, body := errorBody(err)
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

func errorBody(err error) (int, fiber.Map) {
	var (
		transition *service.TransitionError
		short      *service.InsufficientStockError
		variant    *service.VariantNotFoundError
		invalid    *service.InvalidTransitionError
		integrity  *service.RestoreIntegrityViolation
		conflict   *service.ConcurrentModificationError
		adjust     *service.AdjustmentError
	)
	switch {
	case errors.As(err, &transition):
		body := fiber.Map{"error": transition.Error(), "items": transition.Items}
		if errors.As(err, &short) {
			body["shortfalls"] = short.Items
		}
		if errors.Is(err, service.ErrConcurrentModification) {
			return 409, body
		}
		return 422, body
	case errors.As(err, &adjust):
		body := fiber.Map{"error": adjust.Error(), "items": adjust.Items}
		if errors.As(err, &variant) {
			body["available_variant_ids"] = variant.AvailableVariantIDs
		}
		return 422, body
	case errors.As(err, &short):
		return 422, fiber.Map{"error": short.Error(), "shortfalls": short.Items}
	case errors.As(err, &variant):
		return 422, fiber.Map{"error": variant.Error(), "available_variant_ids": variant.AvailableVariantIDs}
	case errors.As(err, &invalid):
		return 409, fiber.Map{"error": invalid.Error(), "from": invalid.From, "to": invalid.To}
	case errors.As(err, &conflict):
		return 409, fiber.Map{"error": conflict.Error(), "records": conflict.RecordKeys}
	case errors.As(err, &integrity):
		return 422, fiber.Map{"error": integrity.Error(), "violations": integrity.Violations}
	case errors.Is(err, service.ErrAlreadyProcessed),
		errors.Is(err, service.ErrInvoiceLocked),
		errors.Is(err, service.ErrSKUExists),
		errors.Is(err, service.ErrProductReferenced):
		return 409, fiber.Map{"error": err.Error()}
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrInvoiceNotFound),
		errors.Is(err, service.ErrCustomerNotFound),
		errors.Is(err, service.ErrSnapshotNotFound):
		return 404, fiber.Map{"error": err.Error()}
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrRestoreNegativeQuantity):
		return 400, fiber.Map{"error": err.Error()}
	case errors.Is(err, service.ErrArchive):
		return 500, fiber.Map{"error": err.Error()}
	}
	return 500, fiber.Map{"error": "Internal Server Error"}
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

// optionalUUIDQuery returns nil when the query parameter is absent.
func optionalUUIDQuery(c *fiber.Ctx, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
