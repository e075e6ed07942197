package handler

import (
	"go-invoice-stock/internal/middleware"
	"go-invoice-stock/internal/service"

	"github.com/gofiber/fiber/v2"
)

type SnapshotHandler struct {
	snapshots service.SnapshotService
	restore   service.RestoreService
}

func NewSnapshotHandler(s service.SnapshotService, r service.RestoreService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: s, restore: r}
}

func (h *SnapshotHandler) CreateSnapshot(c *fiber.Ctx) error {
	snapshot, err := h.snapshots.CreateSnapshot(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"message": "Snapshot created", "data": snapshot})
}

func (h *SnapshotHandler) GetSnapshots(c *fiber.Ctx) error {
	snapshots, err := h.snapshots.ListSnapshots(c.UserContext())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch snapshots"})
	}
	return c.JSON(snapshots)
}

func (h *SnapshotHandler) GetSnapshot(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid snapshot ID"})
	}
	snapshot, err := h.snapshots.GetSnapshot(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snapshot)
}

// Restore answers 200 when every table was restored and 207 when some
// tables failed; the report lists each table either way.
func (h *SnapshotHandler) Restore(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid snapshot ID"})
	}

	report, err := h.restore.Restore(c.UserContext(), id, middleware.Actor(c))
	if err != nil {
		if report != nil {
			return respondErrorWith(c, err, fiber.Map{"report": report})
		}
		return respondError(c, err)
	}
	if !report.OK() {
		return c.Status(207).JSON(report)
	}
	return c.JSON(report)
}
