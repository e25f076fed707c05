package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/queue"
)

type QueueInspector interface {
	Stats() (queue.Stats, error)
	FailedJobs(limit int) ([]queue.FailedJob, error)
}

type QueueHandler struct {
	in QueueInspector
}

func NewQueueHandler(in QueueInspector) *QueueHandler {
	return &QueueHandler{in: in}
}

func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.in.Stats()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to read queue stats",
		})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *QueueHandler) FailedJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	jobs, err := h.in.FailedJobs(limit)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list failed jobs",
		})
	}
	return c.Status(fiber.StatusOK).JSON(jobs)
}
