package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type PlatformHandler struct {
	ps service.PlatformService
}

func NewPlatformHandler(ps service.PlatformService) *PlatformHandler {
	return &PlatformHandler{ps: ps}
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	accountList, err := h.ps.List(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch social accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DisconnectSocialAccount(c *fiber.Ctx) error {
	accountID := c.QueryInt("id", 0)

	err := h.ps.Disconnect(c.Context(), GetUserID(c), int64(accountID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to disconnect social account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
