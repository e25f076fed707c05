package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	created, err := h.s.CreatePost(c.Context(), userID, &transfer.PostCreation{
		Caption:          c.FormValue("caption"),
		Title:            c.FormValue("title"),
		ScheduledTime:    c.FormValue("scheduling_time"),
		SelectedAccounts: c.FormValue("selected_accounts")},
		form.File["files"])
	if err != nil {
		status := errorStatus(err)
		if status == fiber.StatusInternalServerError {
			slog.Error("create post failed", "user_id", userID, "error", err)
			return c.Status(status).JSON(fiber.Map{
				"error": "Unable to create post",
			})
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	posts, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) ListTargets(c *fiber.Ctx) error {
	postID := c.QueryInt("id", 0)

	targets, err := h.s.Targets(c.Context(), GetUserID(c), int64(postID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to list post targets",
		})
	}

	return c.Status(fiber.StatusOK).JSON(targets)
}

// Requeue re-enqueues the pending targets of a post.
func (h *PostHandler) Requeue(c *fiber.Ctx) error {
	postID := c.QueryInt("id", 0)

	results, err := h.s.Requeue(c.Context(), GetUserID(c), int64(postID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to requeue post",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"targets": results,
	})
}
