package notification

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/:userID", func(c *fiber.Ctx) error {
		page := c.QueryInt("page", 1)
		limit := c.QueryInt("limit", 20)
		result, err := svc.List(c.Context(), c.Params("userID"), page, limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(result)
	})

	r.Get("/:userID/unread-count", func(c *fiber.Ctx) error {
		count, err := svc.UnreadCount(c.Context(), c.Params("userID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"count": count})
	})

	r.Put("/:userID/read-all", func(c *fiber.Ctx) error {
		if err := svc.MarkAllRead(c.Context(), c.Params("userID")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "all notifications marked as read"})
	})

	r.Put("/:userID/:notificationID/read", func(c *fiber.Ctx) error {
		if err := svc.MarkRead(c.Context(), c.Params("userID"), c.Params("notificationID")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "notification marked as read"})
	})
}
