package vehicle

import (
	"errors"

	"github.com/yasuo72/TransitShare/internal/predict"
	"github.com/yasuo72/TransitShare/internal/user"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/", func(c *fiber.Ctx) error {
		var body struct {
			VehicleID string `json:"vehicle_id"`
			RouteID   string `json:"route_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.VehicleID == "" || body.RouteID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "vehicle_id and route_id required")
		}
		v, err := svc.Register(c.Context(), body.VehicleID, body.RouteID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		vehicles, err := svc.List(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(vehicles)
	})

	r.Post("/share/start", func(c *fiber.Ctx) error {
		var body struct {
			UserID    string `json:"user_id"`
			VehicleID string `json:"vehicle_id"`
			RouteID   string `json:"route_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.UserID == "" || body.VehicleID == "" || body.RouteID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id, vehicle_id and route_id required")
		}
		sess, err := svc.StartShare(c.Context(), body.UserID, body.VehicleID, body.RouteID)
		if errors.Is(err, user.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "sharing started", "session_id": sess.ID})
	})

	r.Post("/share/stop", func(c *fiber.Ctx) error {
		var body struct {
			SessionID string `json:"session_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.SessionID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "session_id required")
		}
		points, err := svc.StopShare(c.Context(), body.SessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "session not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "sharing stopped", "points_earned": points})
	})

	r.Post("/:vehicleID/location", func(c *fiber.Ctx) error {
		var body struct {
			Lat     *float64 `json:"lat"`
			Lng     *float64 `json:"lng"`
			SpeedMS float64  `json:"speed"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.Lat == nil || body.Lng == nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		_, err := svc.SubmitLocation(c.Context(), c.Params("vehicleID"), *body.Lat, *body.Lng, body.SpeedMS)
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "vehicle not found, start sharing first")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "location updated"})
	})

	r.Get("/:vehicleID/location", func(c *fiber.Ctx) error {
		loc, err := svc.CurrentLocation(c.Context(), c.Params("vehicleID"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "vehicle not found")
		}
		if errors.Is(err, predict.ErrNoPrediction) {
			return fiber.NewError(fiber.StatusNotFound, "no prediction available")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(loc)
	})
}
