package server

import (
	"time"

	"github.com/yasuo72/TransitShare/internal/config"
	"github.com/yasuo72/TransitShare/internal/history"
	"github.com/yasuo72/TransitShare/internal/notification"
	"github.com/yasuo72/TransitShare/internal/predict"
	"github.com/yasuo72/TransitShare/internal/presence"
	"github.com/yasuo72/TransitShare/internal/realtime"
	"github.com/yasuo72/TransitShare/internal/route"
	"github.com/yasuo72/TransitShare/internal/user"
	"github.com/yasuo72/TransitShare/internal/vehicle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Hub      *realtime.Hub
	Registry *presence.Registry
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := realtime.NewHub(redisClient)

	users := user.NewStore(db)
	routes := route.NewService(db)
	histories := history.NewService(db)
	notifications := notification.NewService(db)

	predictor := predict.NewEngine(routes, time.Duration(cfg.RouteTimeoutSec)*time.Second)
	vehicles := vehicle.NewService(db, users, predictor, hub, time.Duration(cfg.LiveWindowSec)*time.Second)

	registry := presence.NewRegistry(users, presence.NewLocationStore())
	proximity := presence.NewEngine(registry)

	broadcaster := realtime.NewBroadcaster(registry, proximity, users, vehicles, histories, notifications, realtime.Config{
		NearbyRadiusKm: cfg.NearbyRadiusKm,
		AlertRadiusKm:  cfg.AlertRadiusKm,
		ReportPoints:   cfg.ReportPoints,
	})

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       db,
		Redis:    redisClient,
		Hub:      hub,
		Registry: registry,
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "online_users": registry.OnlineUserCount()})
	})

	route.RegisterRoutes(app.Group("/routes"), routes)
	vehicle.RegisterRoutes(app.Group("/vehicles"), vehicles)
	notification.RegisterRoutes(app.Group("/notifications"), notifications)
	realtime.RegisterRoutes(app.Group("/stream"), hub, broadcaster)

	return s
}
