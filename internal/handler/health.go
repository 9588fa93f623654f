package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports which upstream services are configured and whether
// redis answers.
type HealthHandler struct {
	redis    *redis.Client
	services map[string]func() bool
	active   func() int
}

func NewHealthHandler(redisClient *redis.Client, services map[string]func() bool, active func() int) *HealthHandler {
	return &HealthHandler{
		redis:    redisClient,
		services: services,
		active:   active,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	services := make(fiber.Map, len(h.services)+1)
	for name, configured := range h.services {
		services[name] = configured()
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Context(), time.Second)
		defer cancel()
		services["redis"] = h.redis.Ping(ctx).Err() == nil
	}

	body := fiber.Map{
		"status":   "ok",
		"services": services,
	}
	if h.active != nil {
		body["activeTasks"] = h.active()
	}
	return c.JSON(body)
}
