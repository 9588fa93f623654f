package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/pkg/response"
)

type JokeHandler struct {
	jokes *service.JokeService
	ai    *service.AIService
}

func NewJokeHandler(jokes *service.JokeService, ai *service.AIService) *JokeHandler {
	return &JokeHandler{
		jokes: jokes,
		ai:    ai,
	}
}

// Random handles GET /api/jokes/random
func (h *JokeHandler) Random(c *fiber.Ctx) error {
	jokes, err := h.jokes.Random(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, jokes)
}

// List handles GET /api/jokes/list?page=N
func (h *JokeHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		return response.ValidationError(c, "page must be positive", nil)
	}

	result, err := h.jokes.Page(c.Context(), page)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Cold handles GET /api/jokes/cold
func (h *JokeHandler) Cold(c *fiber.Ctx) error {
	jokes, err := h.ai.ColdJoke(c.Context())
	if err != nil {
		return response.AIError(c, err.Error())
	}
	return response.OK(c, jokes)
}

// ColdList handles GET /api/jokes/cold/list?page=N
func (h *JokeHandler) ColdList(c *fiber.Ctx) error {
	result, err := h.ai.ColdJokes(c.Context(), c.QueryInt("page", 1))
	if err != nil {
		return response.AIError(c, err.Error())
	}
	return response.OK(c, result)
}
