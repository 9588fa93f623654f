package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/pkg/response"
)

type AIHandler struct {
	ai        *service.AIService
	artwork   *service.ArtworkService
	validator *validator.Validate
}

func NewAIHandler(ai *service.AIService, artwork *service.ArtworkService, v *validator.Validate) *AIHandler {
	return &AIHandler{
		ai:        ai,
		artwork:   artwork,
		validator: v,
	}
}

// Generate handles POST /api/ai/generate
func (h *AIHandler) Generate(c *fiber.Ctx) error {
	var req model.AIGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.ai.Generate(c.Context(), &req)
	if err != nil {
		return response.AIError(c, err.Error())
	}

	return response.OK(c, result)
}

// Image handles POST /api/ai/image. It blocks until the image task finishes.
func (h *AIHandler) Image(c *fiber.Ctx) error {
	var req model.ImageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.artwork.Image(c.Context(), &req)
	if err != nil {
		return generationError(c, err)
	}

	return response.OK(c, result)
}

// ShareImage handles POST /api/ai/share-image
func (h *AIHandler) ShareImage(c *fiber.Ctx) error {
	var req model.ShareImageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.artwork.ShareImage(c.Context(), &req)
	if err != nil {
		return generationError(c, err)
	}

	return response.OK(c, result)
}

// SimilarCold handles POST /api/ai/similar-cold
func (h *AIHandler) SimilarCold(c *fiber.Ctx) error {
	var req model.SimilarColdRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	jokes, err := h.ai.SimilarColdJokes(c.Context(), req.Content)
	if err != nil {
		return response.AIError(c, err.Error())
	}

	return response.OK(c, jokes)
}
