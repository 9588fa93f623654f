package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/punchliner/api/internal/hub"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/pkg/response"
)

// DefaultHeartbeat is the interval of SSE keep-alive comments
const DefaultHeartbeat = 15 * time.Second

type GenerationHandler struct {
	service   *service.GenerationService
	hub       *hub.Hub
	validator *validator.Validate
	heartbeat time.Duration
	logger    zerolog.Logger
}

func NewGenerationHandler(svc *service.GenerationService, h *hub.Hub, v *validator.Validate, heartbeat time.Duration, logger zerolog.Logger) *GenerationHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &GenerationHandler{
		service:   svc,
		hub:       h,
		validator: v,
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "sse").Logger(),
	}
}

// Start handles POST /api/generations
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerationStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), &req)
	if err != nil {
		return generationError(c, err)
	}

	if result.Cached {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// Get handles GET /api/generations/:taskId
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	state, err := h.service.Get(c.Params("taskId"))
	if err != nil {
		return generationError(c, err)
	}
	return response.OK(c, state)
}

// Cancel handles POST /api/generations/:taskId/cancel
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Params("taskId"))
	if err != nil {
		return generationError(c, err)
	}
	return response.OK(c, result)
}

// Events handles GET /api/generations/:taskId/events
func (h *GenerationHandler) Events(c *fiber.Ctx) error {
	client, err := h.service.Subscribe(c.Params("taskId"))
	if err != nil {
		return generationError(c, err)
	}
	h.streamEvents(c, client)
	return nil
}

// Stream handles POST /api/generations/stream: create a task and follow it
// on the same response
func (h *GenerationHandler) Stream(c *fiber.Ctx) error {
	var req model.GenerationStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), &req)
	if err != nil {
		return generationError(c, err)
	}

	if result.Cached {
		setSSEHeaders(c)
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			_ = writeEvent(w, model.Event{
				Progress:  100,
				Status:    model.TaskStatusCompleted,
				ResultURL: result.ResultURL,
				Cached:    true,
			})
		}))
		return nil
	}

	client, err := h.service.Subscribe(result.TaskID)
	if err != nil {
		return generationError(c, err)
	}
	h.streamEvents(c, client)
	return nil
}

// WebSocket handles GET /ws/generations/:taskId after the upgrade check
func (h *GenerationHandler) WebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		taskID := conn.Params("taskId")
		if _, err := h.service.Get(taskID); err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "task not found"))
			return
		}
		h.hub.HandleConnection(conn, taskID)
	})
}

// streamEvents writes the subscription as server-sent events until the
// task's terminal event. A failed write means the client left; closing the
// subscription then lets the hub cancel an abandoned task.
func (h *GenerationHandler) streamEvents(c *fiber.Ctx, client *hub.Client) {
	setSSEHeaders(c)
	heartbeat := h.heartbeat
	logger := h.logger.With().Str("taskId", client.TaskID).Logger()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer client.Close()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-client.Events():
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					logger.Debug().Err(err).Msg("client disconnected")
					return
				}

			case <-ticker.C:
				if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					logger.Debug().Err(err).Msg("client disconnected")
					return
				}
			}
		}
	}))
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
