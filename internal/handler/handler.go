package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/provider"
	"github.com/punchliner/api/internal/task"
	"github.com/punchliner/api/pkg/response"
)

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// generationError maps task and orchestrator errors to API errors
func generationError(c *fiber.Ctx, err error) error {
	var taskErr *orchestrator.TaskError
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return response.NotFound(c, "Task not found")
	case errors.Is(err, task.ErrTaskFinished):
		return response.Conflict(c, "Task already finished")
	case errors.Is(err, task.ErrUnsupportedKind):
		return response.NotConfigured(c, "Generation kind not available")
	case errors.Is(err, task.ErrManagerClosed):
		return response.ServiceError(c, "Server shutting down")
	case errors.As(err, &taskErr):
		return response.JobFailed(c, taskErr.Message, fiber.Map{
			"code":   taskErr.Code,
			"taskId": taskErr.TaskID,
			"status": taskErr.Status,
		})
	case errors.Is(err, orchestrator.ErrStreamClosed):
		return response.JobFailed(c, "Generation cancelled", nil)
	case provider.IsKind(err, provider.KindSubmissionRejected):
		return response.AIError(c, provider.Reason(err))
	}
	return response.AIError(c, err.Error())
}
