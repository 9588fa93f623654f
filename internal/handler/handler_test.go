package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/provider"
	"github.com/punchliner/api/internal/task"
	"github.com/punchliner/api/pkg/response"
)

func TestGenerationError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("get: %w", task.ErrTaskNotFound), fiber.StatusNotFound, response.CodeNotFound},
		{"finished", task.ErrTaskFinished, fiber.StatusConflict, response.CodeConflict},
		{"unsupported", task.ErrUnsupportedKind, fiber.StatusServiceUnavailable, response.CodeNotConfigured},
		{"closed", task.ErrManagerClosed, fiber.StatusInternalServerError, response.CodeServiceError},
		{"task failed", &orchestrator.TaskError{TaskID: "t", Status: model.TaskStatusFailed, Code: model.ErrCodeTaskFailed, Message: "nsfw"}, fiber.StatusBadGateway, response.CodeJobFailed},
		{"stream closed", orchestrator.ErrStreamClosed, fiber.StatusBadGateway, response.CodeJobFailed},
		{"rejected", provider.Rejected(400, "bad prompt", nil), fiber.StatusBadGateway, response.CodeAIError},
		{"other", errors.New("boom"), fiber.StatusBadGateway, response.CodeAIError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return generationError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			var body response.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestGenerationError_TaskErrorDetails(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return generationError(c, &orchestrator.TaskError{TaskID: "t1", Status: model.TaskStatusTimedOut, Code: model.ErrCodeTimeout, Message: "generation timed out"})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)

	var body struct {
		Error struct {
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "generation timed out", body.Error.Message)
	assert.Equal(t, model.ErrCodeTimeout, body.Error.Details["code"])
	assert.Equal(t, "t1", body.Error.Details["taskId"])
	assert.Equal(t, "timedOut", body.Error.Details["status"])
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, writeEvent(w, model.Event{TaskID: "t1", Progress: 42, Status: model.TaskStatusProcessing}))

	assert.Equal(t, `data: {"taskId":"t1","progress":42,"status":"processing"}`+"\n\n", buf.String())
}

func TestWriteEvent_ReportsClosedWriter(t *testing.T) {
	w := bufio.NewWriterSize(failingWriter{}, 16)
	assert.Error(t, writeEvent(w, model.Event{TaskID: "t1"}))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
