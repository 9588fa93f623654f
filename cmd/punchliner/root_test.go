package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/model"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generations", func(w http.ResponseWriter, r *http.Request) {
		var req model.GenerationStartRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Kind != model.KindImage {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":"NOT_CONFIGURED","message":"Generation kind not available"}}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(model.GenerationStartResponse{TaskID: "t1", Status: model.TaskStatusQueued})
	})
	mux.HandleFunc("/api/generations/t1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"taskId":"t1","progress":50,"status":"processing"}`+"\n\n")
		fmt.Fprint(w, `data: {"taskId":"t1","progress":100,"status":"completed","resultUrl":"https://cdn.example.com/a.png"}`+"\n\n")
	})
	mux.HandleFunc("/api/generations/t1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.TaskState{TaskID: "t1", Status: model.TaskStatusProcessing, Progress: 50})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRequest_PrintsURL(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "request", "--server", srv.URL, "why did the chicken")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png\n", out)
}

func TestRetry_JSON(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "retry", "--server", srv.URL, "--json", "why did the chicken")
	require.NoError(t, err)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "https://cdn.example.com/a.png", res["url"])
	assert.Equal(t, "t1", res["taskId"])
}

func TestRequest_Errors(t *testing.T) {
	srv := fakeAPI(t)

	_, err := run(t, "request", "--server", srv.URL, "--kind", "audio", "x")
	assert.ErrorContains(t, err, "unknown kind")

	_, err = run(t, "request", "--server", srv.URL, "--kind", "video", "x")
	assert.ErrorContains(t, err, "NOT_CONFIGURED")
}

func TestStatus(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "status", "--server", srv.URL, "t1")
	require.NoError(t, err)
	assert.Contains(t, out, `"progress": 50`)
}
