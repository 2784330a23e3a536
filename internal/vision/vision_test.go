// File: internal/vision/vision_test.go
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/config"
)

func TestParsePayload(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		payload, err := parsePayload(`{"confidence": 0.8}`)
		require.NoError(t, err)
		assert.Equal(t, 0.8, payload["confidence"])
	})

	t.Run("fenced with language tag", func(t *testing.T) {
		payload, err := parsePayload("```json\n{\"confidence\": 0.8}\n```")
		require.NoError(t, err)
		assert.Equal(t, 0.8, payload["confidence"])
	})

	t.Run("fenced without language tag", func(t *testing.T) {
		payload, err := parsePayload("```\n{\"notes\": \"x\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "x", payload["notes"])
	})

	t.Run("prose around the object", func(t *testing.T) {
		payload, err := parsePayload("Here is the observation: {\"confidence\": 0.5} hope it helps")
		require.NoError(t, err)
		assert.Equal(t, 0.5, payload["confidence"])
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := parsePayload("   ")
		require.Error(t, err)
	})

	t.Run("no object at all", func(t *testing.T) {
		_, err := parsePayload("sorry, I cannot see the screen")
		require.Error(t, err)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := parsePayload(`{"confidence": `)
		require.Error(t, err)
	})
}

func TestRetryDelay(t *testing.T) {
	t.Run("honors retry-after header", func(t *testing.T) {
		header := http.Header{}
		header.Set("Retry-After", "2.5")
		apiErr := &openai.Error{Response: &http.Response{Header: header}}
		assert.Equal(t, 2500*time.Millisecond, retryDelay(apiErr, 1))
	})

	t.Run("exponential fallback", func(t *testing.T) {
		apiErr := &openai.Error{}
		assert.Equal(t, 1*time.Second, retryDelay(apiErr, 1))
		assert.Equal(t, 2*time.Second, retryDelay(apiErr, 2))
		assert.Equal(t, 4*time.Second, retryDelay(apiErr, 3))
	})

	t.Run("garbage header falls back", func(t *testing.T) {
		header := http.Header{}
		header.Set("Retry-After", "soon")
		apiErr := &openai.Error{Response: &http.Response{Header: header}}
		assert.Equal(t, 2*time.Second, retryDelay(apiErr, 2))
	})
}

func testVisionConfig(endpoint string) config.VisionConfig {
	return config.VisionConfig{
		Endpoint:       endpoint,
		Model:          "test-model",
		APIKey:         "test-key",
		MaxAttempts:    3,
		RequestTimeout: 5 * time.Second,
	}
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvas.png")
	require.NoError(t, os.WriteFile(path, []byte("not-really-a-png"), 0o644))
	return path
}

func completionBody(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":     "cmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(data)
}

func TestObserveRequiresCredentials(t *testing.T) {
	cfg := testVisionConfig("http://localhost:1")
	cfg.APIKey = ""
	client := NewClient(cfg, zap.NewNop())

	_, err := client.Observe(context.Background(), schemas.ObserveRequest{Goal: "g"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrNoCredentials))
}

func TestObserveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody(`{"confidence": 0.9, "ui_state": {"app": "Autodesk Fusion"}}`))
	}))
	defer server.Close()

	client := NewClient(testVisionConfig(server.URL), zap.NewNop())
	rawPath := filepath.Join(t.TempDir(), "raw.txt")
	imagePath := writeTestImage(t)

	obs, err := client.Observe(context.Background(), schemas.ObserveRequest{
		Goal:       "measure the plate",
		ImagePaths: []string{imagePath},
		RawPath:    rawPath,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, obs.Confidence)
	assert.Equal(t, "Autodesk Fusion", obs.UIState.App)
	assert.Equal(t, []string{imagePath}, obs.ImagePaths)

	raw, err := os.ReadFile(rawPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"confidence": 0.9`)
}

func TestObserveRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody(`{"confidence": 0.7}`))
	}))
	defer server.Close()

	client := NewClient(testVisionConfig(server.URL), zap.NewNop())
	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	obs, err := client.Observe(context.Background(), schemas.ObserveRequest{Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, 0.7, obs.Confidence)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, slept, 1)
	assert.Equal(t, 1*time.Second, slept[0])
}

func TestObserveExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`)
	}))
	defer server.Close()

	cfg := testVisionConfig(server.URL)
	cfg.MaxAttempts = 2
	client := NewClient(cfg, zap.NewNop())
	client.sleep = func(time.Duration) {}

	_, err := client.Observe(context.Background(), schemas.ObserveRequest{Goal: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision request failed")
}

func TestObserveNonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody("the screen shows a CAD model"))
	}))
	defer server.Close()

	client := NewClient(testVisionConfig(server.URL), zap.NewNop())
	_, err := client.Observe(context.Background(), schemas.ObserveRequest{Goal: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision response unusable")
}

func TestObserveDegradesInvalidObservation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody(`{"confidence": 1.7}`))
	}))
	defer server.Close()

	client := NewClient(testVisionConfig(server.URL), zap.NewNop())
	obs, err := client.Observe(context.Background(), schemas.ObserveRequest{Goal: "g"})
	require.NoError(t, err)
	assert.Zero(t, obs.Confidence)
	assert.Contains(t, obs.Notes, "Invalid observation")
}

func TestObserveMissingImage(t *testing.T) {
	client := NewClient(testVisionConfig("http://localhost:1"), zap.NewNop())
	_, err := client.Observe(context.Background(), schemas.ObserveRequest{
		Goal:       "g",
		ImagePaths: []string{filepath.Join(t.TempDir(), "missing.png")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read capture")
}

func TestStubObservation(t *testing.T) {
	obs := StubObservation("fit the board", []string{"a.png"})
	assert.Equal(t, 0.4, obs.Confidence)
	assert.True(t, obs.UIState.PanelsVisible["browser"])
	assert.True(t, obs.UIState.PanelsVisible["timeline"])
	assert.Contains(t, obs.TaskState.KnownTargets, "pi3b_mount_hole_spacing_mm")
	require.Len(t, obs.ProposedNextSteps, 1)
	assert.Equal(t, schemas.IntentRequestBetterView, obs.ProposedNextSteps[0].Intent)
}

type failingVision struct{ err error }

func (f *failingVision) Observe(context.Context, schemas.ObserveRequest) (*schemas.Observation, error) {
	return nil, f.err
}

func TestObserveOrStub(t *testing.T) {
	req := schemas.ObserveRequest{Goal: "g", ImagePaths: []string{"a.png"}}

	t.Run("stub substitutes on failure", func(t *testing.T) {
		client := &failingVision{err: schemas.ErrNoCredentials}
		obs, err := ObserveOrStub(context.Background(), client, req, true)
		require.NoError(t, err)
		assert.Zero(t, obs.Confidence)
		assert.Contains(t, obs.Notes, "Vision fallback")
	})

	t.Run("error propagates when stub disallowed", func(t *testing.T) {
		client := &failingVision{err: schemas.ErrNoCredentials}
		_, err := ObserveOrStub(context.Background(), client, req, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, schemas.ErrNoCredentials))
	})
}
