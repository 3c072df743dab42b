package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"TutorChat/internal/session"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL, logger, tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))
}

func chatHandler(t *testing.T, resp ChatResponse, gotReq *ChatRequest) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tutor/chat", r.URL.Path)
		if gotReq != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(gotReq))
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func TestSendSuccess(t *testing.T) {
	resp := ChatResponse{
		Response:        "Elasticity measures...",
		Suggestions:     []string{"Try a graph example"},
		RelatedConcepts: []string{"PED"},
		ConfidenceScore: 0.9,
	}
	var gotReq ChatRequest
	c := newTestClient(t, chatHandler(t, resp, &gotReq))
	c.SetTopic("Demand and Supply")
	c.SetUser("student-1")

	result, err := c.Send(context.Background(), "What is elasticity?", "lesson text")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, resp, result.Data)

	assert.Equal(t, "What is elasticity?", gotReq.Message)
	assert.Equal(t, "Demand and Supply", gotReq.Topic)
	assert.Equal(t, "lesson text", gotReq.LessonContent)
	assert.Equal(t, "student-1", gotReq.UserID)
	assert.Equal(t, "intermediate", gotReq.LearningLevel)
	assert.Empty(t, gotReq.ConversationHistory)

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "What is elasticity?", history[0].Content)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, "Elasticity measures...", history[1].Content)
}

func TestSendDefaults(t *testing.T) {
	var gotReq ChatRequest
	c := newTestClient(t, chatHandler(t, ChatResponse{Response: "ok"}, &gotReq))

	_, err := c.Send(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "General", gotReq.Topic)
	assert.Equal(t, "anonymous", gotReq.UserID)
}

func TestSendEmptyMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	for _, msg := range []string{"", "   ", "\n\t"} {
		result, err := c.Send(context.Background(), msg, "")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, c.History())
}

func TestSendFailureReturnsFallback(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	result, err := c.Send(context.Background(), "hello", "")
	require.NoError(t, err)
	require.False(t, result.OK)
	assert.Equal(t, fallbackMessage, result.Data.Response)
	assert.Equal(t, fallbackSuggestions, result.Data.Suggestions)
	assert.Empty(t, result.Data.RelatedConcepts)
	assert.Zero(t, result.Data.ConfidenceScore)
	assert.NotEmpty(t, result.Err)

	// The apology lands in the rolling window as an assistant turn.
	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleAssistant, history[0].Role)
	assert.Equal(t, fallbackMessage, history[0].Content)
}

func TestSendMalformedResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))

	result, err := c.Send(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, fallbackMessage, result.Data.Response)
}

func TestSendSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		json.NewEncoder(w).Encode(ChatResponse{Response: "late"})
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Send(context.Background(), "first", "")
		assert.NoError(t, err)
	}()

	<-entered
	result, err := c.Send(context.Background(), "second", "")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrRequestInFlight)

	close(release)
	<-done
}

func TestHistoryWindowBound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient("http://unused", logger, tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))

	var want []string
	for i := 0; i < 30; i++ {
		content := fmt.Sprintf("message %02d", i)
		c.AddToHistory(session.RoleUser, content)
		want = append(want, content)
	}

	history := c.History()
	require.Len(t, history, 20)
	for i, msg := range history {
		assert.Equal(t, want[10+i], msg.Content, "retained entries must be the most recent 20 in order")
	}
}

func TestSendCachesResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(ChatResponse{Response: "cached answer"})
	}))

	_, err := c.Send(context.Background(), "same question", "")
	require.NoError(t, err)

	// Identical context (empty history) and message hit the cache.
	c.ClearHistory()
	result, err := c.Send(context.Background(), "same question", "")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, "cached answer", result.Data.Response)
	assert.Equal(t, int32(1), calls.Load())

	// Turns are still recorded on a cache hit.
	assert.Len(t, c.History(), 2)
}

func TestSuggestedQuestionsDeterministic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient("http://unused", logger, tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))

	first := c.SuggestedQuestions("Demand and Supply")
	second := c.SuggestedQuestions("Demand and Supply")

	require.Len(t, first, 4)
	assert.Equal(t, first, second)
	for _, q := range first {
		assert.Contains(t, q, "Demand and Supply")
	}
}

func TestGenerateLesson(t *testing.T) {
	var gotReq LessonRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tutor/generate-lesson", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(LessonResponse{
			LessonContent:     "Supply curves slope upward.",
			KeyPoints:         []string{"supply", "price"},
			EstimatedDuration: 10,
		})
	}))

	lesson, err := c.GenerateLesson(context.Background(), "Supply", []string{"understand curves"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Supply curves slope upward.", lesson.LessonContent)
	assert.Equal(t, 10, lesson.EstimatedDuration)
	assert.Equal(t, "Supply", gotReq.Topic)
	assert.Equal(t, "intermediate", gotReq.DifficultyLevel)
}

func TestAvailableTopics(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tutor/topics", r.URL.Path)
		json.NewEncoder(w).Encode(TopicsResponse{Topics: []string{"Demand and Supply", "Marketing"}})
	}))

	topics, err := c.AvailableTopics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Demand and Supply", "Marketing"}, topics)
}

func TestHealthCheck(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tutor/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	}))

	payload, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", payload["status"])
}

func TestExportConversation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient("http://unused", logger, tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))
	c.SetTopic("Demand and Supply")
	c.SetUser("student-1")
	c.AddToHistory(session.RoleUser, "What is elasticity?")
	c.AddToHistory(session.RoleAssistant, "Elasticity measures...")

	dir := t.TempDir()
	path, err := c.ExportConversation(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "ai-tutor-conversation-Demand-and-Supply-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var export ConversationExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, "Demand and Supply", export.Topic)
	assert.Equal(t, "student-1", export.UserID)
	require.Len(t, export.Messages, 2)
	assert.Equal(t, "What is elasticity?", export.Messages[0].Content)
}
