package tutor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TutorChat/internal/session"
)

const (
	defaultTopic  = "General"
	defaultUserID = "anonymous"
	learningLevel = "intermediate"

	// historyWindow bounds the rolling context sent to the backend.
	historyWindow = 20

	fallbackMessage = "I apologize, but I'm having trouble connecting right now. Please try again."
)

var fallbackSuggestions = []string{
	"Check your internet connection",
	"Try again in a moment",
	"Contact support if the problem persists",
}

var (
	// ErrEmptyMessage rejects empty or whitespace-only input. Callers treat
	// it as a silent no-op.
	ErrEmptyMessage = errors.New("tutor: empty message")
	// ErrRequestInFlight rejects a send while a prior one is outstanding.
	ErrRequestInFlight = errors.New("tutor: request already in flight")
)

// Client talks to the remote tutor backend. It owns the rolling
// conversation window sent as context with each chat request; the window is
// not the displayed transcript and must be replayed by the caller when a
// stored session is loaded.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	cache      *gocache.Cache

	mu       sync.Mutex
	userID   string
	topic    string
	history  []session.Message
	inFlight bool
}

// NewClient creates a tutor backend client.
func NewClient(baseURL string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
		cache:      gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// SetUser sets the user ID sent with subsequent requests.
func (c *Client) SetUser(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

// SetTopic sets the topic sent with subsequent requests.
func (c *Client) SetTopic(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = title
}

// AddToHistory appends a turn to the rolling window, trimming to the most
// recent 20 entries.
func (c *Client) AddToHistory(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendHistoryLocked(role, content)
}

func (c *Client) appendHistoryLocked(role, content string) {
	c.history = append(c.history, session.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(c.history) > historyWindow {
		c.history = c.history[len(c.history)-historyWindow:]
	}
}

// ClearHistory drops the rolling window.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// History returns a copy of the rolling window.
func (c *Client) History() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Send posts a chat message with the rolling window as context. At most one
// request is outstanding at a time.
//
// A transport or non-2xx failure is not returned as an error: the result
// carries OK=false and a canned apology payload, and the apology is
// appended to the window as an assistant turn, mirroring what the user
// sees. The only error returns are the silent-reject sentinels.
func (c *Client) Send(ctx context.Context, message, lessonContent string) (*SendResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	c.inFlight = true
	topic := c.topic
	if topic == "" {
		topic = defaultTopic
	}
	userID := c.userID
	if userID == "" {
		userID = defaultUserID
	}
	history := make([]session.Message, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	cacheKey := chatCacheKey(userID, topic, history, message)
	if cached, ok := c.cache.Get(cacheKey); ok {
		data := cached.(ChatResponse)
		c.logger.Info("chat cache hit", "key", cacheKey[:16])
		c.mu.Lock()
		c.appendHistoryLocked(session.RoleUser, message)
		c.appendHistoryLocked(session.RoleAssistant, data.Response)
		c.mu.Unlock()
		return &SendResult{OK: true, Data: data}, nil
	}

	reqBody := ChatRequest{
		Message:             message,
		Topic:               topic,
		LessonContent:       lessonContent,
		UserID:              userID,
		ConversationHistory: history,
		LearningLevel:       learningLevel,
	}

	var data ChatResponse
	err := c.postJSON(ctx, "tutor_chat_request", "/tutor/chat", reqBody, &data)
	if err != nil {
		c.logger.Error("tutor chat request failed", "topic", topic, "error", err)
		c.mu.Lock()
		c.appendHistoryLocked(session.RoleAssistant, fallbackMessage)
		c.mu.Unlock()
		return &SendResult{
			OK: false,
			Data: ChatResponse{
				Response:        fallbackMessage,
				Suggestions:     fallbackSuggestions,
				RelatedConcepts: []string{},
				ConfidenceScore: 0.0,
			},
			Err: err.Error(),
		}, nil
	}

	c.cache.SetDefault(cacheKey, data)

	c.mu.Lock()
	c.appendHistoryLocked(session.RoleUser, message)
	c.appendHistoryLocked(session.RoleAssistant, data.Response)
	c.mu.Unlock()

	c.logger.Info("tutor response received",
		"topic", topic,
		"response_length", len(data.Response),
		"suggestions", len(data.Suggestions),
		"confidence", data.ConfidenceScore,
	)

	return &SendResult{OK: true, Data: data}, nil
}

// GenerateLesson requests a custom lesson from the backend.
func (c *Client) GenerateLesson(ctx context.Context, topic string, objectives []string, difficulty string) (*LessonResponse, error) {
	if difficulty == "" {
		difficulty = learningLevel
	}
	reqBody := LessonRequest{
		Topic:              topic,
		LearningObjectives: objectives,
		DifficultyLevel:    difficulty,
	}
	var data LessonResponse
	if err := c.postJSON(ctx, "tutor_generate_lesson", "/tutor/generate-lesson", reqBody, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// AvailableTopics fetches the topics the backend can tutor on.
func (c *Client) AvailableTopics(ctx context.Context) ([]string, error) {
	var data TopicsResponse
	if err := c.getJSON(ctx, "tutor_topics", "/tutor/topics", &data); err != nil {
		return nil, err
	}
	return data.Topics, nil
}

// HealthCheck fetches the backend health payload.
func (c *Client) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := c.getJSON(ctx, "tutor_health", "/tutor/health", &data); err != nil {
		return nil, err
	}
	return data, nil
}

// suggestionTemplates expand over a topic name. SuggestedQuestions returns
// the first four, so the same topic always yields the same strings.
var suggestionTemplates = []string{
	"Can you explain %s with a real-world example?",
	"What are the key differences between %s and related concepts?",
	"How would you apply %s in a business scenario?",
	"What are common mistakes people make when learning about %s?",
	"Can you give me a practice question about %s?",
	"What are the main benefits of understanding %s?",
	"How does %s relate to other business concepts?",
	"Can you break down %s into simpler parts?",
}

// SuggestedQuestions returns four starter questions for a topic.
func (c *Client) SuggestedQuestions(topic string) []string {
	out := make([]string, 0, 4)
	for _, tmpl := range suggestionTemplates[:4] {
		out = append(out, fmt.Sprintf(tmpl, topic))
	}
	return out
}

// ExportConversation writes the rolling window to a JSON file in dir and
// returns the path.
func (c *Client) ExportConversation(dir string) (string, error) {
	c.mu.Lock()
	topic := c.topic
	if topic == "" {
		topic = defaultTopic
	}
	userID := c.userID
	if userID == "" {
		userID = defaultUserID
	}
	messages := make([]session.Message, len(c.history))
	copy(messages, c.history)
	c.mu.Unlock()

	export := ConversationExport{
		Topic:     topic,
		UserID:    userID,
		Timestamp: time.Now().Format(time.RFC3339),
		Messages:  messages,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}

	name := fmt.Sprintf("ai-tutor-conversation-%s-%s.json",
		strings.ReplaceAll(topic, " ", "-"),
		time.Now().Format("2006-01-02"),
	)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write conversation export: %w", err)
	}

	c.logger.Info("conversation exported", "path", path, "message_count", len(messages))
	return path, nil
}

func (c *Client) postJSON(ctx context.Context, spanName, path string, reqBody, out interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.doJSON(ctx, spanName, http.MethodPost, path, bytes.NewBuffer(jsonData), out)
}

func (c *Client) getJSON(ctx context.Context, spanName, path string, out interface{}) error {
	return c.doJSON(ctx, spanName, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, spanName, method, path string, body io.Reader, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, spanName)
	defer span.End()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(ctx, path, start, false)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordRequest(ctx, path, start, false)
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordRequest(ctx, path, start, false)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.recordRequest(ctx, path, start, false)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.recordRequest(ctx, path, start, true)
	return nil
}

// recordRequest records request duration and outcome metrics.
func (c *Client) recordRequest(ctx context.Context, path string, start time.Time, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("success", ok),
	)

	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}

	counter, err := c.meter.Int64Counter(
		"tutor.requests",
		metric.WithDescription("Tutor backend requests"),
	)
	if err == nil {
		counter.Add(ctx, 1, attrs)
	}
}

// chatCacheKey hashes everything that determines a chat response.
func chatCacheKey(userID, topic string, history []session.Message, message string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte(topic))
	for _, msg := range history {
		h.Write([]byte(msg.Role))
		h.Write([]byte(msg.Content))
	}
	h.Write([]byte(message))
	return fmt.Sprintf("%x", h.Sum(nil))
}
