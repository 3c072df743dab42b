package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"TutorChat/internal/config"
	"TutorChat/internal/session"
	"TutorChat/internal/speech"
	"TutorChat/internal/tutor"
)

// Controller orchestrates sessions, the tutor client and lesson playback.
// It is the only writer to both the visible transcript and the client's
// rolling history; every path that changes one updates the other before the
// next send.
type Controller struct {
	store  *session.Store
	client *tutor.Client
	speech *speech.Controller
	logger *slog.Logger

	mu              sync.Mutex
	scopeKey        string
	topicTitle      string
	sessionID       string
	title           string
	createdAt       time.Time
	transcript      []session.Message
	suggestions     []string
	relatedConcepts []string
	lesson          *tutor.LessonResponse
	sending         bool
}

// NewController wires the components and binds the initial session: the one
// named in cfg.SessionID if it exists under the topic scope, otherwise a
// fresh one.
func NewController(cfg config.Config, store *session.Store, client *tutor.Client, sp *speech.Controller, logger *slog.Logger) *Controller {
	client.SetUser(cfg.UserID)
	client.SetTopic(cfg.Topic)
	sp.SetLanguage(cfg.Language)
	sp.SetRate(cfg.SpeechRate)

	c := &Controller{
		store:      store,
		client:     client,
		speech:     sp,
		logger:     logger,
		scopeKey:   session.ScopeKey(cfg.TopicID),
		topicTitle: cfg.Topic,
	}

	if cfg.SessionID != "" {
		if err := c.SwitchToSession(cfg.SessionID); err == nil {
			logger.Info("resumed session", "session_id", cfg.SessionID)
			return c
		}
		logger.Warn("session not found, starting new one", "session_id", cfg.SessionID)
	}
	c.StartNewSession(cfg.Topic)
	return c
}

func welcomeMessage(topic string) string {
	return fmt.Sprintf("Hi! I'm here to help you understand %s. What would you like to know about this topic?", topic)
}

// StartNewSession resets the transcript to a single welcome message for the
// topic, clears the client's rolling history and recomputes suggestions.
func (c *Controller) StartNewSession(topicTitle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startNewSessionLocked(topicTitle)
}

func (c *Controller) startNewSessionLocked(topicTitle string) {
	c.sessionID = session.NewID()
	c.topicTitle = topicTitle
	c.title = ""
	c.createdAt = time.Now()
	c.transcript = []session.Message{{
		Role:      session.RoleAssistant,
		Content:   welcomeMessage(topicTitle),
		Timestamp: time.Now(),
	}}
	c.relatedConcepts = nil

	c.client.ClearHistory()
	c.client.SetTopic(topicTitle)
	c.suggestions = c.client.SuggestedQuestions(topicTitle)

	c.logger.Info("started new session", "session_id", c.sessionID, "topic", topicTitle)
}

// SwitchToSession loads a stored session as the visible transcript and
// replays it into the client's rolling history, preserving order, so the
// remote context matches what is shown.
func (c *Controller) SwitchToSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.store.Get(c.scopeKey, id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	c.sessionID = sess.ID
	c.title = sess.Title
	c.createdAt = sess.CreatedAt
	c.transcript = append([]session.Message(nil), sess.Messages...)

	c.client.ClearHistory()
	for _, m := range sess.Messages {
		c.client.AddToHistory(m.Role, m.Content)
	}

	c.logger.Info("switched to session", "session_id", id, "messages", len(sess.Messages))
	return nil
}

// DeleteSession removes a session from the collection. Deleting the active
// session starts a new one for the current topic.
func (c *Controller) DeleteSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(c.scopeKey, id); err != nil {
		return err
	}
	if c.sessionID == id {
		c.startNewSessionLocked(c.topicTitle)
	}
	return nil
}

// SetTopic switches the active topic: playback stops, the session scope
// changes and a fresh session starts.
func (c *Controller) SetTopic(title, topicID string) {
	c.speech.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopeKey = session.ScopeKey(topicID)
	c.startNewSessionLocked(title)
}

// SelectLesson binds lesson content for chat context and playback. Any
// in-progress playback of the previous lesson stops; there is no carry-over.
func (c *Controller) SelectLesson(lesson *tutor.LessonResponse) {
	c.speech.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lesson = lesson
}

// Send posts a user message. The user turn lands in the transcript
// immediately; the assistant turn (real or canned failure) is appended when
// the request resolves, unless the active session changed in the meantime —
// a late response must never reach another session's transcript.
func (c *Controller) Send(ctx context.Context, text string) (*tutor.SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tutor.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil, tutor.ErrRequestInFlight
	}
	c.sending = true
	startID := c.sessionID
	lessonContent := ""
	if c.lesson != nil {
		lessonContent = c.lesson.LessonContent
	}
	c.transcript = append(c.transcript, session.Message{
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	c.persistLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	result, err := c.client.Send(ctx, text, lessonContent)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != startID {
		// The late turns were recorded against a session that is no longer
		// bound; re-sync the rolling window with the active transcript.
		c.logger.Info("discarding response for inactive session", "session_id", startID)
		c.client.ClearHistory()
		if len(c.transcript) > 1 {
			for _, m := range c.transcript {
				c.client.AddToHistory(m.Role, m.Content)
			}
		}
		return nil, nil
	}

	c.transcript = append(c.transcript, session.Message{
		Role:      session.RoleAssistant,
		Content:   result.Data.Response,
		Timestamp: time.Now(),
	})
	if result.OK {
		c.suggestions = result.Data.Suggestions
		c.relatedConcepts = result.Data.RelatedConcepts
	}
	c.persistLocked()

	return result, nil
}

// persistLocked upserts the session once the transcript has grown past the
// welcome message. The title is derived from the first user message and
// never recomputed.
func (c *Controller) persistLocked() {
	if len(c.transcript) <= 1 {
		return
	}
	if c.title == "" {
		c.title = session.DeriveTitle(c.transcript)
	}
	messages := make([]session.Message, len(c.transcript))
	copy(messages, c.transcript)

	sess := session.Session{
		ID:          c.sessionID,
		Title:       c.title,
		Messages:    messages,
		CreatedAt:   c.createdAt,
		LastUpdated: time.Now(),
	}
	if err := c.store.Upsert(c.scopeKey, sess); err != nil {
		c.logger.Error("failed to persist session", "session_id", c.sessionID, "error", err)
	}
}

// PlayLesson speaks the selected lesson's content.
func (c *Controller) PlayLesson() error {
	c.mu.Lock()
	lesson := c.lesson
	c.mu.Unlock()

	if lesson == nil {
		return fmt.Errorf("no lesson selected")
	}
	c.speech.Play(lesson.LessonContent)
	return nil
}

// SessionID returns the active session's ID.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Transcript returns a copy of the visible transcript.
func (c *Controller) Transcript() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Suggestions returns the current follow-up suggestions.
func (c *Controller) Suggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.suggestions...)
}

// RelatedConcepts returns the concepts related to the last response.
func (c *Controller) RelatedConcepts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.relatedConcepts...)
}

// Sessions lists the stored sessions for the active topic scope.
func (c *Controller) Sessions() []session.Session {
	c.mu.Lock()
	scope := c.scopeKey
	c.mu.Unlock()
	return c.store.Load(scope)
}

// Topic returns the active topic title.
func (c *Controller) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicTitle
}

// Lesson returns the selected lesson, or nil.
func (c *Controller) Lesson() *tutor.LessonResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lesson
}
