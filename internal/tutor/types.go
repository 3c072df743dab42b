package tutor

import "TutorChat/internal/session"

// ChatRequest is the request body for POST /tutor/chat
type ChatRequest struct {
	Message             string            `json:"message"`
	Topic               string            `json:"topic"`
	LessonContent       string            `json:"lesson_content,omitempty"`
	UserID              string            `json:"user_id"`
	ConversationHistory []session.Message `json:"conversation_history"`
	LearningLevel       string            `json:"learning_level"`
}

// ChatResponse is the response from POST /tutor/chat
type ChatResponse struct {
	Response        string   `json:"response"`
	Suggestions     []string `json:"suggestions"`
	RelatedConcepts []string `json:"related_concepts"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// SendResult is what Send hands back to the caller: the success flag, the
// payload to render (real or canned fallback), and the underlying error
// text when the request failed.
type SendResult struct {
	OK   bool
	Data ChatResponse
	Err  string
}

// LessonRequest is the request body for POST /tutor/generate-lesson
type LessonRequest struct {
	Topic              string   `json:"topic"`
	LearningObjectives []string `json:"learning_objectives"`
	DifficultyLevel    string   `json:"difficulty_level"`
}

// LessonResponse is the response from POST /tutor/generate-lesson
type LessonResponse struct {
	LessonContent     string   `json:"lesson_content"`
	KeyPoints         []string `json:"key_points"`
	PracticeQuestions []string `json:"practice_questions"`
	EstimatedDuration int      `json:"estimated_duration"`
}

// TopicsResponse is the response from GET /tutor/topics
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

// ConversationExport is the downloadable conversation artifact
type ConversationExport struct {
	Topic     string            `json:"topic"`
	UserID    string            `json:"user_id"`
	Timestamp string            `json:"timestamp"`
	Messages  []session.Message `json:"messages"`
}
