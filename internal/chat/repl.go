package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"TutorChat/internal/session"
	"TutorChat/internal/tutor"
)

// Run starts the interactive loop.
func (c *Controller) Run() error {
	fmt.Println("=== AI Tutor ===")
	fmt.Printf("Topic: %s\n", c.Topic())
	fmt.Printf("Session: %s\n", c.SessionID())
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()
	c.printSuggestions()

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				c.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		result, err := c.Send(ctx, input)
		if err != nil {
			if !IsSilentReject(err) {
				fmt.Printf("Error: %v\n", err)
				c.logger.Error("failed to send message", "error", err)
			}
			continue
		}
		if result == nil {
			continue
		}

		fmt.Printf("Tutor: %s\n\n", result.Data.Response)
		c.printSuggestions()
		if concepts := c.RelatedConcepts(); len(concepts) > 0 {
			fmt.Printf("Related concepts: %s\n\n", strings.Join(concepts, ", "))
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

func (c *Controller) printSuggestions() {
	suggestions := c.Suggestions()
	if len(suggestions) == 0 {
		return
	}
	fmt.Println("Suggested questions:")
	for i, s := range suggestions {
		fmt.Printf("  %d. %s\n", i+1, s)
	}
	fmt.Println()
}

// handleCommand handles slash commands
func (c *Controller) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		c.speech.Stop()
		c.StartNewSession(c.Topic())
		fmt.Println("Started new session:", c.SessionID())
		c.printSuggestions()
		return false, nil

	case "/sessions":
		sessions := c.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No saved sessions for this topic.")
			return false, nil
		}
		fmt.Println("\nSaved sessions:")
		for i, sess := range sessions {
			active := ""
			if sess.ID == c.SessionID() {
				active = " (active)"
			}
			fmt.Printf("%d. %s - %s (%d messages)%s\n", i+1, sess.ID, sess.Title, len(sess.Messages), active)
		}
		fmt.Println()
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		if err := c.SwitchToSession(parts[1]); err != nil {
			return false, err
		}
		fmt.Println("Switched to session:", parts[1])
		c.printTranscript()
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <session-id>")
		}
		if err := c.DeleteSession(parts[1]); err != nil {
			return false, err
		}
		fmt.Println("Deleted session:", parts[1])
		return false, nil

	case "/topics":
		topics, err := c.client.AvailableTopics(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to fetch topics: %w", err)
		}
		fmt.Println("\nAvailable topics:")
		for i, t := range topics {
			fmt.Printf("%d. %s\n", i+1, t)
		}
		fmt.Println()
		return false, nil

	case "/topic":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /topic <name>")
		}
		title := strings.Join(parts[1:], " ")
		c.SetTopic(title, slugify(title))
		fmt.Println("Switched to topic:", title)
		c.printSuggestions()
		return false, nil

	case "/lesson":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /lesson <topic>")
		}
		topic := strings.Join(parts[1:], " ")
		lesson, err := c.client.GenerateLesson(ctx, topic, nil, "")
		if err != nil {
			return false, fmt.Errorf("failed to generate lesson: %w", err)
		}
		c.SelectLesson(lesson)
		fmt.Printf("\nLesson (%d min):\n%s\n\n", lesson.EstimatedDuration, lesson.LessonContent)
		if len(lesson.KeyPoints) > 0 {
			fmt.Println("Key points:")
			for _, p := range lesson.KeyPoints {
				fmt.Printf("  - %s\n", p)
			}
			fmt.Println()
		}
		return false, nil

	case "/play":
		if err := c.PlayLesson(); err != nil {
			return false, err
		}
		fmt.Println("Playing lesson audio...")
		return false, nil

	case "/pause":
		c.speech.Pause()
		return false, nil

	case "/resume":
		c.speech.Resume()
		return false, nil

	case "/stop-audio":
		c.speech.Stop()
		return false, nil

	case "/export":
		path, err := c.client.ExportConversation(".")
		if err != nil {
			return false, err
		}
		fmt.Println("Conversation exported to:", path)
		return false, nil

	case "/health":
		payload, err := c.client.HealthCheck(ctx)
		if err != nil {
			return false, fmt.Errorf("health check failed: %w", err)
		}
		fmt.Printf("Backend health: %v\n", payload)
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit          - Exit")
		fmt.Println("  /new                  - Start a new chat session")
		fmt.Println("  /sessions             - List saved sessions for this topic")
		fmt.Println("  /switch <session-id>  - Load a saved session")
		fmt.Println("  /delete <session-id>  - Delete a saved session")
		fmt.Println("  /topics               - List topics the tutor knows")
		fmt.Println("  /topic <name>         - Switch the active topic")
		fmt.Println("  /lesson <topic>       - Generate a lesson on a topic")
		fmt.Println("  /play                 - Read the selected lesson aloud")
		fmt.Println("  /pause                - Pause lesson audio")
		fmt.Println("  /resume               - Resume lesson audio")
		fmt.Println("  /stop-audio           - Stop lesson audio")
		fmt.Println("  /export               - Export the conversation to JSON")
		fmt.Println("  /health               - Check backend health")
		fmt.Println("  /help                 - Show this help message")
		return false, nil

	default:
		return false, nil
	}
}

func (c *Controller) printTranscript() {
	for _, m := range c.Transcript() {
		speaker := "Tutor"
		if m.Role == session.RoleUser {
			speaker = "You"
		}
		fmt.Printf("%s: %s\n", speaker, m.Content)
	}
	fmt.Println()
}

// slugify derives a storage-scope identifier from a topic title.
func slugify(title string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"))
}

// IsSilentReject reports whether err is one of the no-op sentinels.
func IsSilentReject(err error) bool {
	return errors.Is(err, tutor.ErrEmptyMessage) || errors.Is(err, tutor.ErrRequestInFlight)
}
