package speech

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Engine abstracts the platform text-to-speech capability. The engine is a
// shared singleton resource: at most one utterance is active at a time, and
// starting a new one cancels any prior utterance rather than queuing.
type Engine interface {
	// Speak starts an utterance. done is invoked exactly once on natural
	// completion or engine error; it is not invoked after Cancel.
	Speak(text, lang string, rate float64, done func(err error))
	Pause()
	Resume()
	Cancel()
	// Speaking reports whether an utterance is active, including paused.
	Speaking() bool
	Paused() bool
}

// SystemEngine is a no-audio engine used when no platform TTS stack is
// wired in. It tracks speaking/paused state and signals completion after
// the estimated reading duration, so playback and highlighting behave the
// same as with a real engine.
type SystemEngine struct {
	logger *slog.Logger

	mu        sync.Mutex
	gen       int
	speaking  bool
	paused    bool
	timer     *time.Timer
	deadline  time.Time
	remaining time.Duration
	done      func(error)
}

func NewSystemEngine(logger *slog.Logger) *SystemEngine {
	return &SystemEngine{logger: logger}
}

func (e *SystemEngine) Speak(text, lang string, rate float64, done func(err error)) {
	e.Cancel()

	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(text))
	duration := time.Duration(float64(words) * float64(timePerWord) / rate)

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.speaking = true
	e.paused = false
	e.done = done
	e.deadline = time.Now().Add(duration)
	e.timer = time.AfterFunc(duration, func() { e.complete(gen) })
	e.mu.Unlock()

	e.logger.Debug("utterance started", "lang", lang, "words", words, "duration", duration)
}

func (e *SystemEngine) complete(gen int) {
	e.mu.Lock()
	if gen != e.gen || !e.speaking {
		e.mu.Unlock()
		return
	}
	e.speaking = false
	e.paused = false
	done := e.done
	e.done = nil
	e.mu.Unlock()

	if done != nil {
		done(nil)
	}
}

func (e *SystemEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.speaking || e.paused {
		return
	}
	e.paused = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.remaining = time.Until(e.deadline)
	if e.remaining < 0 {
		e.remaining = 0
	}
}

func (e *SystemEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	gen := e.gen
	e.deadline = time.Now().Add(e.remaining)
	e.timer = time.AfterFunc(e.remaining, func() { e.complete(gen) })
}

func (e *SystemEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
	}
	e.speaking = false
	e.paused = false
	e.done = nil
}

func (e *SystemEngine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *SystemEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}
