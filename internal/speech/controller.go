package speech

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Status is the playback state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// timePerWord is the estimated highlight cadence at an average reading
// speed of 150 words per minute. The highlighter is a best-effort
// approximation driven by this fixed rate; it is not synchronized to actual
// audio timing.
const timePerWord = time.Minute / 150

// tickInterval drives the highlight timer. Tests shorten it.
var tickInterval = timePerWord

// State is a snapshot of playback.
type State struct {
	Status            Status
	WordIndex         int
	Words             []string
	HighlightedMarkup string
}

// Controller drives text-to-speech playback of lesson content with
// word-level highlight synchronization. It owns its state exclusively; the
// engine is an injected capability.
type Controller struct {
	engine Engine
	logger *slog.Logger

	mu          sync.Mutex
	lang        string
	rate        float64
	status      Status
	words       []string
	wordIndex   int
	highlighted string
	// gen increments on every transition; a ticker from a superseded
	// generation bails out instead of mutating state that has moved on.
	gen int
}

func NewController(engine Engine, logger *slog.Logger) *Controller {
	return &Controller{
		engine: engine,
		logger: logger,
		lang:   "en-US",
		rate:   1.0,
		status: StatusIdle,
	}
}

// SetLanguage selects the utterance voice. Arabic maps to ar-SA, anything
// else to en-US. The highlight rate stays fixed regardless of language.
func (c *Controller) SetLanguage(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == "ar" {
		c.lang = "ar-SA"
	} else {
		c.lang = "en-US"
	}
}

// SetRate sets the speech rate passed to the engine.
func (c *Controller) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate > 0 {
		c.rate = rate
	}
}

var htmlTags = regexp.MustCompile(`<[^>]*>`)

// CleanText strips emphasis markers and HTML tags from lesson content
// before it is spoken.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")
	return htmlTags.ReplaceAllString(text, "")
}

// Play starts playback of lessonText from the first word, cancelling any
// playback already in progress. Playing while already playing restarts; it
// does not queue.
func (c *Controller) Play(lessonText string) {
	c.engine.Cancel()

	clean := CleanText(lessonText)
	words := strings.Fields(clean)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if len(words) == 0 {
		c.status = StatusIdle
		c.words = nil
		c.wordIndex = 0
		c.highlighted = ""
		c.mu.Unlock()
		return
	}
	c.status = StatusPlaying
	c.words = words
	c.wordIndex = 0
	c.highlighted = ""
	lang, rate := c.lang, c.rate
	c.mu.Unlock()

	c.engine.Speak(clean, lang, rate, func(err error) { c.finish(gen, err) })
	go c.runHighlighter(gen, 0)

	c.logger.Info("lesson playback started", "words", len(words), "lang", lang)
}

// runHighlighter advances one word per tick while the engine reports
// speaking. It exits as soon as its generation is superseded.
func (c *Controller) runHighlighter(gen, start int) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	idx := start
	for range ticker.C {
		c.mu.Lock()
		if c.gen != gen || c.status != StatusPlaying {
			c.mu.Unlock()
			return
		}
		if idx >= len(c.words) || !c.engine.Speaking() {
			c.mu.Unlock()
			return
		}
		c.wordIndex = idx
		c.highlighted = highlightWord(c.words, idx)
		idx++
		c.mu.Unlock()
	}
}

// finish handles natural completion or engine error: both return to idle.
func (c *Controller) finish(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err != nil {
		c.logger.Warn("speech engine error", "error", err)
	}
	c.gen++
	c.status = StatusIdle
	c.words = nil
	c.wordIndex = 0
	c.highlighted = ""
}

// Pause suspends playback, preserving the word index. No-op unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPlaying {
		return
	}
	c.engine.Pause()
	c.gen++
	c.status = StatusPaused
}

// Resume continues playback from the preserved word index. No-op unless
// paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.status != StatusPaused {
		c.mu.Unlock()
		return
	}
	c.engine.Resume()
	c.gen++
	gen := c.gen
	start := c.wordIndex
	c.status = StatusPlaying
	c.mu.Unlock()

	go c.runHighlighter(gen, start)
}

// Stop cancels playback and resets all state.
func (c *Controller) Stop() {
	c.engine.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.status = StatusIdle
	c.words = nil
	c.wordIndex = 0
	c.highlighted = ""
}

// Snapshot returns the current playback state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	words := make([]string, len(c.words))
	copy(words, c.words)
	return State{
		Status:            c.status,
		WordIndex:         c.wordIndex,
		Words:             words,
		HighlightedMarkup: c.highlighted,
	}
}

// highlightWord wraps the word at idx in the highlight span.
func highlightWord(words []string, idx int) string {
	out := make([]string, len(words))
	for i, w := range words {
		if i == idx {
			out[i] = `<span class="highlighted-word">` + w + `</span>`
		} else {
			out[i] = w
		}
	}
	return strings.Join(out, " ")
}
