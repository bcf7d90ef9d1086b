// Package command detects spoken control phrases in the live transcript.
package command

import (
	"strings"
	"unicode"
)

// Kind tags a detection.
type Kind int

const (
	// TriggerHeard means the trigger phrase completed; title capture is on.
	TriggerHeard Kind = iota
	// TitleCaptured means the stop phrase or a speech boundary closed the
	// title.
	TitleCaptured
)

// Detection is one recognized command.
type Detection struct {
	Kind  Kind
	Title string
}

// Config holds the control phrases. Matching is case-insensitive and
// ignores punctuation.
type Config struct {
	Trigger string
	Stop    string
}

func (c Config) withDefaults() Config {
	if c.Trigger == "" {
		c.Trigger = "start new note"
	}
	if c.Stop == "" {
		c.Stop = "end note"
	}
	return c
}

// Detector scans the concatenated live transcript for the trigger phrase,
// then captures the words that follow as a note title until the stop
// phrase or a speech boundary. The trigger phrase spoken again during
// capture is ordinary title text. Not safe for concurrent use; it runs on
// the control goroutine.
type Detector struct {
	trigger []string
	stop    []string

	capturing bool
	window    []string
	title     []string
}

// NewDetector creates a detector for the configured phrases.
func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		trigger: normalize(cfg.Trigger),
		stop:    normalize(cfg.Stop),
	}
}

// Capturing reports whether a title is currently being collected.
func (d *Detector) Capturing() bool { return d.capturing }

// Feed scans one piece of live transcript text. Phrases may straddle text
// events, so matching state carries across calls.
func (d *Detector) Feed(text string) []Detection {
	var out []Detection
	for _, word := range normalize(text) {
		if det, ok := d.feedWord(word); ok {
			out = append(out, det)
		}
	}
	return out
}

// Boundary flushes title capture when speech ends. An empty title resets
// silently.
func (d *Detector) Boundary() (Detection, bool) {
	if !d.capturing {
		return Detection{}, false
	}
	return d.finishTitle(d.title)
}

// Reset clears all matching state.
func (d *Detector) Reset() {
	d.capturing = false
	d.window = nil
	d.title = nil
}

func (d *Detector) feedWord(word string) (Detection, bool) {
	if d.capturing {
		d.title = append(d.title, word)
		if hasSuffix(d.title, d.stop) {
			return d.finishTitle(d.title[:len(d.title)-len(d.stop)])
		}
		return Detection{}, false
	}

	d.window = append(d.window, word)
	if len(d.window) > len(d.trigger) {
		d.window = d.window[len(d.window)-len(d.trigger):]
	}
	if hasSuffix(d.window, d.trigger) {
		d.capturing = true
		d.window = nil
		return Detection{Kind: TriggerHeard}, true
	}
	return Detection{}, false
}

func (d *Detector) finishTitle(words []string) (Detection, bool) {
	title := strings.Join(words, " ")
	d.Reset()
	if title == "" {
		return Detection{}, false
	}
	return Detection{Kind: TitleCaptured, Title: title}, true
}

func hasSuffix(words, phrase []string) bool {
	if len(phrase) == 0 || len(words) < len(phrase) {
		return false
	}
	off := len(words) - len(phrase)
	for i, w := range phrase {
		if words[off+i] != w {
			return false
		}
	}
	return true
}

// normalize lowercases and strips punctuation, returning the words.
func normalize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)
	return strings.Fields(cleaned)
}
