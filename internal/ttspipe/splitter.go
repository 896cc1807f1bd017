// Package ttspipe turns streamed assistant text into paced Opus audio:
// sentences are cut from the token stream, synthesized with retry, encoded,
// and sent to the device in playback order. A turn can be aborted at any
// point; queued work for the old turn is dropped.
package ttspipe

import "strings"

// SentenceType marks a sentence's position within one assistant turn.
type SentenceType int

const (
	SentenceFirst SentenceType = iota
	SentenceMiddle
	SentenceLast
)

func (s SentenceType) String() string {
	switch s {
	case SentenceFirst:
		return "FIRST"
	case SentenceMiddle:
		return "MIDDLE"
	case SentenceLast:
		return "LAST"
	}
	return "UNKNOWN"
}

// terminalPunct ends a sentence in any position.
const terminalPunct = "。？?！!；;："

// eagerPunct additionally ends the first sentence of a turn. Splitting the
// first sentence at a comma-level pause gets audio to the device sooner.
const eagerPunct = "，~、,"

// Splitter cuts complete sentences out of an incremental text stream. The
// first sentence of a turn is released at the first comma-level pause;
// later sentences wait for terminal punctuation.
type Splitter struct {
	buf       strings.Builder
	firstSent bool
}

// Feed consumes the next text delta and returns any completed sentences.
func (s *Splitter) Feed(delta string) []string {
	s.buf.WriteString(delta)
	var out []string
	for {
		text := s.buf.String()
		var idx int
		if !s.firstSent {
			// Maximal cut: everything up to the last pause seen so far
			// becomes the opening sentence.
			idx = lastPunct(text, terminalPunct+eagerPunct)
		} else {
			idx = firstPunct(text, terminalPunct)
		}
		if idx < 0 {
			return out
		}
		sentence := strings.TrimSpace(text[:idx])
		s.buf.Reset()
		s.buf.WriteString(text[idx:])
		if sentence != "" {
			out = append(out, sentence)
			s.firstSent = true
		}
	}
}

// Flush returns the trailing text that never reached punctuation, ending
// the turn. The splitter is reset for the next turn.
func (s *Splitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.firstSent = false
	return rest
}

// lastPunct returns the byte index just past the last rune of set found in
// text, or -1 when none is present.
func lastPunct(text, set string) int {
	best := -1
	for _, p := range strings.Split(set, "") {
		if idx := strings.LastIndex(text, p); idx != -1 {
			end := idx + len(p)
			if end > best {
				best = end
			}
		}
	}
	return best
}

// firstPunct returns the byte index just past the earliest rune of set found
// in text, or -1 when none is present.
func firstPunct(text, set string) int {
	best := -1
	for _, p := range strings.Split(set, "") {
		if idx := strings.Index(text, p); idx != -1 {
			end := idx + len(p)
			if best == -1 || end < best {
				best = end
			}
		}
	}
	return best
}
