package llmdriver

import "strings"

// emotions maps the emoji the persona prompt asks the model to lead with to
// the expression label devices understand. Order matters only for Detect's
// first-match scan.
var emotions = []struct {
	Emoji string
	Label string
}{
	{"😂", "laughing"},
	{"😭", "crying"},
	{"😠", "angry"},
	{"😍", "loving"},
	{"😲", "surprised"},
	{"😔", "sad"},
	{"😌", "relaxed"},
	{"🤔", "thinking"},
	{"😴", "sleepy"},
	{"🙂", "happy"},
}

// DefaultEmotion is used when the reply carries no recognised emoji.
const (
	DefaultEmoji   = "🙂"
	DefaultEmotion = "happy"
)

// DetectEmotion returns the first recognised emotion emoji in text along
// with its label. Falls back to the neutral default when none is present.
func DetectEmotion(text string) (emoji, label string) {
	best := -1
	emoji, label = DefaultEmoji, DefaultEmotion
	for _, e := range emotions {
		if idx := strings.Index(text, e.Emoji); idx != -1 && (best == -1 || idx < best) {
			best = idx
			emoji, label = e.Emoji, e.Label
		}
	}
	return emoji, label
}

// StripEmojis removes all recognised emotion emojis from text so they are
// not spoken by the TTS.
func StripEmojis(text string) string {
	for _, e := range emotions {
		text = strings.ReplaceAll(text, e.Emoji, "")
	}
	return text
}
