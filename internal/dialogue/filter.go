package dialogue

import "strings"

// DefaultMinChars is the shortest trimmed utterance forwarded to the model.
const DefaultMinChars = 3

// DefaultFillers are utterances that short VAD clips commonly transcribe to.
var DefaultFillers = []string{"uh", "um", "hmm", ".", "..", "...", "you", "ok", "okay", "yea", "yeah"}

// Filter drops utterances that carry no intent.
type Filter struct {
	MinChars int
	fillers  map[string]struct{}
}

// NewFilter builds a filter; fillers are matched case-insensitively on trimmed text.
func NewFilter(minChars int, fillers []string) Filter {
	f := Filter{MinChars: minChars, fillers: make(map[string]struct{}, len(fillers))}
	for _, w := range fillers {
		f.fillers[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return f
}

func DefaultFilter() Filter { return NewFilter(DefaultMinChars, DefaultFillers) }

// Meaningful reports whether text should reach the dialogue engine.
func (f Filter) Meaningful(text string) bool {
	clean := strings.ToLower(strings.TrimSpace(text))
	if len([]rune(clean)) < f.MinChars || clean == "" {
		return false
	}
	_, filler := f.fillers[clean]
	return !filler
}
