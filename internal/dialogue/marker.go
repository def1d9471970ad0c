package dialogue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	controlTag      = regexp.MustCompile(`(?is)<control>(.*?)</control>`)
	danglingControl = regexp.MustCompile(`(?is)<control>.*$`)
)

type controlPayload struct {
	ShouldEnd         *bool `json:"shouldEnd"`
	EndOfConversation *bool `json:"endOfConversation"`
}

// ExtractControl separates the visible reply from the trailing control marker
// <control>{"shouldEnd": bool}</control>. Every control tag, including an
// unterminated one, is removed from visible. A missing or unreadable marker
// yields end=false with an error wrapping ErrMalformedMarker.
func ExtractControl(raw string) (visible string, end bool, err error) {
	visible = controlTag.ReplaceAllString(raw, "")
	visible = danglingControl.ReplaceAllString(visible, "")
	visible = strings.TrimSpace(visible)

	matches := controlTag.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return visible, false, fmt.Errorf("%w: no control tag", ErrMalformedMarker)
	}
	body := strings.TrimSpace(matches[len(matches)-1][1])

	var p controlPayload
	if jerr := json.Unmarshal([]byte(body), &p); jerr != nil {
		return visible, false, fmt.Errorf("%w: %v", ErrMalformedMarker, jerr)
	}
	switch {
	case p.ShouldEnd != nil:
		return visible, *p.ShouldEnd, nil
	case p.EndOfConversation != nil:
		return visible, *p.EndOfConversation, nil
	default:
		return visible, false, fmt.Errorf("%w: no end flag in %q", ErrMalformedMarker, body)
	}
}
