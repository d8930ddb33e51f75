package auction

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON reports a response that contains no parsible JSON object.
var ErrNoJSON = errors.New("no parsible JSON object in text")

// extractJSONObjects pulls every well-formed top-level JSON object out of
// free-form model output. The whole text is tried as strict JSON first;
// otherwise candidate objects are located by balanced-brace scanning and
// individually parsed, skipping candidates that fail to decode.
func extractJSONObjects(text string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var whole map[string]any
		if err := json.Unmarshal([]byte(trimmed), &whole); err == nil {
			return []map[string]any{whole}, nil
		}
	}

	var objects []map[string]any
	depth := 0
	start := -1
	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var obj map[string]any
				if err := json.Unmarshal([]byte(text[start:i+1]), &obj); err == nil {
					objects = append(objects, obj)
				}
				start = -1
			}
		}
	}
	if len(objects) == 0 {
		return nil, ErrNoJSON
	}
	return objects, nil
}

// lastJSONObject returns the final JSON object in the text, which is where
// models put the answer after their reasoning.
func lastJSONObject(text string) (map[string]any, error) {
	objects, err := extractJSONObjects(text)
	if err != nil {
		return nil, err
	}
	return objects[len(objects)-1], nil
}

var numberedItemRe = regexp.MustCompile(`(?ms)^\s*(\d+[.)]\s?.*?)(?:\s*$)`)

// extractNumberedList pulls the entries of a numbered list ("1. ..." or
// "1) ...") out of a paragraph, one entry per line.
func extractNumberedList(paragraph string) []string {
	var entries []string
	for _, line := range strings.Split(paragraph, "\n") {
		m := numberedItemRe.FindStringSubmatch(line)
		if m != nil {
			entries = append(entries, strings.TrimSpace(m[1]))
		}
	}
	return entries
}
