package openrouter

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fenceRe matches a complete markdown code fence (``` or ~~~) with an
// optional language tag and captures the body between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches a lone opening fence line, for responses truncated
// before the closing fence.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// ExtractObject pulls a JSON object out of model output. It tries, in order:
// the trimmed text as-is, the text with markdown fences stripped, and finally
// the first balanced top-level object found by scanning. It returns nil when
// no valid object exists; callers treat nil as "no usable output".
func ExtractObject(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if raw := validObject(s); raw != nil {
		return raw
	}
	if raw := validObject(stripFences(s)); raw != nil {
		return raw
	}
	return scanObject(s)
}

// validObject returns s as a RawMessage if it is exactly one JSON object.
func validObject(s string) json.RawMessage {
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// scanObject walks s for the first '{' and returns the shortest balanced
// object starting there, tracking string literals and escapes so braces
// inside strings do not count.
func scanObject(s string) json.RawMessage {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return validObject(s[start : i+1])
			}
		}
	}
	return nil
}
