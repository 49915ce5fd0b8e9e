package llmjson

import "strings"

// NeedsRepair reports whether candidate looks cut off. truncated carries the
// model's own signal (finish reason MAX_TOKENS or length).
//
// Bracket counts are plain substring counts: brackets inside string values
// are counted too.
func NeedsRepair(candidate string, truncated bool) bool {
	if truncated {
		return true
	}
	t := strings.TrimSpace(candidate)
	if !strings.HasSuffix(t, "]") && !strings.HasSuffix(t, "}") {
		return true
	}
	return strings.Count(t, "[") != strings.Count(t, "]") ||
		strings.Count(t, "{") != strings.Count(t, "}")
}

// RepairTruncated closes a structure the model stopped emitting halfway.
//
// A trailing comma is dropped, then missing closers are appended: every open
// '{' gets a '}' and, when an array is still open, a single ']' follows. Only
// the outermost array is closed, and a string literal cut in half is left as
// is, so the result is not guaranteed to parse. When it does parse, a record
// the model was in the middle of writing may be kept with missing fields.
func RepairTruncated(candidate string) string {
	t := strings.TrimSpace(candidate)
	t = strings.TrimRight(strings.TrimSuffix(t, ","), " \t\r\n")

	openBraces := strings.Count(t, "{") - strings.Count(t, "}")
	openBrackets := strings.Count(t, "[") - strings.Count(t, "]")

	var sb strings.Builder
	sb.WriteString(t)
	switch {
	case openBrackets > 0:
		if openBraces > 0 {
			sb.WriteString(strings.Repeat("}", openBraces))
		}
		sb.WriteString("]")
	case openBraces > 0:
		sb.WriteString(strings.Repeat("}", openBraces))
	}
	return sb.String()
}
